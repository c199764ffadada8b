package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Устанавливаем переменные окружения для теста
	os.Setenv("TELEGRAM_BOT_TOKEN", "test_token")
	os.Setenv("REFERRALS_API_KEY", "test_api_key")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_USER", "test_user")
	os.Setenv("DB_PASSWORD", "test_password")
	os.Setenv("DB_NAME", "test_db")

	// Загружаем конфигурацию
	cfg, err := Load()

	// Проверяем, что конфигурация загружена без ошибок
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	// Проверяем значения
	assert.Equal(t, "test_token", cfg.Telegram.BotToken)
	assert.Equal(t, "test_api_key", cfg.API.Key)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "test_user", cfg.Database.User)
	assert.Equal(t, "test_password", cfg.Database.Password)
	assert.Equal(t, "test_db", cfg.Database.Name)

	// Проверяем значения по умолчанию
	assert.True(t, cfg.Reward.SignupAmount.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.Reward.PurchaseAmount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, PurchaseModeFixed, cfg.Reward.PurchaseMode)
	assert.True(t, cfg.Reward.PurchasePercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 8080, cfg.App.Port)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "test_user",
		Password: "test_password",
		Name:     "test_db",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()
	expected := "host=localhost port=5432 user=test_user password=test_password dbname=test_db sslmode=disable"
	assert.Equal(t, expected, dsn)
}

func TestAppConfigMethods(t *testing.T) {
	cfg := &AppConfig{
		Env:      "development",
		LogLevel: "debug",
	}

	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestValidateConfig(t *testing.T) {
	// Тест с пустыми обязательными полями
	cfg := &Config{}
	err := validateConfig(cfg)
	assert.Error(t, err)

	// Тест с корректной конфигурацией
	cfg = &Config{
		Telegram: TelegramConfig{
			BotToken: "test_token",
		},
		API: APIConfig{
			Key: "test_key",
		},
		Reward: RewardConfig{
			SignupAmount:   decimal.NewFromInt(2),
			PurchaseAmount: decimal.NewFromInt(5),
			PurchaseMode:   PurchaseModeFixed,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "test_user",
			Password: "test_password",
			Name:     "test_db",
		},
	}
	err = validateConfig(cfg)
	assert.NoError(t, err)

	// Неизвестный режим вознаграждения за покупку
	cfg.Reward.PurchaseMode = "bonus"
	err = validateConfig(cfg)
	assert.Error(t, err)

	// Отрицательная сумма вознаграждения
	cfg.Reward.PurchaseMode = PurchaseModePercent
	cfg.Reward.SignupAmount = decimal.NewFromInt(-1)
	err = validateConfig(cfg)
	assert.Error(t, err)
}
