package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Telegram TelegramConfig
	API      APIConfig
	Reward   RewardConfig
	Database DatabaseConfig
	App      AppConfig
}

// TelegramConfig содержит настройки Telegram бота
type TelegramConfig struct {
	BotToken string
}

// APIConfig содержит настройки внешнего API подтверждений
type APIConfig struct {
	Key string
}

// RewardConfig содержит таблицу вознаграждений
type RewardConfig struct {
	SignupAmount    decimal.Decimal
	PurchaseAmount  decimal.Decimal
	PurchaseMode    string // fixed или percent
	PurchasePercent decimal.Decimal
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

type AppConfig struct {
	Env      string
	LogLevel string
	Port     int
}

const (
	PurchaseModeFixed   = "fixed"
	PurchaseModePercent = "percent"
)

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	// API
	cfg.API.Key = os.Getenv("REFERRALS_API_KEY")

	// Rewards
	cfg.Reward.SignupAmount = getEnvDecimalDefault("REWARD_SIGNUP_AMOUNT", decimal.NewFromInt(2))
	cfg.Reward.PurchaseAmount = getEnvDecimalDefault("REWARD_PURCHASE_AMOUNT", decimal.NewFromInt(5))
	cfg.Reward.PurchaseMode = getEnvDefault("REWARD_PURCHASE_MODE", PurchaseModeFixed)
	cfg.Reward.PurchasePercent = getEnvDecimalDefault("REWARD_PURCHASE_PERCENT", decimal.NewFromInt(10))

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvDecimalDefault(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации.
// Отсутствие обязательных параметров — фатальная ошибка запуска:
// ядро не должно стартовать без учетных данных.
func validateConfig(config *Config) error {
	if config.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN не установлен")
	}
	if config.API.Key == "" {
		return fmt.Errorf("REFERRALS_API_KEY не установлен")
	}
	if config.Database.Host == "" {
		return fmt.Errorf("DB_HOST не установлен")
	}
	if config.Database.User == "" {
		return fmt.Errorf("DB_USER не установлен")
	}
	if config.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD не установлен")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("DB_NAME не установлен")
	}
	if config.Reward.PurchaseMode != PurchaseModeFixed && config.Reward.PurchaseMode != PurchaseModePercent {
		return fmt.Errorf("поддерживаются только REWARD_PURCHASE_MODE: fixed, percent")
	}
	if config.Reward.SignupAmount.IsNegative() || config.Reward.PurchaseAmount.IsNegative() {
		return fmt.Errorf("суммы вознаграждений не могут быть отрицательными")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
