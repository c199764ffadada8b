package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral-rewards/internal/ack"
	"referral-rewards/internal/api"
	"referral-rewards/internal/attribution"
	"referral-rewards/internal/bot"
	"referral-rewards/internal/config"
	"referral-rewards/internal/ledger"
	"referral-rewards/internal/metrics"
	"referral-rewards/internal/migrations"
	"referral-rewards/internal/reward"
	"referral-rewards/internal/scheduler"
	"referral-rewards/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск сервиса реферальных вознаграждений")

	// Загрузка конфигурации: отсутствие учетных данных фатально до
	// запуска любых компонентов ядра
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	// Инициализация базы данных
	db, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer db.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация сервисов ядра
	attributionService := attribution.NewService(db.Identity(), db.Codes(), logger)
	rewardService := reward.NewService(cfg.Reward, db.Codes(), db.Identity(), db.Rewards(), logger)
	ledgerService := ledger.NewService(db.Identity(), db.Events(), rewardService, logger)
	ackService := ack.NewService(attributionService, ledgerService, db.Identity(), logger)

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	// Инициализация Telegram бота
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
	}

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Регистрация адаптера: привязка к потоку /start выполняется один раз,
	// ошибка учетных данных фатальна на старте
	adapter := bot.NewAdapter(botAPI, attributionService, ackService, rewardService, metricsSystem, logger)
	if err := adapter.Register(ctx); err != nil {
		logger.Fatal("ошибка регистрации бота", zap.Error(err))
	}

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(scheduler.NewReconcileJob(db.Rewards(), metricsSystem, logger))

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск HTTP сервера для API и метрик
	apiHandler := api.NewHandler(ackService, rewardService, metricsSystem, cfg.API.Key, logger)
	go startHTTPServer(ctx, cfg.App.Port, metricsHandler, apiHandler, logger)

	// Запуск планировщика задач (каждый час)
	go taskScheduler.Start(ctx, time.Hour)

	logger.Info("сервис запущен и готов к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
	)

	// Ожидание сигнала завершения
	<-sigChan
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	cancel()
	logger.Info("сервис завершен")
}

// initLogger инициализирует логгер
func initLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}

// startHTTPServer запускает HTTP сервер для метрик и API подтверждений
func startHTTPServer(ctx context.Context, port int, metricsHandler *metrics.Handler, apiHandler *api.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler.MetricsHandler())
	mux.HandleFunc("/health", metricsHandler.HealthHandler)
	mux.HandleFunc("/api/ack", apiHandler.HandleAck)
	mux.HandleFunc("/api/balance", apiHandler.HandleBalance)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
