package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"referral-rewards/internal/ack"
	"referral-rewards/internal/attribution"
	"referral-rewards/internal/metrics"
	"referral-rewards/internal/reward"
	"referral-rewards/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// Лимиты безопасности
	MaxUsernameLength = 32 // Максимальная длина username
)

// ErrAlreadyRegistered возвращается при повторной регистрации адаптера.
// Привязка к потоку обновлений выполняется не более одного раза на
// экземпляр: повторный вызов — ошибка конфигурации вызывающего кода.
var ErrAlreadyRegistered = errors.New("адаптер уже зарегистрирован")

// Adapter привязывает поток команд Telegram к ядру реферальной системы
type Adapter struct {
	bot         *tgbotapi.BotAPI
	attribution *attribution.Service
	ackService  *ack.Service
	rewards     *reward.Service
	messages    *Messages
	logger      *zap.Logger
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	registered  atomic.Bool
	botUsername string
}

// NewAdapter создает новый адаптер интеграции
func NewAdapter(
	botAPI *tgbotapi.BotAPI,
	attributionService *attribution.Service,
	ackService *ack.Service,
	rewardService *reward.Service,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Adapter {
	return &Adapter{
		bot:         botAPI,
		attribution: attributionService,
		ackService:  ackService,
		rewards:     rewardService,
		messages:    NewMessages(),
		logger:      logger,
		metrics:     m,
		rateLimiter: NewRateLimiter(),
	}
}

// Register подписывает адаптер на поток обновлений бота.
// Ошибка учетных данных возвращается сразу — вызывающий код обязан
// считать ее фатальной на старте. Повторный вызов на том же экземпляре
// возвращает ErrAlreadyRegistered и не подписывается второй раз.
func (a *Adapter) Register(ctx context.Context) error {
	if !a.registered.CompareAndSwap(false, true) {
		return ErrAlreadyRegistered
	}

	botInfo, err := a.bot.GetMe()
	if err != nil {
		a.registered.Store(false)
		return fmt.Errorf("ошибка проверки учетных данных бота: %w", err)
	}
	a.botUsername = botInfo.UserName

	a.logger.Info("Telegram бот зарегистрирован",
		zap.String("username", botInfo.UserName),
		zap.Int64("id", botInfo.ID))

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := a.bot.GetUpdatesChan(updateConfig)

	go a.handleUpdates(ctx, updates)

	return nil
}

// handleUpdates обрабатывает обновления от Telegram
func (a *Adapter) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case update := <-updates:
			// Пропускаем все, кроме команд
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Обрабатываем обновление в горутине
			go func(update tgbotapi.Update) {
				if err := a.HandleUpdate(ctx, update); err != nil {
					a.logger.Error("ошибка обработки обновления",
						zap.Int64("chat_id", update.Message.Chat.ID),
						zap.Error(err))
				}
			}(update)

		case <-ctx.Done():
			a.logger.Info("остановка обработки обновлений")
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// HandleUpdate обрабатывает входящее обновление
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	message := update.Message

	// Проверяем rate limit
	if !a.rateLimiter.IsAllowed(message.From.ID) {
		a.logger.Warn("rate limit exceeded", zap.Int64("user_id", message.From.ID))
		return a.sendMessage(message.Chat.ID, a.messages.RateLimited())
	}

	a.logger.Debug("получена команда",
		zap.Int64("chat_id", message.Chat.ID),
		zap.String("command", message.Command()),
		zap.String("username", message.From.UserName))

	switch message.Command() {
	case "start":
		return a.handleStartCommand(ctx, message)
	case "buy":
		return a.handleBuyCommand(ctx, message)
	case "link":
		return a.handleLinkCommand(ctx, message)
	case "stats":
		return a.handleStatsCommand(ctx, message)
	case "help":
		return a.sendMessage(message.Chat.ID, a.messages.Help())
	default:
		return a.sendMessage(message.Chat.ID, a.messages.UnknownCommand())
	}
}

// handleStartCommand обрабатывает команду /start с опциональным реферальным кодом
func (a *Adapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	event := &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: strconv.FormatInt(message.From.ID, 10),
		Username:       a.displayName(message),
		StartArgument:  message.CommandArguments(),
	}

	result, err := a.attributeStart(ctx, event)
	if err != nil {
		a.logger.Error("ошибка атрибуции",
			zap.Error(err),
			zap.String("external_user_id", event.ExternalUserID))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	if !result.User.IsOrganic() {
		return a.sendMessage(message.Chat.ID, a.messages.WelcomeReferred(event.Username))
	}
	return a.sendMessage(message.Chat.ID, a.messages.Welcome(event.Username))
}

// attributeStart выполняет атрибуцию входящего /start и для впервые
// привлеченного пользователя подтверждает событие регистрации,
// начисляющее рефереру вознаграждение за signup
func (a *Adapter) attributeStart(ctx context.Context, event *models.StartEvent) (*models.AttributionResult, error) {
	result, err := a.attribution.Attribute(ctx, event)
	if err != nil {
		return nil, err
	}

	a.metrics.RecordAttribution(attributionOutcome(result))

	if result.Created && !result.User.IsOrganic() {
		a.acknowledgeSignup(ctx, event)
	}

	return result, nil
}

// acknowledgeSignup записывает событие регистрации привлеченного пользователя.
// Ключ идемпотентности детерминирован по пользователю: повторная обработка
// одного /start не начисляет вознаграждение второй раз.
func (a *Adapter) acknowledgeSignup(ctx context.Context, event *models.StartEvent) {
	result, err := a.ackService.Ack(ctx, &models.AckRequest{
		UserID:         event.ExternalUserID,
		Username:       event.Username,
		Action:         models.EventKindSignup,
		IdempotencyKey: fmt.Sprintf("signup-%s-%s", event.Integration, event.ExternalUserID),
	})
	if err != nil {
		a.logger.Error("ошибка подтверждения регистрации",
			zap.Error(err),
			zap.String("external_user_id", event.ExternalUserID))
		return
	}

	a.metrics.RecordEvent(string(models.EventKindSignup), eventResult(result))
}

// handleBuyCommand обрабатывает команду /buy — симуляцию покупки
func (a *Adapter) handleBuyCommand(ctx context.Context, message *tgbotapi.Message) error {
	amount, err := decimal.NewFromString(message.CommandArguments())
	if err != nil || !amount.IsPositive() {
		return a.sendMessage(message.Chat.ID, a.messages.InvalidAmount())
	}

	result, err := a.ackService.Ack(ctx, &models.AckRequest{
		UserID:   strconv.FormatInt(message.From.ID, 10),
		Username: a.displayName(message),
		Action:   models.EventKindPurchase,
		Amount:   &amount,
	})
	if err != nil {
		// Инфраструктурный сбой: логируем и предлагаем повторить,
		// ретрай безопасен благодаря идемпотентности записи
		a.logger.Error("ошибка подтверждения покупки",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	a.metrics.RecordEvent(string(models.EventKindPurchase), eventResult(result))

	if !result.Success {
		return a.sendMessage(message.Chat.ID, a.messages.PurchaseFailed(result.Error))
	}
	if result.Duplicate {
		return a.sendMessage(message.Chat.ID, a.messages.PurchaseDuplicate())
	}
	return a.sendMessage(message.Chat.ID, a.messages.PurchaseAccepted(amount.StringFixed(2)))
}

// handleLinkCommand выдает пользователю его реферальную ссылку
func (a *Adapter) handleLinkCommand(ctx context.Context, message *tgbotapi.Message) error {
	referrer, err := a.rewards.GetOrCreateReferrer(
		ctx, models.IntegrationTelegram,
		strconv.FormatInt(message.From.ID, 10),
		a.displayName(message),
	)
	if err != nil {
		a.logger.Error("ошибка регистрации реферера", zap.Error(err))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	code, err := a.rewards.GetOrIssueCode(ctx, referrer.ID)
	if err != nil {
		a.logger.Error("ошибка выпуска реферального кода", zap.Error(err))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	link := a.rewards.ReferralLink(code, a.botUsername)
	return a.sendMessage(message.Chat.ID, a.messages.ReferralLink(link))
}

// handleStatsCommand показывает статистику реферера
func (a *Adapter) handleStatsCommand(ctx context.Context, message *tgbotapi.Message) error {
	referrer, err := a.rewards.GetOrCreateReferrer(
		ctx, models.IntegrationTelegram,
		strconv.FormatInt(message.From.ID, 10),
		a.displayName(message),
	)
	if err != nil {
		a.logger.Error("ошибка регистрации реферера", zap.Error(err))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	stats, err := a.rewards.Stats(ctx, referrer.ID)
	if err != nil {
		a.logger.Error("ошибка получения статистики", zap.Error(err))
		return a.sendMessage(message.Chat.ID, a.messages.RetryLater())
	}

	return a.sendMessage(message.Chat.ID, a.messages.Stats(stats.ReferredCount, stats.PurchaseCount, stats.Balance))
}

// sendMessage отправляет текстовое сообщение в чат
func (a *Adapter) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("ошибка отправки сообщения: %w", err)
	}
	return nil
}

// displayName возвращает имя пользователя для отображения и записи
func (a *Adapter) displayName(message *tgbotapi.Message) string {
	name := message.From.UserName
	if name == "" {
		name = message.From.FirstName
	}
	// Обрезаем по рунам: срез байтов мог бы разрезать кириллицу посередине
	if runes := []rune(name); len(runes) > MaxUsernameLength {
		name = string(runes[:MaxUsernameLength])
	}
	return name
}

// attributionOutcome определяет метку метрики по результату атрибуции
func attributionOutcome(result *models.AttributionResult) string {
	switch {
	case !result.Created:
		return "existing"
	case result.User.IsOrganic():
		return "organic"
	default:
		return "created"
	}
}

// eventResult определяет метку метрики по результату подтверждения
func eventResult(result *models.AckResult) string {
	switch {
	case !result.Success:
		return "rejected"
	case result.Duplicate:
		return "duplicate"
	default:
		return "accepted"
	}
}
