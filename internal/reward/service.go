package reward

import (
	"context"
	"errors"
	"fmt"

	"referral-rewards/internal/config"
	"referral-rewards/internal/store"
	"referral-rewards/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service начисляет вознаграждения рефералам по таблице вознаграждений
// и обслуживает аккаунты рефереров
type Service struct {
	cfg          config.RewardConfig
	codeRepo     store.CodeRepository
	identityRepo store.IdentityRepository
	rewardRepo   store.RewardRepository
	logger       *zap.Logger
}

// NewService создает новый сервис вознаграждений
func NewService(cfg config.RewardConfig, codeRepo store.CodeRepository, identityRepo store.IdentityRepository, rewardRepo store.RewardRepository, logger *zap.Logger) *Service {
	return &Service{
		cfg:          cfg,
		codeRepo:     codeRepo,
		identityRepo: identityRepo,
		rewardRepo:   rewardRepo,
		logger:       logger,
	}
}

// Delta вычисляет начисление рефереру за принятое событие.
// Для органического пользователя начисления нет — возвращается nil.
// Вознаграждения монотонно растут: Delta никогда не бывает отрицательной.
func (s *Service) Delta(event *models.Event, user *models.ReferredUser) *models.RewardDelta {
	if user.IsOrganic() {
		return nil
	}

	var amount decimal.Decimal
	switch event.Kind {
	case models.EventKindSignup:
		amount = s.cfg.SignupAmount
	case models.EventKindPurchase:
		if s.cfg.PurchaseMode == config.PurchaseModePercent && event.Amount != nil {
			amount = event.Amount.Mul(s.cfg.PurchasePercent).Div(decimal.NewFromInt(100))
		} else {
			amount = s.cfg.PurchaseAmount
		}
	default:
		return nil
	}

	if amount.IsZero() {
		return nil
	}

	return &models.RewardDelta{
		ReferrerID: *user.ReferrerID,
		Amount:     amount,
		Kind:       event.Kind,
	}
}

// BalanceOf возвращает накопленный баланс реферера
func (s *Service) BalanceOf(ctx context.Context, referrerID int64) (decimal.Decimal, error) {
	balance, err := s.rewardRepo.GetBalance(ctx, referrerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	return balance.Balance, nil
}

// Stats возвращает статистику реферера. Количество привлеченных считается
// по записям атрибуции, а не по счетчику начислений: пользователь виден
// в статистике сразу после /start, еще до события регистрации.
func (s *Service) Stats(ctx context.Context, referrerID int64) (*models.ReferrerStats, error) {
	balance, err := s.rewardRepo.GetBalance(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}

	referred, err := s.identityRepo.CountByReferrer(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета привлеченных пользователей: %w", err)
	}

	return &models.ReferrerStats{
		ReferrerID:    referrerID,
		ReferredCount: referred,
		SignupCount:   balance.SignupCount,
		PurchaseCount: balance.PurchaseCount,
		Balance:       balance.Balance.StringFixed(2),
	}, nil
}

// GetOrCreateReferrer получает или создает аккаунт реферера
func (s *Service) GetOrCreateReferrer(ctx context.Context, integration models.Integration, externalUserID, username string) (*models.ReferrerAccount, error) {
	account := &models.ReferrerAccount{
		Integration:    integration,
		ExternalUserID: externalUserID,
		Username:       username,
	}

	created, createdNow, err := s.codeRepo.CreateReferrerIfAbsent(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания аккаунта реферера: %w", err)
	}

	if createdNow {
		s.logger.Info("зарегистрирован новый реферер",
			zap.Int64("referrer_id", created.ID),
			zap.String("external_user_id", externalUserID))
	}

	return created, nil
}

// GetOrIssueCode получает действующий код реферера или выпускает новый
func (s *Service) GetOrIssueCode(ctx context.Context, referrerID int64) (string, error) {
	existing, err := s.codeRepo.GetActiveByReferrerID(ctx, referrerID)
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("ошибка получения кода реферера: %w", err)
	}

	// Генерируем уникальный код с проверкой
	maxAttempts := 10
	var code string

	for attempt := 0; attempt < maxAttempts; attempt++ {
		generated, err := s.codeRepo.GenerateCode(ctx)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}

		_, err = s.codeRepo.GetByCode(ctx, generated)
		if errors.Is(err, store.ErrNotFound) {
			// Код уникален, можно использовать
			code = generated
			break
		}
		if err != nil {
			return "", fmt.Errorf("ошибка проверки уникальности кода: %w", err)
		}

		// Код уже существует, пробуем снова
		s.logger.Warn("сгенерированный код уже существует, пробуем снова",
			zap.String("code", generated),
			zap.Int("attempt", attempt+1))
	}

	if code == "" {
		return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxAttempts)
	}

	referralCode := &models.ReferralCode{
		Code:       code,
		ReferrerID: referrerID,
		Active:     true,
	}
	if err := s.codeRepo.Issue(ctx, referralCode); err != nil {
		return "", fmt.Errorf("ошибка выпуска кода: %w", err)
	}

	return code, nil
}

// ReferralLink формирует полную реферальную ссылку для Telegram
func (s *Service) ReferralLink(code, botUsername string) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%s", botUsername, code)
}
