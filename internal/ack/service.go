package ack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"referral-rewards/internal/attribution"
	"referral-rewards/internal/ledger"
	"referral-rewards/internal/store"
	"referral-rewards/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// KeyTimeBucket определяет окно, внутри которого одинаковые подтверждения
// без явного ключа считаются одним событием. Минуты достаточно, чтобы
// схлопнуть сетевые ретраи, но не потерять повторную покупку позже.
const KeyTimeBucket = time.Minute

// Service реализует API подтверждений: принимает событие от приложения,
// разрешает пользователя, выводит ключ идемпотентности и делегирует
// журналу событий. Бизнес-отказы возвращаются как Success=false;
// наружу поднимаются только инфраструктурные ошибки.
type Service struct {
	attribution *attribution.Service
	ledger      *ledger.Service
	identity    store.IdentityRepository
	logger      *zap.Logger
}

// NewService создает новый сервис подтверждений
func NewService(attributionService *attribution.Service, ledgerService *ledger.Service, identity store.IdentityRepository, logger *zap.Logger) *Service {
	return &Service{
		attribution: attributionService,
		ledger:      ledgerService,
		identity:    identity,
		logger:      logger,
	}
}

// Ack подтверждает событие. Пользователь, никогда не присылавший /start,
// создается органическим на месте: покупки в обход deep-link не теряются.
func (s *Service) Ack(ctx context.Context, req *models.AckRequest) (*models.AckResult, error) {
	if req.UserID == "" {
		return &models.AckResult{Success: false, Error: "userId обязателен"}, nil
	}
	if !req.Action.IsValid() {
		return &models.AckResult{Success: false, Error: fmt.Sprintf("неизвестное действие: %s", req.Action)}, nil
	}
	if req.Action == models.EventKindPurchase && (req.Amount == nil || !req.Amount.IsPositive()) {
		return &models.AckResult{Success: false, Error: "сумма покупки должна быть положительной"}, nil
	}

	user, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}

	occurredAt := time.Now()
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveKey(models.IntegrationTelegram, req.UserID, req.Action, req.Amount, occurredAt)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	event := &models.Event{
		IdempotencyKey: key,
		ReferredUserID: user.ID,
		Kind:           req.Action,
		Amount:         req.Amount,
		OccurredAt:     occurredAt,
		RawPayload:     payload,
	}

	result, err := s.ledger.Record(ctx, event)
	if err != nil {
		if errors.Is(err, ledger.ErrValidation) {
			return &models.AckResult{Success: false, Error: err.Error()}, nil
		}
		return nil, fmt.Errorf("ошибка записи подтверждения: %w", err)
	}

	s.logger.Info("подтверждение обработано",
		zap.String("user_id", req.UserID),
		zap.String("action", string(req.Action)),
		zap.Bool("duplicate", result.Duplicate))

	return &models.AckResult{
		Success:   true,
		Duplicate: result.Duplicate,
	}, nil
}

// resolveUser находит привлеченного пользователя или создает органического
func (s *Service) resolveUser(ctx context.Context, req *models.AckRequest) (*models.ReferredUser, error) {
	user, err := s.identity.GetByExternalID(ctx, models.IntegrationTelegram, req.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}

	result, err := s.attribution.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: req.UserID,
		Username:       req.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания органического пользователя: %w", err)
	}

	s.logger.Info("создан органический пользователь по подтверждению",
		zap.String("external_user_id", req.UserID),
		zap.Int64("user_id", result.User.ID))

	return result.User, nil
}

// DeriveKey детерминированно выводит ключ идемпотентности из видимых
// вызывающей стороне полей, когда явный ключ не передан. Время округляется
// до бакета, чтобы ретраи одного вызова давали один и тот же ключ.
func DeriveKey(integration models.Integration, userID string, action models.EventKind, amount *decimal.Decimal, at time.Time) string {
	amountPart := ""
	if amount != nil {
		amountPart = amount.String()
	}

	bucket := at.UTC().Truncate(KeyTimeBucket).Format(time.RFC3339)

	h := sha256.Sum256([]byte(strings.Join([]string{
		string(integration), userID, string(action), amountPart, bucket,
	}, "|")))

	return hex.EncodeToString(h[:])
}
