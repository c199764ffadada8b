package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-rewards/internal/reward"
	"referral-rewards/internal/store"
	"referral-rewards/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ошибки валидации событий. Все они оборачивают ErrValidation:
// вызывающая сторона отличает ошибку своего запроса от инфраструктурного
// сбоя через errors.Is и не повторяет такие запросы.
var (
	ErrValidation          = errors.New("некорректное событие")
	ErrEmptyIdempotencyKey = fmt.Errorf("%w: пустой ключ идемпотентности", ErrValidation)
	ErrUnknownKind         = fmt.Errorf("%w: неизвестный тип события", ErrValidation)
	ErrUnknownReferredUser = fmt.Errorf("%w: неизвестный привлеченный пользователь", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: сумма покупки должна быть положительной", ErrValidation)
)

// Service ведет append-only журнал вознаграждаемых событий.
// Повторная запись события с известным ключом идемпотентности — не ошибка:
// она возвращает исходный результат и не меняет начисления, что делает
// сетевые ретраи вызывающей стороны безопасными.
type Service struct {
	identityRepo store.IdentityRepository
	eventRepo    store.EventRepository
	rewards      *reward.Service
	logger       *zap.Logger
}

// NewService создает новый сервис журнала событий
func NewService(identityRepo store.IdentityRepository, eventRepo store.EventRepository, rewards *reward.Service, logger *zap.Logger) *Service {
	return &Service{
		identityRepo: identityRepo,
		eventRepo:    eventRepo,
		rewards:      rewards,
		logger:       logger,
	}
}

// Record записывает событие в журнал. При первой записи ключа выполняется
// атомарная вставка вместе с начислением; при повторе возвращается
// Accepted=true, Duplicate=true с исходным событием.
func (s *Service) Record(ctx context.Context, event *models.Event) (*models.RecordResult, error) {
	if err := s.validate(event); err != nil {
		return nil, err
	}

	user, err := s.identityRepo.GetByID(ctx, event.ReferredUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrUnknownReferredUser, event.ReferredUserID)
		}
		return nil, fmt.Errorf("ошибка разрешения пользователя: %w", err)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	credit := s.rewards.Delta(event, user)

	inserted, err := s.eventRepo.Record(ctx, event, credit)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи события: %w", err)
	}

	if !inserted {
		original, err := s.eventRepo.GetByIdempotencyKey(ctx, event.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения исходного события: %w", err)
		}

		s.logger.Info("повтор события схлопнут по ключу идемпотентности",
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.String("event_id", original.ID))

		return &models.RecordResult{
			Accepted:  true,
			Duplicate: true,
			Event:     original,
		}, nil
	}

	return &models.RecordResult{
		Accepted:  true,
		Duplicate: false,
		Event:     event,
	}, nil
}

// validate проверяет событие до обращения к хранилищу
func (s *Service) validate(event *models.Event) error {
	if event.IdempotencyKey == "" {
		return ErrEmptyIdempotencyKey
	}
	if !event.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, event.Kind)
	}
	if event.Kind == models.EventKindPurchase {
		if event.Amount == nil || !event.Amount.IsPositive() {
			return ErrInvalidAmount
		}
	}

	return nil
}
