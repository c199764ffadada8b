package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-rewards/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresEventRepository реализует EventRepository для PostgreSQL
type PostgresEventRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewEventRepository создает новый репозиторий журнала событий
func NewEventRepository(db *pgxpool.Pool, logger *zap.Logger) EventRepository {
	return &PostgresEventRepository{
		db:     db,
		logger: logger,
	}
}

// Record записывает событие в журнал и начисляет вознаграждение в одной
// транзакции. Условная вставка по уникальному idempotency_key — не
// предварительная проверка: при гонке двух одинаковых событий
// ровно одна вставка выигрывает и ровно одно начисление выполняется.
// Возвращает false без изменения состояния, если ключ уже известен.
func (r *PostgresEventRepository) Record(ctx context.Context, event *models.Event, credit *models.RewardDelta) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	insertEvent := `
		INSERT INTO events (id, idempotency_key, referred_user_id, kind, amount, occurred_at, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at`

	event.CreatedAt = time.Now()

	var amount *string
	if event.Amount != nil {
		s := event.Amount.String()
		amount = &s
	}

	err = tx.QueryRow(ctx, insertEvent,
		event.ID, event.IdempotencyKey, event.ReferredUserID, event.Kind,
		amount, event.OccurredAt, event.RawPayload, event.CreatedAt,
	).Scan(&event.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Повтор известного idempotency_key: журнал и баланс не меняются
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи события: %w", err)
	}

	if credit != nil {
		signupInc, purchaseInc := 0, 0
		switch credit.Kind {
		case models.EventKindSignup:
			signupInc = 1
		case models.EventKindPurchase:
			purchaseInc = 1
		}

		applyCredit := `
			INSERT INTO reward_balances (referrer_id, balance, signup_count, purchase_count, updated_at)
			VALUES ($1, $2::numeric, $3, $4, $5)
			ON CONFLICT (referrer_id) DO UPDATE
			SET balance        = reward_balances.balance + EXCLUDED.balance,
			    signup_count   = reward_balances.signup_count + EXCLUDED.signup_count,
			    purchase_count = reward_balances.purchase_count + EXCLUDED.purchase_count,
			    updated_at     = EXCLUDED.updated_at`

		_, err = tx.Exec(ctx, applyCredit,
			credit.ReferrerID, credit.Amount.String(), signupInc, purchaseInc, time.Now())
		if err != nil {
			return false, fmt.Errorf("ошибка начисления вознаграждения: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("событие записано в журнал",
		zap.String("event_id", event.ID),
		zap.String("idempotency_key", event.IdempotencyKey),
		zap.String("kind", string(event.Kind)),
		zap.Bool("credited", credit != nil))

	return true, nil
}

// GetByIdempotencyKey получает событие по ключу идемпотентности
func (r *PostgresEventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	query := `
		SELECT id, idempotency_key, referred_user_id, kind, amount::text, occurred_at, raw_payload, created_at
		FROM events
		WHERE idempotency_key = $1`

	event := &models.Event{}
	var amount *string
	err := r.db.QueryRow(ctx, query, key).Scan(
		&event.ID, &event.IdempotencyKey, &event.ReferredUserID, &event.Kind,
		&amount, &event.OccurredAt, &event.RawPayload, &event.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("событие с ключом %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения события: %w", err)
	}

	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора суммы события: %w", err)
		}
		event.Amount = &d
	}

	return event, nil
}
