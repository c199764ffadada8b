package store

import (
	"context"
	"errors"
	"fmt"

	"referral-rewards/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresRewardRepository реализует RewardRepository для PostgreSQL
type PostgresRewardRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewRewardRepository создает новый репозиторий балансов
func NewRewardRepository(db *pgxpool.Pool, logger *zap.Logger) RewardRepository {
	return &PostgresRewardRepository{
		db:     db,
		logger: logger,
	}
}

// GetBalance получает накопленный баланс реферера.
// Для реферера без начислений возвращается нулевой баланс.
func (r *PostgresRewardRepository) GetBalance(ctx context.Context, referrerID int64) (*models.RewardBalance, error) {
	query := `
		SELECT referrer_id, balance::text, signup_count, purchase_count, updated_at
		FROM reward_balances
		WHERE referrer_id = $1`

	balance := &models.RewardBalance{}
	var raw string
	err := r.db.QueryRow(ctx, query, referrerID).Scan(
		&balance.ReferrerID, &raw, &balance.SignupCount, &balance.PurchaseCount, &balance.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.RewardBalance{
				ReferrerID: referrerID,
				Balance:    decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	balance.Balance, err = decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора баланса: %w", err)
	}

	return balance, nil
}

// Reconcile сверяет инкрементальные счетчики балансов с журналом событий.
// Счетчики никогда не переписываются автоматически: расхождение — сигнал
// для оператора, а не повод для тихой коррекции.
func (r *PostgresRewardRepository) Reconcile(ctx context.Context) ([]models.BalanceDrift, error) {
	query := `
		SELECT b.referrer_id,
		       COALESCE(e.signups, 0),
		       COALESCE(e.purchases, 0),
		       b.signup_count,
		       b.purchase_count
		FROM reward_balances b
		LEFT JOIN (
			SELECT ru.referrer_id,
			       COUNT(*) FILTER (WHERE ev.kind = 'signup')   AS signups,
			       COUNT(*) FILTER (WHERE ev.kind = 'purchase') AS purchases
			FROM events ev
			JOIN referred_users ru ON ru.id = ev.referred_user_id
			WHERE ru.referrer_id IS NOT NULL
			GROUP BY ru.referrer_id
		) e ON e.referrer_id = b.referrer_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки балансов: %w", err)
	}
	defer rows.Close()

	var drifts []models.BalanceDrift
	for rows.Next() {
		var d models.BalanceDrift
		err := rows.Scan(&d.ReferrerID, &d.LedgerSignups, &d.LedgerPurchases, &d.CounterSignups, &d.CounterPurchases)
		if err != nil {
			r.logger.Error("ошибка сканирования строки сверки", zap.Error(err))
			continue
		}
		drifts = append(drifts, d)
	}

	return drifts, nil
}
