package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-rewards/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresIdentityRepository реализует IdentityRepository для PostgreSQL
type PostgresIdentityRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewIdentityRepository создает новый репозиторий привлеченных пользователей
func NewIdentityRepository(db *pgxpool.Pool, logger *zap.Logger) IdentityRepository {
	return &PostgresIdentityRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIfAbsent создает запись привлеченного пользователя, если ее еще нет.
// Единственный источник истины — уникальный индекс (integration, external_user_id):
// при конфликте вставка не выполняется и возвращается уже существующая запись.
func (r *PostgresIdentityRepository) CreateIfAbsent(ctx context.Context, user *models.ReferredUser) (*models.ReferredUser, bool, error) {
	query := `
		INSERT INTO referred_users (integration, external_user_id, username, referral_code, referrer_id, attributed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (integration, external_user_id) DO NOTHING
		RETURNING id`

	now := time.Now()
	user.AttributedAt = now
	user.CreatedAt = now

	err := r.db.QueryRow(ctx, query,
		user.Integration, user.ExternalUserID, user.Username,
		user.ReferralCode, user.ReferrerID, user.AttributedAt, user.CreatedAt,
	).Scan(&user.ID)

	if err == nil {
		r.logger.Info("привлеченный пользователь создан",
			zap.Int64("user_id", user.ID),
			zap.String("external_user_id", user.ExternalUserID),
			zap.Bool("organic", user.IsOrganic()))
		return user, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ошибка создания привлеченного пользователя: %w", err)
	}

	// Вставка проиграла гонку или пользователь уже существовал:
	// возвращаем запись победителя
	existing, err := r.GetByExternalID(ctx, user.Integration, user.ExternalUserID)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения существующего пользователя: %w", err)
	}

	return existing, false, nil
}

// GetByExternalID получает пользователя по внешнему идентификатору интеграции
func (r *PostgresIdentityRepository) GetByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferredUser, error) {
	query := `
		SELECT id, integration, external_user_id, username, referral_code, referrer_id, attributed_at, created_at
		FROM referred_users
		WHERE integration = $1 AND external_user_id = $2`

	user := &models.ReferredUser{}
	err := r.db.QueryRow(ctx, query, integration, externalUserID).Scan(
		&user.ID, &user.Integration, &user.ExternalUserID, &user.Username,
		&user.ReferralCode, &user.ReferrerID, &user.AttributedAt, &user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь %s/%s: %w", integration, externalUserID, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения пользователя по внешнему ID: %w", err)
	}

	return user, nil
}

// GetByID получает пользователя по внутреннему ID
func (r *PostgresIdentityRepository) GetByID(ctx context.Context, id int64) (*models.ReferredUser, error) {
	query := `
		SELECT id, integration, external_user_id, username, referral_code, referrer_id, attributed_at, created_at
		FROM referred_users
		WHERE id = $1`

	user := &models.ReferredUser{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Integration, &user.ExternalUserID, &user.Username,
		&user.ReferralCode, &user.ReferrerID, &user.AttributedAt, &user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь с ID %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения пользователя по ID: %w", err)
	}

	return user, nil
}

// CountByReferrer подсчитывает количество пользователей, привлеченных реферером
func (r *PostgresIdentityRepository) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	query := `SELECT COUNT(*) FROM referred_users WHERE referrer_id = $1`

	var count int
	err := r.db.QueryRow(ctx, query, referrerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета привлеченных пользователей: %w", err)
	}

	return count, nil
}
