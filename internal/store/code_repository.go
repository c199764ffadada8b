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

// PostgresCodeRepository реализует CodeRepository для PostgreSQL
type PostgresCodeRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewCodeRepository создает новый репозиторий реферальных кодов
func NewCodeRepository(db *pgxpool.Pool, logger *zap.Logger) CodeRepository {
	return &PostgresCodeRepository{
		db:     db,
		logger: logger,
	}
}

// CreateReferrerIfAbsent создает аккаунт реферера, если его еще нет
func (r *PostgresCodeRepository) CreateReferrerIfAbsent(ctx context.Context, account *models.ReferrerAccount) (*models.ReferrerAccount, bool, error) {
	query := `
		INSERT INTO referrer_accounts (integration, external_user_id, username, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (integration, external_user_id) DO NOTHING
		RETURNING id`

	account.CreatedAt = time.Now()

	err := r.db.QueryRow(ctx, query,
		account.Integration, account.ExternalUserID, account.Username, account.CreatedAt,
	).Scan(&account.ID)

	if err == nil {
		r.logger.Info("аккаунт реферера создан",
			zap.Int64("referrer_id", account.ID),
			zap.String("external_user_id", account.ExternalUserID))
		return account, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ошибка создания аккаунта реферера: %w", err)
	}

	existing, err := r.GetReferrerByExternalID(ctx, account.Integration, account.ExternalUserID)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения существующего реферера: %w", err)
	}

	return existing, false, nil
}

// GetReferrerByID получает аккаунт реферера по ID
func (r *PostgresCodeRepository) GetReferrerByID(ctx context.Context, id int64) (*models.ReferrerAccount, error) {
	query := `
		SELECT id, integration, external_user_id, username, created_at
		FROM referrer_accounts
		WHERE id = $1`

	account := &models.ReferrerAccount{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&account.ID, &account.Integration, &account.ExternalUserID, &account.Username, &account.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("реферер с ID %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}

	return account, nil
}

// GetReferrerByExternalID получает аккаунт реферера по внешнему идентификатору
func (r *PostgresCodeRepository) GetReferrerByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferrerAccount, error) {
	query := `
		SELECT id, integration, external_user_id, username, created_at
		FROM referrer_accounts
		WHERE integration = $1 AND external_user_id = $2`

	account := &models.ReferrerAccount{}
	err := r.db.QueryRow(ctx, query, integration, externalUserID).Scan(
		&account.ID, &account.Integration, &account.ExternalUserID, &account.Username, &account.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("реферер %s/%s: %w", integration, externalUserID, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения реферера по внешнему ID: %w", err)
	}

	return account, nil
}

// Issue выпускает новый реферальный код. Код неизменяем после выпуска:
// уникальность обеспечивается первичным ключом по code.
func (r *PostgresCodeRepository) Issue(ctx context.Context, code *models.ReferralCode) error {
	query := `
		INSERT INTO referral_codes (code, referrer_id, active, created_at)
		VALUES ($1, $2, $3, $4)`

	code.CreatedAt = time.Now()

	_, err := r.db.Exec(ctx, query, code.Code, code.ReferrerID, code.Active, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка выпуска реферального кода: %w", err)
	}

	r.logger.Info("реферальный код выпущен",
		zap.String("code", code.Code),
		zap.Int64("referrer_id", code.ReferrerID))

	return nil
}

// GetByCode получает реферальный код
func (r *PostgresCodeRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	query := `
		SELECT code, referrer_id, active, created_at
		FROM referral_codes
		WHERE code = $1`

	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, code).Scan(
		&rc.Code, &rc.ReferrerID, &rc.Active, &rc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("реферальный код %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения реферального кода: %w", err)
	}

	return rc, nil
}

// GetActiveByReferrerID получает действующий код реферера
func (r *PostgresCodeRepository) GetActiveByReferrerID(ctx context.Context, referrerID int64) (*models.ReferralCode, error) {
	query := `
		SELECT code, referrer_id, active, created_at
		FROM referral_codes
		WHERE referrer_id = $1 AND active = true
		ORDER BY created_at
		LIMIT 1`

	rc := &models.ReferralCode{}
	err := r.db.QueryRow(ctx, query, referrerID).Scan(
		&rc.Code, &rc.ReferrerID, &rc.Active, &rc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("действующий код реферера %d: %w", referrerID, ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения кода реферера: %w", err)
	}

	return rc, nil
}

// GenerateCode генерирует уникальный реферальный код
func (r *PostgresCodeRepository) GenerateCode(ctx context.Context) (string, error) {
	query := `SELECT generate_referral_code()`

	var code string
	err := r.db.QueryRow(ctx, query).Scan(&code)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
	}

	return code, nil
}
