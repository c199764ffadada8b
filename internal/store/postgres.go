package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-rewards/internal/config"
	"referral-rewards/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound возвращается репозиториями, когда запись отсутствует
var ErrNotFound = errors.New("запись не найдена")

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Identity() IdentityRepository
	Codes() CodeRepository
	Events() EventRepository
	Rewards() RewardRepository
	DB() *pgxpool.Pool
	Close() error
}

// store реализует интерфейс Store
type store struct {
	db       *pgxpool.Pool
	logger   *zap.Logger
	identity IdentityRepository
	codes    CodeRepository
	events   EventRepository
	rewards  RewardRepository
}

// IdentityRepository интерфейс для работы с привлеченными пользователями.
// CreateIfAbsent обязан выполнять условную вставку атомарно: при гонке
// двух /start для одного пользователя ровно одна вставка выигрывает,
// проигравший получает запись победителя и created=false.
type IdentityRepository interface {
	CreateIfAbsent(ctx context.Context, user *models.ReferredUser) (*models.ReferredUser, bool, error)
	GetByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferredUser, error)
	GetByID(ctx context.Context, id int64) (*models.ReferredUser, error)
	CountByReferrer(ctx context.Context, referrerID int64) (int, error)
}

// CodeRepository интерфейс для работы с реферальными кодами и аккаунтами рефереров
type CodeRepository interface {
	CreateReferrerIfAbsent(ctx context.Context, account *models.ReferrerAccount) (*models.ReferrerAccount, bool, error)
	GetReferrerByID(ctx context.Context, id int64) (*models.ReferrerAccount, error)
	GetReferrerByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferrerAccount, error)
	Issue(ctx context.Context, code *models.ReferralCode) error
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetActiveByReferrerID(ctx context.Context, referrerID int64) (*models.ReferralCode, error)
	GenerateCode(ctx context.Context) (string, error)
}

// EventRepository интерфейс для работы с журналом событий.
// Record выполняет вставку события и начисление вознаграждения в одной
// транзакции; повтор idempotency_key не изменяет ни журнал, ни баланс.
type EventRepository interface {
	Record(ctx context.Context, event *models.Event, credit *models.RewardDelta) (bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Event, error)
}

// RewardRepository интерфейс для чтения накопленных балансов
type RewardRepository interface {
	GetBalance(ctx context.Context, referrerID int64) (*models.RewardBalance, error)
	Reconcile(ctx context.Context) ([]models.BalanceDrift, error)
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	// Создание пула
	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.identity = NewIdentityRepository(db, logger)
	s.codes = NewCodeRepository(db, logger)
	s.events = NewEventRepository(db, logger)
	s.rewards = NewRewardRepository(db, logger)

	return s, nil
}

// Identity возвращает репозиторий привлеченных пользователей
func (s *store) Identity() IdentityRepository {
	return s.identity
}

// Codes возвращает репозиторий реферальных кодов
func (s *store) Codes() CodeRepository {
	return s.codes
}

// Events возвращает репозиторий журнала событий
func (s *store) Events() EventRepository {
	return s.events
}

// Rewards возвращает репозиторий балансов
func (s *store) Rewards() RewardRepository {
	return s.rewards
}

// DB возвращает подключение к базе данных
func (s *store) DB() *pgxpool.Pool {
	return s.db
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}
