// Package storetest содержит in-memory реализацию репозиториев хранилища
// для тестов сервисов. Семантика условных вставок повторяет поведение
// уникальных индексов PostgreSQL.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"referral-rewards/internal/store"
	"referral-rewards/pkg/models"

	"github.com/shopspring/decimal"
)

// Store реализует все репозитории хранилища в памяти
type Store struct {
	mu sync.Mutex

	users     map[string]*models.ReferredUser // integration|external_user_id
	usersByID map[int64]*models.ReferredUser
	nextUser  int64

	referrers     map[string]*models.ReferrerAccount
	referrersByID map[int64]*models.ReferrerAccount
	nextReferrer  int64

	codes    map[string]*models.ReferralCode
	codeSeq  int
	events   map[string]*models.Event
	balances map[int64]*models.RewardBalance
}

// New создает новое in-memory хранилище
func New() *Store {
	return &Store{
		users:         make(map[string]*models.ReferredUser),
		usersByID:     make(map[int64]*models.ReferredUser),
		referrers:     make(map[string]*models.ReferrerAccount),
		referrersByID: make(map[int64]*models.ReferrerAccount),
		codes:         make(map[string]*models.ReferralCode),
		events:        make(map[string]*models.Event),
		balances:      make(map[int64]*models.RewardBalance),
	}
}

func userKey(integration models.Integration, externalUserID string) string {
	return string(integration) + "|" + externalUserID
}

// CreateIfAbsent реализует store.IdentityRepository
func (s *Store) CreateIfAbsent(ctx context.Context, user *models.ReferredUser) (*models.ReferredUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(user.Integration, user.ExternalUserID)
	if existing, ok := s.users[key]; ok {
		copied := *existing
		return &copied, false, nil
	}

	s.nextUser++
	user.ID = s.nextUser
	now := time.Now()
	user.AttributedAt = now
	user.CreatedAt = now

	stored := *user
	s.users[key] = &stored
	s.usersByID[user.ID] = &stored

	return user, true, nil
}

// GetByExternalID реализует store.IdentityRepository
func (s *Store) GetByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferredUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[userKey(integration, externalUserID)]
	if !ok {
		return nil, fmt.Errorf("пользователь %s/%s: %w", integration, externalUserID, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// GetByID реализует store.IdentityRepository
func (s *Store) GetByID(ctx context.Context, id int64) (*models.ReferredUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.usersByID[id]
	if !ok {
		return nil, fmt.Errorf("пользователь с ID %d: %w", id, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// CountByReferrer реализует store.IdentityRepository
func (s *Store) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, u := range s.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			count++
		}
	}
	return count, nil
}

// CreateReferrerIfAbsent реализует store.CodeRepository
func (s *Store) CreateReferrerIfAbsent(ctx context.Context, account *models.ReferrerAccount) (*models.ReferrerAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(account.Integration, account.ExternalUserID)
	if existing, ok := s.referrers[key]; ok {
		copied := *existing
		return &copied, false, nil
	}

	s.nextReferrer++
	account.ID = s.nextReferrer
	account.CreatedAt = time.Now()

	stored := *account
	s.referrers[key] = &stored
	s.referrersByID[account.ID] = &stored

	return account, true, nil
}

// GetReferrerByID реализует store.CodeRepository
func (s *Store) GetReferrerByID(ctx context.Context, id int64) (*models.ReferrerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.referrersByID[id]
	if !ok {
		return nil, fmt.Errorf("реферер с ID %d: %w", id, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// GetReferrerByExternalID реализует store.CodeRepository
func (s *Store) GetReferrerByExternalID(ctx context.Context, integration models.Integration, externalUserID string) (*models.ReferrerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.referrers[userKey(integration, externalUserID)]
	if !ok {
		return nil, fmt.Errorf("реферер %s/%s: %w", integration, externalUserID, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// Issue реализует store.CodeRepository
func (s *Store) Issue(ctx context.Context, code *models.ReferralCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code.Code]; ok {
		return fmt.Errorf("код %q уже существует", code.Code)
	}
	code.CreatedAt = time.Now()
	stored := *code
	s.codes[code.Code] = &stored
	return nil
}

// GetByCode реализует store.CodeRepository
func (s *Store) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("реферальный код %q: %w", code, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// GetActiveByReferrerID реализует store.CodeRepository
func (s *Store) GetActiveByReferrerID(ctx context.Context, referrerID int64) (*models.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.codes {
		if c.ReferrerID == referrerID && c.Active {
			copied := *c
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("действующий код реферера %d: %w", referrerID, store.ErrNotFound)
}

// GenerateCode реализует store.CodeRepository
func (s *Store) GenerateCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codeSeq++
	return fmt.Sprintf("CODE%04d", s.codeSeq), nil
}

// Record реализует store.EventRepository
func (s *Store) Record(ctx context.Context, event *models.Event, credit *models.RewardDelta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.IdempotencyKey]; ok {
		return false, nil
	}

	event.CreatedAt = time.Now()
	stored := *event
	s.events[event.IdempotencyKey] = &stored

	if credit != nil {
		balance, ok := s.balances[credit.ReferrerID]
		if !ok {
			balance = &models.RewardBalance{
				ReferrerID: credit.ReferrerID,
				Balance:    decimal.Zero,
			}
			s.balances[credit.ReferrerID] = balance
		}
		balance.Balance = balance.Balance.Add(credit.Amount)
		switch credit.Kind {
		case models.EventKindSignup:
			balance.SignupCount++
		case models.EventKindPurchase:
			balance.PurchaseCount++
		}
		balance.UpdatedAt = time.Now()
	}

	return true, nil
}

// GetByIdempotencyKey реализует store.EventRepository
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[key]
	if !ok {
		return nil, fmt.Errorf("событие с ключом %q: %w", key, store.ErrNotFound)
	}
	copied := *existing
	return &copied, nil
}

// GetBalance реализует store.RewardRepository
func (s *Store) GetBalance(ctx context.Context, referrerID int64) (*models.RewardBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.balances[referrerID]
	if !ok {
		return &models.RewardBalance{ReferrerID: referrerID, Balance: decimal.Zero}, nil
	}
	copied := *existing
	return &copied, nil
}

// Reconcile реализует store.RewardRepository
func (s *Store) Reconcile(ctx context.Context) ([]models.BalanceDrift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drifts []models.BalanceDrift
	for referrerID, balance := range s.balances {
		drift := models.BalanceDrift{
			ReferrerID:       referrerID,
			CounterSignups:   balance.SignupCount,
			CounterPurchases: balance.PurchaseCount,
		}
		for _, ev := range s.events {
			user, ok := s.usersByID[ev.ReferredUserID]
			if !ok || user.ReferrerID == nil || *user.ReferrerID != referrerID {
				continue
			}
			switch ev.Kind {
			case models.EventKindSignup:
				drift.LedgerSignups++
			case models.EventKindPurchase:
				drift.LedgerPurchases++
			}
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}
