package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind представляет тип вознаграждаемого события
type EventKind string

const (
	EventKindSignup   EventKind = "signup"
	EventKindPurchase EventKind = "purchase"
)

// IsValid проверяет валидность типа события
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindSignup, EventKindPurchase:
		return true
	default:
		return false
	}
}

// Event представляет запись в журнале вознаграждаемых событий.
// Журнал append-only: записи никогда не изменяются и не удаляются,
// дубликаты схлопываются по idempotency_key.
type Event struct {
	ID             string           `json:"id" db:"id"` // uuid
	IdempotencyKey string           `json:"idempotency_key" db:"idempotency_key"`
	ReferredUserID int64            `json:"referred_user_id" db:"referred_user_id"`
	Kind           EventKind        `json:"kind" db:"kind"`
	Amount         *decimal.Decimal `json:"amount,omitempty" db:"amount"` // только для purchase
	OccurredAt     time.Time        `json:"occurred_at" db:"occurred_at"`
	RawPayload     []byte           `json:"raw_payload,omitempty" db:"raw_payload"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// RecordResult представляет результат записи события в журнал.
// Duplicate=true означает повтор уже известного idempotency_key:
// это не ошибка, начисление при этом не выполняется повторно.
type RecordResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	Event     *Event `json:"event"`
}

// RewardDelta представляет начисление рефереру, выполняемое в одной
// транзакции со вставкой события
type RewardDelta struct {
	ReferrerID int64
	Amount     decimal.Decimal
	Kind       EventKind
}

// RewardBalance представляет накопленный баланс реферера.
// Счетчик поддерживается инкрементально и меняется только вместе
// со вставкой нового события.
type RewardBalance struct {
	ReferrerID    int64           `json:"referrer_id" db:"referrer_id"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	SignupCount   int             `json:"signup_count" db:"signup_count"`
	PurchaseCount int             `json:"purchase_count" db:"purchase_count"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// BalanceDrift представляет расхождение между счетчиками баланса
// и журналом событий, найденное сверкой
type BalanceDrift struct {
	ReferrerID       int64 `json:"referrer_id"`
	LedgerSignups    int   `json:"ledger_signups"`
	LedgerPurchases  int   `json:"ledger_purchases"`
	CounterSignups   int   `json:"counter_signups"`
	CounterPurchases int   `json:"counter_purchases"`
}

// InSync проверяет, совпадают ли счетчики с журналом
func (d *BalanceDrift) InSync() bool {
	return d.LedgerSignups == d.CounterSignups && d.LedgerPurchases == d.CounterPurchases
}

// AckRequest представляет запрос подтверждения события от приложения
type AckRequest struct {
	UserID         string           `json:"userId"`
	Username       string           `json:"username,omitempty"`
	Action         EventKind        `json:"action"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"` // необязательный, иначе выводится детерминированно
}

// AckResult представляет результат подтверждения события.
// Бизнес-отказы возвращаются через Success=false, а не через ошибку.
type AckResult struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}
