package models

import (
	"time"
)

// Integration определяет чат-платформу, через которую пришел пользователь
type Integration string

const (
	IntegrationTelegram Integration = "telegram"
)

// IsValid проверяет валидность интеграции
func (i Integration) IsValid() bool {
	switch i {
	case IntegrationTelegram:
		return true
	default:
		return false
	}
}

// ReferrerAccount представляет аккаунт реферера — владельца реферальных кодов
type ReferrerAccount struct {
	ID             int64       `json:"id" db:"id"`
	Integration    Integration `json:"integration" db:"integration"`
	ExternalUserID string      `json:"external_user_id" db:"external_user_id"`
	Username       string      `json:"username" db:"username"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ReferralCode представляет реферальный код. Код принадлежит ровно одному
// рефереру и неизменяем после выпуска.
type ReferralCode struct {
	Code       string    `json:"code" db:"code"`
	ReferrerID int64     `json:"referrer_id" db:"referrer_id"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ReferredUser представляет привлеченного пользователя.
// Уникален по паре (integration, external_user_id): первая атрибуция выигрывает,
// повторный /start с другим кодом никогда не переатрибутирует.
type ReferredUser struct {
	ID             int64       `json:"id" db:"id"`
	Integration    Integration `json:"integration" db:"integration"`
	ExternalUserID string      `json:"external_user_id" db:"external_user_id"`
	Username       string      `json:"username" db:"username"`
	ReferralCode   *string     `json:"referral_code" db:"referral_code"` // nil для органических пользователей
	ReferrerID     *int64      `json:"referrer_id" db:"referrer_id"`
	AttributedAt   time.Time   `json:"attributed_at" db:"attributed_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// IsOrganic проверяет, пришел ли пользователь без реферального кода
func (u *ReferredUser) IsOrganic() bool {
	return u.ReferrerID == nil
}

// AttributionResult представляет результат атрибуции по событию /start
type AttributionResult struct {
	Created bool          `json:"created"`
	User    *ReferredUser `json:"user"`
}

// StartEvent представляет входящее событие /start от бот-транспорта
type StartEvent struct {
	Integration    Integration `json:"integration"`
	ExternalUserID string      `json:"external_user_id"`
	Username       string      `json:"username"`
	StartArgument  string      `json:"start_argument"` // может быть пустым
}

// ReferrerStats представляет статистику реферера
type ReferrerStats struct {
	ReferrerID    int64  `json:"referrer_id"`
	ReferredCount int    `json:"referred_count"`
	SignupCount   int    `json:"signup_count"`
	PurchaseCount int    `json:"purchase_count"`
	Balance       string `json:"balance"`
}
