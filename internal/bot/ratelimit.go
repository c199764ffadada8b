package bot

import (
	"sync"
	"time"
)

const (
	// Rate limiting
	MaxRequestsPerMinute = 30 // Максимум запросов в минуту на пользователя
	RateLimitWindow      = time.Minute
)

// RateLimiter простой rate limiter для пользователей
type RateLimiter struct {
	requests map[int64][]time.Time
	mutex    sync.RWMutex
}

// NewRateLimiter создает новый rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		requests: make(map[int64][]time.Time),
	}
}

// IsAllowed проверяет, разрешен ли запрос для пользователя
func (rl *RateLimiter) IsAllowed(userID int64) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	userRequests := rl.requests[userID]

	// Удаляем старые запросы
	var validRequests []time.Time
	for _, reqTime := range userRequests {
		if now.Sub(reqTime) < RateLimitWindow {
			validRequests = append(validRequests, reqTime)
		}
	}

	// Проверяем лимит
	if len(validRequests) >= MaxRequestsPerMinute {
		rl.requests[userID] = validRequests
		return false
	}

	// Добавляем текущий запрос
	validRequests = append(validRequests, now)
	rl.requests[userID] = validRequests
	return true
}
