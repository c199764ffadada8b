package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < MaxRequestsPerMinute; i++ {
		assert.True(t, rl.IsAllowed(1), "запрос %d должен пройти", i+1)
	}

	// Лимит исчерпан
	assert.False(t, rl.IsAllowed(1))

	// Лимит считается на пользователя
	assert.True(t, rl.IsAllowed(2))
}
