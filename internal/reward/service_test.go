package reward

import (
	"context"
	"testing"

	"referral-rewards/internal/config"
	"referral-rewards/internal/store/storetest"
	"referral-rewards/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedConfig() config.RewardConfig {
	return config.RewardConfig{
		SignupAmount:   decimal.NewFromInt(2),
		PurchaseAmount: decimal.NewFromInt(5),
		PurchaseMode:   config.PurchaseModeFixed,
	}
}

func percentConfig() config.RewardConfig {
	return config.RewardConfig{
		SignupAmount:    decimal.NewFromInt(2),
		PurchaseAmount:  decimal.NewFromInt(5),
		PurchaseMode:    config.PurchaseModePercent,
		PurchasePercent: decimal.NewFromInt(10),
	}
}

func referredUser(referrerID int64) *models.ReferredUser {
	code := "REF123"
	return &models.ReferredUser{
		ID:           1,
		ReferralCode: &code,
		ReferrerID:   &referrerID,
	}
}

func amount(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.RewardConfig
		event *models.Event
		user  *models.ReferredUser
		want  *string // nil — начисления нет
	}{
		{
			name:  "фиксированная сумма за signup",
			cfg:   fixedConfig(),
			event: &models.Event{Kind: models.EventKindSignup},
			user:  referredUser(7),
			want:  strPtr("2"),
		},
		{
			name:  "фиксированная сумма за покупку",
			cfg:   fixedConfig(),
			event: &models.Event{Kind: models.EventKindPurchase, Amount: amount("10.50")},
			user:  referredUser(7),
			want:  strPtr("5"),
		},
		{
			name:  "процент от суммы покупки",
			cfg:   percentConfig(),
			event: &models.Event{Kind: models.EventKindPurchase, Amount: amount("10.50")},
			user:  referredUser(7),
			want:  strPtr("1.05"),
		},
		{
			name:  "органический пользователь без начисления",
			cfg:   fixedConfig(),
			event: &models.Event{Kind: models.EventKindPurchase, Amount: amount("10.50")},
			user:  &models.ReferredUser{ID: 1},
			want:  nil,
		},
		{
			name: "нулевое вознаграждение не начисляется",
			cfg: config.RewardConfig{
				SignupAmount:   decimal.Zero,
				PurchaseAmount: decimal.NewFromInt(5),
				PurchaseMode:   config.PurchaseModeFixed,
			},
			event: &models.Event{Kind: models.EventKindSignup},
			user:  referredUser(7),
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := storetest.New()
			svc := NewService(tt.cfg, db, db, db, zap.NewNop())

			delta := svc.Delta(tt.event, tt.user)

			if tt.want == nil {
				assert.Nil(t, delta)
				return
			}
			require.NotNil(t, delta)
			assert.True(t, delta.Amount.Equal(decimal.RequireFromString(*tt.want)),
				"ожидалось %s, получено %s", *tt.want, delta.Amount)
			assert.Equal(t, int64(7), delta.ReferrerID)
			assert.Equal(t, tt.event.Kind, delta.Kind)
		})
	}
}

func strPtr(s string) *string {
	return &s
}

func TestGetOrCreateReferrer(t *testing.T) {
	db := storetest.New()
	svc := NewService(fixedConfig(), db, db, db, zap.NewNop())
	ctx := context.Background()

	first, err := svc.GetOrCreateReferrer(ctx, models.IntegrationTelegram, "1001", "bob")
	require.NoError(t, err)

	second, err := svc.GetOrCreateReferrer(ctx, models.IntegrationTelegram, "1001", "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrIssueCode(t *testing.T) {
	db := storetest.New()
	svc := NewService(fixedConfig(), db, db, db, zap.NewNop())
	ctx := context.Background()

	referrer, err := svc.GetOrCreateReferrer(ctx, models.IntegrationTelegram, "1001", "bob")
	require.NoError(t, err)

	code, err := svc.GetOrIssueCode(ctx, referrer.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	// Повторный вызов возвращает тот же код, а не выпускает новый
	again, err := svc.GetOrIssueCode(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestReferralLink(t *testing.T) {
	db := storetest.New()
	svc := NewService(fixedConfig(), db, db, db, zap.NewNop())

	link := svc.ReferralLink("REF123", "my_bot")
	assert.Equal(t, "https://t.me/my_bot?start=ref_REF123", link)
}

func TestStatsEmptyBalance(t *testing.T) {
	db := storetest.New()
	svc := NewService(fixedConfig(), db, db, db, zap.NewNop())

	stats, err := svc.Stats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "0.00", stats.Balance)
	assert.Equal(t, 0, stats.SignupCount)
	assert.Equal(t, 0, stats.ReferredCount)
}

func TestStatsCountsReferredUsers(t *testing.T) {
	db := storetest.New()
	svc := NewService(fixedConfig(), db, db, db, zap.NewNop())
	ctx := context.Background()

	bob, err := svc.GetOrCreateReferrer(ctx, models.IntegrationTelegram, "1001", "bob")
	require.NoError(t, err)

	code := "REF123"
	for _, externalID := range []string{"2001", "2002"} {
		_, _, err := db.CreateIfAbsent(ctx, &models.ReferredUser{
			Integration:    models.IntegrationTelegram,
			ExternalUserID: externalID,
			ReferralCode:   &code,
			ReferrerID:     &bob.ID,
		})
		require.NoError(t, err)
	}

	// Привлеченные видны в статистике сразу после атрибуции,
	// независимо от начислений
	stats, err := svc.Stats(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ReferredCount)
	assert.Equal(t, 0, stats.SignupCount)
	assert.Equal(t, "0.00", stats.Balance)
}
