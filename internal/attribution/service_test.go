package attribution

import (
	"context"
	"sync"
	"testing"

	"referral-rewards/internal/store/storetest"
	"referral-rewards/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestService поднимает сервис атрибуции с реферером bob и кодом REF123
func newTestService(t *testing.T) (*Service, *storetest.Store, *models.ReferrerAccount) {
	t.Helper()

	db := storetest.New()
	ctx := context.Background()

	bob, _, err := db.CreateReferrerIfAbsent(ctx, &models.ReferrerAccount{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "1001",
		Username:       "bob",
	})
	require.NoError(t, err)

	err = db.Issue(ctx, &models.ReferralCode{
		Code:       "REF123",
		ReferrerID: bob.ID,
		Active:     true,
	})
	require.NoError(t, err)

	return NewService(db, db, zap.NewNop()), db, bob
}

func TestAttribute(t *testing.T) {
	tests := []struct {
		name         string
		argument     string
		wantOrganic  bool
		wantReferrer bool
	}{
		{
			name:         "с известным кодом",
			argument:     "REF123",
			wantOrganic:  false,
			wantReferrer: true,
		},
		{
			name:         "с префиксом ref_ из deep-link",
			argument:     "ref_REF123",
			wantOrganic:  false,
			wantReferrer: true,
		},
		{
			name:        "без кода — органический",
			argument:    "",
			wantOrganic: true,
		},
		{
			name:        "с неизвестным кодом — органический",
			argument:    "NOSUCH",
			wantOrganic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, bob := newTestService(t)

			result, err := svc.Attribute(context.Background(), &models.StartEvent{
				Integration:    models.IntegrationTelegram,
				ExternalUserID: "2001",
				Username:       "alice",
				StartArgument:  tt.argument,
			})

			require.NoError(t, err)
			assert.True(t, result.Created)
			assert.Equal(t, tt.wantOrganic, result.User.IsOrganic())
			if tt.wantReferrer {
				require.NotNil(t, result.User.ReferrerID)
				assert.Equal(t, bob.ID, *result.User.ReferrerID)
			}
		})
	}
}

func TestAttributeFirstAttributionWins(t *testing.T) {
	svc, db, bob := newTestService(t)
	ctx := context.Background()

	// Второй реферер с собственным кодом
	carol, _, err := db.CreateReferrerIfAbsent(ctx, &models.ReferrerAccount{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "1002",
		Username:       "carol",
	})
	require.NoError(t, err)
	require.NoError(t, db.Issue(ctx, &models.ReferralCode{
		Code:       "CAROL1",
		ReferrerID: carol.ID,
		Active:     true,
	}))

	first, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		StartArgument:  "REF123",
	})
	require.NoError(t, err)
	assert.True(t, first.Created)

	// Повторный /start с другим кодом не переатрибутирует
	second, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		StartArgument:  "CAROL1",
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	require.NotNil(t, second.User.ReferrerID)
	assert.Equal(t, bob.ID, *second.User.ReferrerID)
}

func TestAttributeOrganicNeverUpgraded(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
	})
	require.NoError(t, err)
	assert.True(t, first.User.IsOrganic())

	// Код, присланный после органической атрибуции, игнорируется
	second, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		StartArgument:  "REF123",
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.True(t, second.User.IsOrganic())
}

func TestAttributeSelfReferralRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	// bob пытается пройти по собственному коду
	result, err := svc.Attribute(context.Background(), &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "1001",
		Username:       "bob",
		StartArgument:  "REF123",
	})

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.User.IsOrganic())
}

func TestAttributeInactiveCode(t *testing.T) {
	svc, db, bob := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Issue(ctx, &models.ReferralCode{
		Code:       "OLDCODE",
		ReferrerID: bob.ID,
		Active:     false,
	}))

	result, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		StartArgument:  "OLDCODE",
	})

	require.NoError(t, err)
	assert.True(t, result.User.IsOrganic())
}

func TestAttributeConcurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const workers = 20

	var wg sync.WaitGroup
	results := make([]*models.AttributionResult, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Attribute(ctx, &models.StartEvent{
				Integration:    models.IntegrationTelegram,
				ExternalUserID: "2001",
				Username:       "alice",
				StartArgument:  "REF123",
			})
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	// Ровно одно создание, все вызовы видят одну и ту же запись
	createdCount := 0
	for _, r := range results {
		if r.Created {
			createdCount++
		}
		assert.Equal(t, results[0].User.ID, r.User.ID)
	}
	assert.Equal(t, 1, createdCount)
}

func TestAttributeInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Attribute(ctx, &models.StartEvent{
		Integration:    "carrier-pigeon",
		ExternalUserID: "2001",
	})
	assert.Error(t, err)

	_, err = svc.Attribute(ctx, &models.StartEvent{
		Integration: models.IntegrationTelegram,
	})
	assert.Error(t, err)
}
