package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"referral-rewards/internal/ack"
	"referral-rewards/internal/attribution"
	"referral-rewards/internal/config"
	"referral-rewards/internal/ledger"
	"referral-rewards/internal/metrics"
	"referral-rewards/internal/reward"
	"referral-rewards/internal/store/storetest"
	"referral-rewards/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "test-api-key"

// Метрики регистрируются в глобальном реестре prometheus,
// поэтому создаем их один раз на пакет
var testMetrics = metrics.New(zap.NewNop())

func newTestHandler(t *testing.T) (*Handler, *storetest.Store, *models.ReferrerAccount) {
	t.Helper()

	db := storetest.New()
	ctx := context.Background()

	bob, _, err := db.CreateReferrerIfAbsent(ctx, &models.ReferrerAccount{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "1001",
		Username:       "bob",
	})
	require.NoError(t, err)
	require.NoError(t, db.Issue(ctx, &models.ReferralCode{Code: "REF123", ReferrerID: bob.ID, Active: true}))

	logger := zap.NewNop()
	attributionService := attribution.NewService(db, db, logger)
	rewards := reward.NewService(config.RewardConfig{
		SignupAmount:   decimal.NewFromInt(2),
		PurchaseAmount: decimal.NewFromInt(5),
		PurchaseMode:   config.PurchaseModeFixed,
	}, db, db, db, logger)
	ledgerService := ledger.NewService(db, db, rewards, logger)
	ackService := ack.NewService(attributionService, ledgerService, db, logger)

	return NewHandler(ackService, rewards, testMetrics, testAPIKey, logger), db, bob
}

func ackRequest(t *testing.T, body interface{}, apiKey string) *http.Request {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ack", bytes.NewReader(payload))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req
}

func TestHandleAckUnauthorized(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	tests := []struct {
		name string
		key  string
	}{
		{name: "без ключа", key: ""},
		{name: "неверный ключ", key: "wrong-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.HandleAck(rec, ackRequest(t, &models.AckRequest{}, tt.key))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestHandleAckMethodNotAllowed(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ack", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	handler.HandleAck(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleAckPurchase(t *testing.T) {
	handler, db, bob := newTestHandler(t)
	ctx := context.Background()

	code := "REF123"
	_, _, err := db.CreateIfAbsent(ctx, &models.ReferredUser{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		ReferralCode:   &code,
		ReferrerID:     &bob.ID,
	})
	require.NoError(t, err)

	amount := decimal.RequireFromString("10.50")
	rec := httptest.NewRecorder()
	handler.HandleAck(rec, ackRequest(t, &models.AckRequest{
		UserID: "2001",
		Action: models.EventKindPurchase,
		Amount: &amount,
	}, testAPIKey))

	require.Equal(t, http.StatusOK, rec.Code)

	var result models.AckResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.False(t, result.Duplicate)

	balance, err := db.GetBalance(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(5)))
}

func TestHandleAckBusinessRejection(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	// Бизнес-отказ — это 200 с Success=false, не HTTP ошибка
	rec := httptest.NewRecorder()
	handler.HandleAck(rec, ackRequest(t, &models.AckRequest{
		UserID: "2001",
		Action: "refund",
	}, testAPIKey))

	require.Equal(t, http.StatusOK, rec.Code)

	var result models.AckResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestHandleAckBadJSON(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ack", bytes.NewReader([]byte("{broken")))
	req.Header.Set("X-API-Key", testAPIKey)
	handler.HandleAck(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBalance(t *testing.T) {
	handler, db, bob := newTestHandler(t)
	ctx := context.Background()

	code := "REF123"
	user, _, err := db.CreateIfAbsent(ctx, &models.ReferredUser{
		Integration:    models.IntegrationTelegram,
		ExternalUserID: "2001",
		Username:       "alice",
		ReferralCode:   &code,
		ReferrerID:     &bob.ID,
	})
	require.NoError(t, err)

	signup := decimal.NewFromInt(2)
	_, err = db.Record(ctx, &models.Event{
		ID:             "evt-1",
		IdempotencyKey: "key-1",
		ReferredUserID: user.ID,
		Kind:           models.EventKindSignup,
	}, &models.RewardDelta{ReferrerID: bob.ID, Amount: signup, Kind: models.EventKindSignup})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/balance?referrer_id=%d", bob.ID), nil)
	req.Header.Set("X-API-Key", testAPIKey)
	handler.HandleBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.ReferrerStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ReferredCount)
	assert.Equal(t, 1, stats.SignupCount)
	assert.Equal(t, "2.00", stats.Balance)
}

func TestHandleBalanceBadID(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/balance?referrer_id=abc", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	handler.HandleBalance(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
