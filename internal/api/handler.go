package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"referral-rewards/internal/ack"
	"referral-rewards/internal/metrics"
	"referral-rewards/internal/reward"
	"referral-rewards/pkg/models"

	"go.uber.org/zap"
)

// Handler обрабатывает HTTP запросы внешнего API подтверждений
type Handler struct {
	ackService *ack.Service
	rewards    *reward.Service
	metrics    *metrics.Metrics
	apiKey     string
	logger     *zap.Logger
}

// NewHandler создает новый обработчик API
func NewHandler(ackService *ack.Service, rewards *reward.Service, m *metrics.Metrics, apiKey string, logger *zap.Logger) *Handler {
	return &Handler{
		ackService: ackService,
		rewards:    rewards,
		metrics:    m,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// HandleAck обрабатывает POST /api/ack
func (h *Handler) HandleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(r) {
		h.logger.Warn("неавторизованный запрос к API подтверждений",
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("ошибка разбора запроса подтверждения", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	start := time.Now()
	result, err := h.ackService.Ack(r.Context(), &req)
	if err != nil {
		h.logger.Error("ошибка обработки подтверждения", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveAckDuration(time.Since(start).Seconds())
	h.metrics.RecordEvent(string(req.Action), ackResultLabel(result))

	h.writeJSON(w, http.StatusOK, result)
}

// HandleBalance обрабатывает GET /api/balance?referrer_id=N
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	referrerID, err := strconv.ParseInt(r.URL.Query().Get("referrer_id"), 10, 64)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	stats, err := h.rewards.Stats(r.Context(), referrerID)
	if err != nil {
		h.logger.Error("ошибка получения баланса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// authorize проверяет API ключ запроса
func (h *Handler) authorize(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1
}

// writeJSON отправляет JSON ответ
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("ошибка сериализации ответа", zap.Error(err))
	}
}

// ackResultLabel определяет метку метрики по результату подтверждения
func ackResultLabel(result *models.AckResult) string {
	switch {
	case !result.Success:
		return "rejected"
	case result.Duplicate:
		return "duplicate"
	default:
		return "accepted"
	}
}
