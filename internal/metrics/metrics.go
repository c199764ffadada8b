package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger *zap.Logger

	// Счетчики
	attributions *prometheus.CounterVec
	events       *prometheus.CounterVec

	// Гистограммы
	ackDuration prometheus.Histogram

	// Gauge метрики
	reconciliationDrift prometheus.Gauge
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger,

		// Счетчики атрибуций
		attributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attributions_total",
				Help: "Общее количество обработанных событий /start",
			},
			[]string{"outcome"}, // created, organic, existing
		),

		// Счетчики событий журнала
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_total",
				Help: "Общее количество подтвержденных событий",
			},
			[]string{"kind", "result"}, // kind: signup, purchase; result: accepted, duplicate, rejected
		),

		// Гистограмма времени обработки подтверждений
		ackDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ack_duration_seconds",
				Help:    "Время обработки подтверждения в секундах",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Gauge расхождений сверки
		reconciliationDrift: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciliation_drift",
				Help: "Количество балансов, расходящихся с журналом событий",
			},
		),
	}

	// Регистрируем все метрики
	prometheus.MustRegister(
		m.attributions,
		m.events,
		m.ackDuration,
		m.reconciliationDrift,
	)

	return m
}

// RecordAttribution записывает результат атрибуции
func (m *Metrics) RecordAttribution(outcome string) {
	m.attributions.WithLabelValues(outcome).Inc()
	m.logger.Debug("метрика атрибуции увеличена", zap.String("outcome", outcome))
}

// RecordEvent записывает результат подтверждения события
func (m *Metrics) RecordEvent(kind, result string) {
	m.events.WithLabelValues(kind, result).Inc()
	m.logger.Debug("метрика событий увеличена",
		zap.String("kind", kind),
		zap.String("result", result))
}

// ObserveAckDuration добавляет наблюдение времени обработки подтверждения
func (m *Metrics) ObserveAckDuration(seconds float64) {
	m.ackDuration.Observe(seconds)
}

// SetReconciliationDrift устанавливает количество расходящихся балансов
func (m *Metrics) SetReconciliationDrift(count int) {
	m.reconciliationDrift.Set(float64(count))
}
