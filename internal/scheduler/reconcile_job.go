package scheduler

import (
	"context"
	"fmt"

	"referral-rewards/internal/metrics"
	"referral-rewards/internal/store"

	"go.uber.org/zap"
)

// ReconcileJob сверяет инкрементальные счетчики балансов с журналом событий.
// Расхождение логируется и выставляется в метрику, но счетчики не
// переписываются: журнал — источник истины, расхождение означает баг
// записи и требует ручного разбора.
type ReconcileJob struct {
	rewardRepo store.RewardRepository
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewReconcileJob создает новую задачу сверки
func NewReconcileJob(rewardRepo store.RewardRepository, m *metrics.Metrics, logger *zap.Logger) *ReconcileJob {
	return &ReconcileJob{
		rewardRepo: rewardRepo,
		metrics:    m,
		logger:     logger,
	}
}

// Run выполняет сверку балансов
func (j *ReconcileJob) Run(ctx context.Context) error {
	drifts, err := j.rewardRepo.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("ошибка сверки балансов: %w", err)
	}

	outOfSync := 0
	for _, d := range drifts {
		if d.InSync() {
			continue
		}
		outOfSync++
		j.logger.Warn("баланс реферера расходится с журналом событий",
			zap.Int64("referrer_id", d.ReferrerID),
			zap.Int("ledger_signups", d.LedgerSignups),
			zap.Int("counter_signups", d.CounterSignups),
			zap.Int("ledger_purchases", d.LedgerPurchases),
			zap.Int("counter_purchases", d.CounterPurchases))
	}

	j.metrics.SetReconciliationDrift(outOfSync)

	j.logger.Info("сверка балансов завершена",
		zap.Int("checked", len(drifts)),
		zap.Int("out_of_sync", outOfSync))

	return nil
}
