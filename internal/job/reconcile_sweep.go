package job

import (
	"context"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/infrastructure/lock"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/internal/metrics"
	"github.com/AvTe/RentConnect-sub000/internal/service"

	"github.com/rs/zerolog"
)

const sweepLeaderKey = "sweep:leader"

// ReconcileSweepJob resolves stale payments and expires vouchers. One
// instance runs a sweep at a time, elected through the leader lock.
type ReconcileSweepJob struct {
	payments   *service.PaymentService
	vouchers   *service.VoucherService
	locker     lock.Locker
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	leaderTTL  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewReconcileSweepJob(cfg *config.Config, payments *service.PaymentService, vouchers *service.VoucherService, locker lock.Locker) *ReconcileSweepJob {
	return &ReconcileSweepJob{
		payments:   payments,
		vouchers:   vouchers,
		locker:     locker,
		stopCh:     make(chan struct{}),
		interval:   cfg.Sweep.Interval,
		batchSize:  cfg.Sweep.BatchSize,
		staleAfter: cfg.Sweep.StaleAfter,
		leaderTTL:  cfg.Sweep.LeaderLockTTL,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.Named("reconcile_sweep"),
	}
}

func (j *ReconcileSweepJob) Start(ctx context.Context) {
	j.log.Info().Dur("interval", j.interval).Msg("reconcile sweep started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("reconcile sweep stopping")
			return
		case <-j.stopCh:
			j.log.Info().Msg("reconcile sweep stopped")
			return
		case <-ticker.C:
			if _, _, err := j.RunOnce(ctx); err != nil {
				j.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (j *ReconcileSweepJob) Stop() {
	close(j.stopCh)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Payments        service.ReconcileReport `json:"payments"`
	VouchersExpired int64                   `json:"vouchersExpired"`
}

// RunOnce sweeps if this instance wins the leader lock. ran is false when
// another instance holds it.
func (j *ReconcileSweepJob) RunOnce(ctx context.Context) (result SweepResult, ran bool, err error) {
	release, ok, err := j.locker.TryAcquire(ctx, sweepLeaderKey, j.leaderTTL)
	if err != nil {
		metrics.RecordSweepRun("error")
		return result, false, err
	}
	if !ok {
		metrics.RecordSweepRun("skipped")
		j.log.Debug().Msg("another instance holds the sweep lock")
		return result, false, nil
	}
	defer release()

	start := time.Now()
	result.Payments, err = j.payments.ReconcileStale(ctx, j.staleAfter, j.batchSize)
	if err != nil {
		metrics.RecordSweepRun("error")
		return result, true, err
	}

	result.VouchersExpired, err = j.vouchers.ExpireDue(ctx, j.now())
	if err != nil {
		metrics.RecordSweepRun("error")
		return result, true, err
	}

	metrics.RecordSweepRun("ok")
	if result.Payments.Checked > 0 || result.VouchersExpired > 0 {
		j.log.Info().
			Int("checked", result.Payments.Checked).
			Int("completed", result.Payments.Completed).
			Int("failed", result.Payments.Failed).
			Int("errors", result.Payments.Errors).
			Int64("vouchers_expired", result.VouchersExpired).
			Dur("took", time.Since(start)).
			Msg("sweep finished")
	}
	return result, true, nil
}
