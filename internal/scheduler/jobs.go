package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"go.uber.org/zap"
)

// maxBatchesPerRun bounds one run so a large backlog cannot starve the other jobs.
const maxBatchesPerRun = 20

// ExpireOrdersJob cancels pending orders whose expiry has passed. The order
// ledger re-checks status inside each update, so an order paid concurrently is
// never cancelled.
func (s *Scheduler) ExpireOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobExpireOrders)
	if owner {
		s.logRunStart(ctx, run)
		defer s.logRunEnd(ctx, run)
	}

	return s.sweep(ctx, run, JobExpireOrders, obsmetrics.ResourceOrders, func(ctx context.Context) (int, error) {
		return s.orderSvc.ExpirePendingOrders(ctx, s.clock.Now().UTC(), s.cfg.BatchSize)
	})
}

// ReleaseStaleReservationsJob releases credit reservations that outlived the
// operation that opened them, typically after a crash.
func (s *Scheduler) ReleaseStaleReservationsJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobReleaseStaleReservations)
	if owner {
		s.logRunStart(ctx, run)
		defer s.logRunEnd(ctx, run)
	}

	return s.sweep(ctx, run, JobReleaseStaleReservations, obsmetrics.ResourceReservations, func(ctx context.Context) (int, error) {
		cutoff := s.clock.Now().UTC().Add(-s.cfg.ReservationTTL)
		return s.creditSvc.ReleaseStale(ctx, cutoff, s.cfg.BatchSize)
	})
}

// ReconcileCreditGrantsJob grants credits for paid credit invoices that have no
// earned entry yet. It runs one batch per run over the lookback window.
func (s *Scheduler) ReconcileCreditGrantsJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobReconcileCreditGrants)
	if owner {
		s.logRunStart(ctx, run)
		defer s.logRunEnd(ctx, run)
	}

	since := s.clock.Now().UTC().Add(-s.cfg.GrantLookback)
	granted, err := s.settlementSvc.ReconcileCreditGrants(ctx, since, s.cfg.BatchSize)
	run.recordBatch(granted)
	obsmetrics.Scheduler().AddBatchProcessed(JobReconcileCreditGrants, obsmetrics.ResourceInvoices, granted)
	if err != nil {
		s.logRunError(ctx, run, obsmetrics.ResourceInvoices, err)
		return err
	}
	if granted > 0 {
		s.logger(ctx).Warn("scheduler.reconcile_grants.granted", zap.Int("count", granted))
	}
	return nil
}

// sweep repeats a batch step until it comes back short, the context ends or
// the per-run batch limit is reached.
func (s *Scheduler) sweep(ctx context.Context, run *sweepRun, job, resource string, step func(context.Context) (int, error)) error {
	for i := 0; i < maxBatchesPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := step(ctx)
		run.recordBatch(count)
		obsmetrics.Scheduler().AddBatchProcessed(job, resource, count)
		if err != nil {
			s.logRunError(ctx, run, resource, err)
			return err
		}
		if count < s.cfg.BatchSize {
			return nil
		}
	}
	return nil
}
