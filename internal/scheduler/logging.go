package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/settlement/internal/observability/context"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	"go.uber.org/zap"
)

// sweepRun accumulates what one job run touched. It rides in the context so a
// job called through runJob and directly from a test logs the same way.
type sweepRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	batches   int
	processed int
	failures  int
}

type sweepRunKey struct{}

func (r *sweepRun) recordBatch(count int) {
	if r == nil {
		return
	}
	r.batches++
	if count > 0 {
		r.processed += count
	}
}

func (r *sweepRun) recordFailure() {
	if r != nil {
		r.failures++
	}
}

// beginRun returns the run already in ctx, or starts one. owner reports whether
// the caller started it and so must log its end.
func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *sweepRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(sweepRunKey{}).(*sweepRun); ok && run != nil {
		return ctx, run, false
	}
	run := &sweepRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: s.cfg.BatchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, sweepRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logRunStart(ctx context.Context, run *sweepRun) {
	s.logger(ctx).Debug("scheduler.run.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logRunEnd(ctx context.Context, run *sweepRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("batches", run.batches),
		zap.Int("processed", run.processed),
		zap.Int("failures", run.failures),
	}
	switch {
	case run.failures > 0:
		s.logger(ctx).Warn("scheduler.run.end", fields...)
	case run.processed > 0:
		s.logger(ctx).Info("scheduler.run.end", fields...)
	default:
		s.logger(ctx).Debug("scheduler.run.end", fields...)
	}
}

func (s *Scheduler) logRunError(ctx context.Context, run *sweepRun, resource string, err error) {
	if err == nil {
		return
	}
	run.recordFailure()
	job := ""
	if run != nil {
		job = run.job
	}
	s.logger(ctx).Error("scheduler.run.failed",
		zap.String("job", job),
		zap.String("resource", resource),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
