package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireOrders             = "expire_orders"
	JobReleaseStaleReservations = "release_stale_reservations"
	JobReconcileCreditGrants    = "reconcile_credit_grants"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	OrderSvc      orderdomain.Service
	CreditSvc     creditdomain.Service
	SettlementSvc settlementdomain.Service
	Config        Config `optional:"true"`
}

// Scheduler runs the maintenance sweeps that keep orders, reservations and credit
// grants converging when no request drives them.
type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	orderSvc      orderdomain.Service
	creditSvc     creditdomain.Service
	settlementSvc settlementdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.OrderSvc == nil || p.CreditSvc == nil || p.SettlementSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		orderSvc:      p.OrderSvc,
		creditSvc:     p.CreditSvc,
		settlementSvc: p.SettlementSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.beginRun(ctx, name)
	if owner {
		s.logRunStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.failures == 0 {
			run.recordFailure()
		}
		s.logRunEnd(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout: the next run picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireOrders, s.ExpireOrdersJob},
		{JobReleaseStaleReservations, s.ReleaseStaleReservationsJob},
		{JobReconcileCreditGrants, s.ReconcileCreditGrantsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// isJobEnabled treats an empty job list as every job enabled.
func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
