package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/settlement/internal/clock"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOrders struct {
	orderdomain.Service
	mock.Mock
}

func (m *mockOrders) ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(now, limit)
	return args.Int(0), args.Error(1)
}

type mockCredits struct {
	creditdomain.Service
	mock.Mock
}

func (m *mockCredits) ReleaseStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	args := m.Called(olderThan, limit)
	return args.Int(0), args.Error(1)
}

type mockSettlement struct {
	settlementdomain.Service
	mock.Mock
}

func (m *mockSettlement) ReconcileCreditGrants(ctx context.Context, since time.Time, limit int) (int, error) {
	args := m.Called(since, limit)
	return args.Int(0), args.Error(1)
}

type fixture struct {
	sched      *Scheduler
	clock      *clock.FakeClock
	orders     *mockOrders
	credits    *mockCredits
	settlement *mockSettlement
	registry   *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "settlement",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		orders:     &mockOrders{},
		credits:    &mockCredits{},
		settlement: &mockSettlement{},
		registry:   registry,
	}
	f.sched, err = New(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         f.clock,
		OrderSvc:      f.orders,
		CreditSvc:     f.credits,
		SettlementSvc: f.settlement,
		Config:        cfg,
	})
	require.NoError(t, err)
	return f
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "settlement",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "settlement_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "settlement",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "settlement_scheduler_job_errors_total", errorLabels))
}

func TestExpireOrdersJobSweepsUntilShortBatch(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	now := f.clock.Now().UTC()

	f.orders.On("ExpirePendingOrders", now, 2).Return(2, nil).Once()
	f.orders.On("ExpirePendingOrders", now, 2).Return(1, nil).Once()

	require.NoError(t, f.sched.ExpireOrdersJob(context.Background()))
	f.orders.AssertNumberOfCalls(t, "ExpirePendingOrders", 2)

	labels := map[string]string{
		"service":  "settlement",
		"env":      "test",
		"job":      JobExpireOrders,
		"resource": obsmetrics.ResourceOrders,
	}
	assert.Equal(t, float64(3), getCounterValue(t, f.registry, "settlement_scheduler_batch_processed_total", labels))
}

func TestReleaseStaleReservationsUsesReservationTTL(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10, ReservationTTL: 5 * time.Minute})
	cutoff := f.clock.Now().UTC().Add(-5 * time.Minute)

	f.credits.On("ReleaseStale", cutoff, 10).Return(3, nil).Once()

	require.NoError(t, f.sched.ReleaseStaleReservationsJob(context.Background()))
	f.credits.AssertExpectations(t)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 50, GrantLookback: time.Hour, EnabledJobs: []string{" Reconcile_Credit_Grants "}})
	since := f.clock.Now().UTC().Add(-time.Hour)

	f.settlement.On("ReconcileCreditGrants", since, 50).Return(1, nil).Once()

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.settlement.AssertExpectations(t)
	f.orders.AssertNotCalled(t, "ExpirePendingOrders", mock.Anything, mock.Anything)
	f.credits.AssertNotCalled(t, "ReleaseStale", mock.Anything, mock.Anything)

	labels := map[string]string{
		"service": "settlement",
		"env":     "test",
		"job":     JobReconcileCreditGrants,
	}
	assert.Equal(t, float64(1), getCounterValue(t, f.registry, "settlement_scheduler_job_runs_total", labels))
}

func TestRunOnceContinuesAfterJobError(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10})
	boom := errors.New("db down")

	f.orders.On("ExpirePendingOrders", mock.Anything, 10).Return(0, boom).Once()
	f.credits.On("ReleaseStale", mock.Anything, 10).Return(0, nil).Once()
	f.settlement.On("ReconcileCreditGrants", mock.Anything, 10).Return(0, nil).Once()

	err := f.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobExpireOrders)
	f.credits.AssertExpectations(t)
	f.settlement.AssertExpectations(t)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{RunInterval: time.Hour, EnabledJobs: []string{JobReleaseStaleReservations}})
	ran := make(chan struct{}, 1)
	f.credits.On("ReleaseStale", mock.Anything, mock.Anything).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("run loop never ran")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
