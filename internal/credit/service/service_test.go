package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/credit/lock"
	"github.com/smallbiznis/settlement/internal/credit/repository"
	"github.com/smallbiznis/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const org = snowflake.ID(501)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenSQLite(t, &creditdomain.Transaction{})
	clk := clock.NewFakeClock(time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Clock:  clk,
		Repo:   repository.Provide(),
		Locker: lock.NewMemory(),
	}).(*Service)
	return svc, clk
}

func grant(t *testing.T, svc *Service, amount int64) {
	t.Helper()
	_, created, err := svc.Grant(context.Background(), creditdomain.GrantRequest{OrgID: org, Amount: amount})
	require.NoError(t, err)
	require.True(t, created)
}

func TestReserveConfirmRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	grant(t, svc, 100)

	first, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 30, ServiceCode: "document-analysis"})
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 20})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	require.NoError(t, svc.Confirm(ctx, org, first))
	require.NoError(t, svc.Release(ctx, org, second))

	summary, err := svc.Summary(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, int64(70), summary.Available)
	assert.Equal(t, int64(30), summary.Consumed)
	assert.Equal(t, int64(20), summary.Released)
	assert.Zero(t, summary.Outstanding)
	assert.Equal(t, summary.Earned-summary.Outstanding-summary.Consumed, summary.Available)
}

func TestReservationClosesExactlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	grant(t, svc, 10)

	id, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 10})
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, org, id))
	require.NoError(t, svc.Confirm(ctx, org, id))
	require.ErrorIs(t, svc.Release(ctx, org, id), creditdomain.ErrReservationClosed)

	require.ErrorIs(t, svc.Confirm(ctx, snowflake.ID(999), id), creditdomain.ErrReservationNotFound)

	history, err := svc.History(ctx, org, 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestReserveReportsShortfall(t *testing.T) {
	svc, _ := newTestService(t)
	grant(t, svc, 5)

	_, err := svc.Reserve(context.Background(), creditdomain.ReserveRequest{OrgID: org, Amount: 8})
	require.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	var shortfall *creditdomain.InsufficientCreditsError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, int64(8), shortfall.Required)
	assert.Equal(t, int64(5), shortfall.Available)

	_, err = svc.Reserve(context.Background(), creditdomain.ReserveRequest{OrgID: org, Amount: 0})
	require.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
}

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t)
	grant(t, svc, 100)

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
		denied  atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), creditdomain.ReserveRequest{OrgID: org, Amount: 10})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, creditdomain.ErrInsufficientCredits):
				denied.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), granted.Load())
	assert.Equal(t, int64(10), denied.Load())
	balance, err := svc.Balance(context.Background(), org)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestGrantIsIdempotentByKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.Grant(ctx, creditdomain.GrantRequest{OrgID: org, Amount: 10, IdempotencyKey: "invoice:1"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.Grant(ctx, creditdomain.GrantRequest{OrgID: org, Amount: 10, IdempotencyKey: "invoice:1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	ok, err := svc.HasGrant(ctx, "invoice:1")
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := svc.Balance(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestReleaseStaleReservations(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	grant(t, svc, 50)

	stale, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 20})
	require.NoError(t, err)
	closed, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 5})
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, org, closed))

	clk.Advance(20 * time.Minute)
	fresh, err := svc.Reserve(ctx, creditdomain.ReserveRequest{OrgID: org, Amount: 5})
	require.NoError(t, err)

	released, err := svc.ReleaseStale(ctx, clk.Now().Add(-15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	require.ErrorIs(t, svc.Confirm(ctx, org, stale), creditdomain.ErrReservationClosed)
	require.NoError(t, svc.Confirm(ctx, org, fresh))

	balance, err := svc.Balance(ctx, org)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}
