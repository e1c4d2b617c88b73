package credit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/credit/lock"
	"github.com/smallbiznis/settlement/internal/credit/repository"
	"github.com/smallbiznis/settlement/internal/credit/service"
	"github.com/smallbiznis/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const org = snowflake.ID(77)

func newLedger(t *testing.T, balance int64) creditdomain.Service {
	t.Helper()
	svc := service.NewService(service.Params{
		DB:     testutil.OpenSQLite(t, &creditdomain.Transaction{}),
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Clock:  clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:   repository.Provide(),
		Locker: lock.NewMemory(),
	})
	if balance > 0 {
		_, _, err := svc.Grant(context.Background(), creditdomain.GrantRequest{OrgID: org, Amount: balance})
		require.NoError(t, err)
	}
	return svc
}

func summary(t *testing.T, svc creditdomain.Service) *creditdomain.Summary {
	t.Helper()
	s, err := svc.Summary(context.Background(), org)
	require.NoError(t, err)
	return s
}

func TestWithReservationConfirmsOnSuccess(t *testing.T) {
	svc := newLedger(t, 25)
	req := creditdomain.ReserveRequest{OrgID: org, Amount: 10, ServiceCode: "document-analysis"}

	err := WithReservation(context.Background(), svc, req, func(ctx context.Context, id snowflake.ID) error {
		assert.NotZero(t, id)
		assert.Equal(t, int64(15), summary(t, svc).Available)
		return nil
	})
	require.NoError(t, err)

	s := summary(t, svc)
	assert.Equal(t, int64(10), s.Consumed)
	assert.Equal(t, int64(15), s.Available)
}

func TestWithReservationReleasesOnError(t *testing.T) {
	svc := newLedger(t, 25)
	boom := errors.New("model unavailable")

	err := WithReservation(context.Background(), svc, creditdomain.ReserveRequest{OrgID: org, Amount: 10}, func(ctx context.Context, id snowflake.ID) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	s := summary(t, svc)
	assert.Equal(t, int64(25), s.Available)
	assert.Equal(t, int64(10), s.Released)
}

func TestWithReservationReleasesOnPanic(t *testing.T) {
	svc := newLedger(t, 25)

	assert.Panics(t, func() {
		_ = WithReservation(context.Background(), svc, creditdomain.ReserveRequest{OrgID: org, Amount: 10}, func(ctx context.Context, id snowflake.ID) error {
			panic("handler crashed")
		})
	})
	assert.Equal(t, int64(25), summary(t, svc).Available)
}

func TestWithReservationGatesOnBalance(t *testing.T) {
	svc := newLedger(t, 5)
	called := false

	err := WithReservation(context.Background(), svc, creditdomain.ReserveRequest{OrgID: org, Amount: 10}, func(ctx context.Context, id snowflake.ID) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	assert.False(t, called)
}

func TestWithReservationReleasesAfterCancellation(t *testing.T) {
	svc := newLedger(t, 25)
	ctx, cancel := context.WithCancel(context.Background())

	err := WithReservation(ctx, svc, creditdomain.ReserveRequest{OrgID: org, Amount: 10}, func(ctx context.Context, id snowflake.ID) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(10), summary(t, svc).Released)
}
