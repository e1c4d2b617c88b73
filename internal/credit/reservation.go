package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
)

const releaseTimeout = 5 * time.Second

// WithReservation runs fn between Reserve and its close. fn returning nil confirms the
// reservation; an error or a panic releases it. The release runs on a context that
// survives cancellation of ctx.
func WithReservation(ctx context.Context, svc creditdomain.Service, req creditdomain.ReserveRequest, fn func(ctx context.Context, reservationID snowflake.ID) error) (err error) {
	reservationID, err := svc.Reserve(ctx, req)
	if err != nil {
		return err
	}

	release := func() error {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		return svc.Release(releaseCtx, req.OrgID, reservationID)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = release()
			panic(r)
		}
	}()

	if err = fn(ctx, reservationID); err != nil {
		if releaseErr := release(); releaseErr != nil {
			return fmt.Errorf("%w (release failed: %v)", err, releaseErr)
		}
		return err
	}
	return svc.Confirm(context.WithoutCancel(ctx), req.OrgID, reservationID)
}
