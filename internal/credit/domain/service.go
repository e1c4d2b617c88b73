package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Reserve(ctx context.Context, req ReserveRequest) (snowflake.ID, error)
	Confirm(ctx context.Context, orgID, reservationID snowflake.ID) error
	Release(ctx context.Context, orgID, reservationID snowflake.ID) error
	Balance(ctx context.Context, orgID snowflake.ID) (int64, error)
	Summary(ctx context.Context, orgID snowflake.ID) (*Summary, error)
	Grant(ctx context.Context, req GrantRequest) (*Transaction, bool, error)
	HasGrant(ctx context.Context, idempotencyKey string) (bool, error)
	History(ctx context.Context, orgID snowflake.ID, limit int) ([]Transaction, error)
	ReleaseStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type ReserveRequest struct {
	OrgID       snowflake.ID
	Amount      int64
	ServiceCode string
	ReferenceID string
}

type GrantRequest struct {
	OrgID          snowflake.ID
	Amount         int64
	ReferenceID    string
	IdempotencyKey string
	Metadata       map[string]any
}

// OrgLocker serializes balance checks for one organization across goroutines and,
// when backed by Redis, across instances.
type OrgLocker interface {
	Lock(ctx context.Context, orgID snowflake.ID) (unlock func(), err error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrReservationNotFound = errors.New("reservation_not_found")
	ErrReservationClosed   = errors.New("reservation_closed")
)

// InsufficientCreditsError carries the shortfall so callers can show it.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
