// Package domain describes outbound notifications about settled payments and credits.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindCreditsAdded     Kind = "credits_added"
	KindRefundRequested  Kind = "refund_requested"
)

type Notification struct {
	Kind      Kind
	OrgID     snowflake.ID
	Recipient string
	Subject   string
	Data      map[string]any
}

// Notifier delivers a notification. Delivery is best effort; callers log failures
// and never roll back the state change that produced the notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

var (
	ErrInvalidKind      = errors.New("invalid_notification_kind")
	ErrMissingRecipient = errors.New("missing_recipient")
)
