package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaymentAdapter wraps one external payment network. Adapters only talk to the
// network; persisting what they return is the caller's job.
type PaymentAdapter interface {
	Provider() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	QueryPayment(ctx context.Context, query PaymentQuery) (*PaymentResult, error)
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*PaymentEvent, error)
}

// Refunder is implemented by adapters whose network supports API refunds.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// AdapterConfig is the per-provider configuration block handed to a factory.
type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Timeout  time.Duration
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
