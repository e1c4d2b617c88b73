// Package domain describes how payment evidence from networks converges on the
// order ledger.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
)

type Service interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	VerifyPayment(ctx context.Context, evidence ReturnEvidence) (*Result, error)
	ProcessWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (bool, error)
	SettleOrder(ctx context.Context, paymentID snowflake.ID, provider string, evidence Evidence) (*Result, error)
	ConfirmFreeOrder(ctx context.Context, orgID, orderID snowflake.ID) (*Result, error)
	ReconcileCreditGrants(ctx context.Context, since time.Time, limit int) (int, error)
}

type CheckoutRequest struct {
	OrgID         snowflake.ID
	OrderID       snowflake.ID
	Provider      string
	CancelURL     string
	CustomerEmail string
}

type CheckoutSession struct {
	PaymentID   snowflake.ID `json:"payment_id"`
	OrderID     snowflake.ID `json:"order_id"`
	Provider    string       `json:"provider"`
	SessionID   string       `json:"session_id"`
	RedirectURL string       `json:"redirect_url"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// ReturnEvidence is what the payer's browser carries back on the return URL.
// Params holds the raw query string values; which keys are present depends on the
// network.
type ReturnEvidence struct {
	Provider string
	OrgID    snowflake.ID
	Params   map[string]string
}

// Evidence is a network's statement about one payment, from a webhook, a return
// or a status query.
type Evidence struct {
	Status           paymentdomain.Status
	NetworkPaymentID string
	Amount           int64
	Currency         string
	FailureReason    string
	Source           string
	Metadata         map[string]any
}

const (
	SourceWebhook = "webhook"
	SourceReturn  = "return"
	SourceQuery   = "query"
)

type Result struct {
	PaymentID      snowflake.ID              `json:"payment_id,omitempty"`
	OrderID        snowflake.ID              `json:"order_id"`
	OrderNumber    string                    `json:"order_number,omitempty"`
	PaymentStatus  orderdomain.PaymentStatus `json:"payment_status,omitempty"`
	OrderStatus    orderdomain.OrderStatus   `json:"order_status"`
	Pending        bool                      `json:"pending"`
	Settled        bool                      `json:"settled"`
	AlreadySettled bool                      `json:"already_settled"`
	RefundID       *snowflake.ID             `json:"refund_id,omitempty"`
	FailureReason  string                    `json:"failure_reason,omitempty"`
}

var (
	ErrAmountMismatch    = errors.New("amount_mismatch")
	ErrProviderMismatch  = errors.New("provider_mismatch")
	ErrMissingEvidence   = errors.New("missing_evidence")
	ErrUnmatchedPayment  = errors.New("unmatched_payment")
	ErrInvalidReturnOrg  = errors.New("invalid_return_org")
	ErrOrderNotFree      = errors.New("order_not_free")
	ErrInvalidCheckout   = errors.New("invalid_checkout")
	ErrSessionOpenFailed = errors.New("session_open_failed")
)
