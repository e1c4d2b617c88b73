package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
)

// Service is the only writer of orders, payments, invoices and refund requests.
// Every transition is a guarded conditional update; a lost guard is ErrInvalidTransition
// or, for settlement, an outcome with Won=false.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orgID, orderID snowflake.ID) (*Order, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) ([]*Order, pagination.PageInfo, error)
	GetInvoice(ctx context.Context, orgID, orderID snowflake.ID) (*Invoice, error)

	GetPayment(ctx context.Context, paymentID snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, orgID, orderID snowflake.ID) ([]Payment, error)
	FindPaymentByToken(ctx context.Context, provider, token string) (*Payment, error)
	FindRecentPendingPayment(ctx context.Context, orgID snowflake.ID, provider string, since time.Time) (*Payment, error)

	OpenPayment(ctx context.Context, req OpenPaymentRequest) (*Payment, *Order, error)
	AttachSession(ctx context.Context, paymentID snowflake.ID, token string, metadata map[string]any) error
	FailPayment(ctx context.Context, paymentID snowflake.ID, reason string) (bool, error)
	SettlePayment(ctx context.Context, req SettlePaymentRequest) (*SettleOutcome, error)
	ConfirmZeroAmount(ctx context.Context, orgID, orderID snowflake.ID) (*SettleOutcome, error)

	CompleteOrder(ctx context.Context, orgID, orderID snowflake.ID) (*Order, error)
	CancelOrder(ctx context.Context, orgID, orderID snowflake.ID, reason string) (*Order, error)
	ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error)

	RequestRefund(ctx context.Context, req RefundRequestInput) (*RefundRequest, error)
	ApproveRefund(ctx context.Context, orgID, refundID snowflake.ID) (*RefundRequest, error)
	ProcessRefund(ctx context.Context, orgID, refundID snowflake.ID) (*RefundRequest, error)
	CompleteRefund(ctx context.Context, orgID, refundID snowflake.ID, providerRefundID string) (*RefundRequest, error)
	RejectRefund(ctx context.Context, orgID, refundID snowflake.ID, reason string) (*RefundRequest, error)
	ListRefunds(ctx context.Context, orgID, orderID snowflake.ID) ([]RefundRequest, error)

	ListPaidCreditPurchases(ctx context.Context, since time.Time, limit int) ([]PaidCreditPurchase, error)
}

type CreateOrderRequest struct {
	OrgID        snowflake.ID
	ProductType  ProductType
	Currency     string
	Credits      int64
	Amount       int64
	DiscountCode string
	Description  string
	Metadata     map[string]any
}

type ListOrdersRequest struct {
	OrgID  snowflake.ID
	Status OrderStatus
	pagination.Pagination
}

type OpenPaymentRequest struct {
	OrgID    snowflake.ID
	OrderID  snowflake.ID
	Provider string
}

type SettlePaymentRequest struct {
	PaymentID snowflake.ID
	// NetworkPaymentID is the network's own payment id, kept in metadata because
	// provider_payment_id stays the session token.
	NetworkPaymentID string
	Metadata         map[string]any
}

// SettleOutcome reports what a settlement attempt changed. Won is true only for the
// single caller that moved the payment to succeeded. Recovered is set when that
// payment had already been marked failed before the network confirmed the capture.
type SettleOutcome struct {
	Won        bool
	OrderPaid  bool
	Recovered  bool
	Payment    *Payment
	Order      *Order
	Invoice    *Invoice
	LateRefund *RefundRequest
}

type RefundRequestInput struct {
	OrgID       snowflake.ID
	OrderID     snowflake.ID
	Amount      int64
	Reason      string
	Destination RefundDestination
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidProductType  = errors.New("invalid_product_type")
	ErrInvalidCredits      = errors.New("invalid_credits")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderExpired        = errors.New("order_expired")
	ErrOrderNotPayable     = errors.New("order_not_payable")
	ErrZeroAmountOrder     = errors.New("zero_amount_order")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrRefundNotFound      = errors.New("refund_not_found")
	ErrRefundExceedsPaid   = errors.New("refund_exceeds_paid")
	ErrOrderNotRefundable  = errors.New("order_not_refundable")

	ErrInvalidRefundDestination = errors.New("invalid_refund_destination")
)
