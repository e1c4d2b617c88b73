// Package domain contains the order ledger: orders, their payments, invoices and refunds.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

type ProductType string

const (
	ProductTypeCreditPurchase ProductType = "credit_purchase"
	ProductTypeService        ProductType = "service"
)

func (p ProductType) Valid() bool {
	return p == ProductTypeCreditPurchase || p == ProductTypeService
}

const (
	CancelReasonExpired   = "expired"
	CancelReasonRequested = "requested"
)

type Order struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"org_id"`
	OrderNumber    string            `gorm:"type:text;not null;uniqueIndex:ux_orders_number" json:"order_number"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	Amount         int64             `gorm:"not null" json:"amount"`
	OriginalAmount int64             `gorm:"not null" json:"original_amount"`
	DiscountAmount int64             `gorm:"not null;default:0" json:"discount_amount"`
	DiscountCodeID *snowflake.ID     `json:"discount_code_id,omitempty"`
	ProductType    ProductType       `gorm:"type:text;not null" json:"product_type"`
	Credits        int64             `gorm:"not null;default:0" json:"credits"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	Status         OrderStatus       `gorm:"type:text;not null;index" json:"status"`
	ExpiresAt      *time.Time        `gorm:"index" json:"expires_at,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt     *time.Time        `json:"refunded_at,omitempty"`
	CancelReason   string            `gorm:"type:text" json:"cancel_reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Validate checks the money invariants before an order is written.
func (o Order) Validate() error {
	switch {
	case o.OrgID == 0:
		return ErrInvalidOrganization
	case o.Currency == "":
		return ErrInvalidCurrency
	case !o.ProductType.Valid():
		return ErrInvalidProductType
	case o.ProductType == ProductTypeCreditPurchase && o.Credits <= 0:
		return ErrInvalidCredits
	case o.OriginalAmount < 0, o.DiscountAmount < 0, o.Amount < 0:
		return ErrInvalidAmount
	case o.Amount != o.OriginalAmount-o.DiscountAmount:
		return ErrInvalidAmount
	}
	return nil
}

func (o Order) IsPaid() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is one attempt to collect an order through one network. ProviderPaymentID
// holds the session token returned when the attempt was opened.
type Payment struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID      `gorm:"not null;index:ix_payments_org_provider_status,priority:1" json:"org_id"`
	OrderID           snowflake.ID      `gorm:"not null;index" json:"order_id"`
	Provider          string            `gorm:"type:text;not null;uniqueIndex:ux_payments_provider_token,priority:1;index:ix_payments_org_provider_status,priority:2" json:"provider"`
	ProviderPaymentID *string           `gorm:"type:text;uniqueIndex:ux_payments_provider_token,priority:2" json:"provider_payment_id,omitempty"`
	Amount            int64             `gorm:"not null" json:"amount"`
	Currency          string            `gorm:"type:text;not null" json:"currency"`
	Status            PaymentStatus     `gorm:"type:text;not null;index:ix_payments_org_provider_status,priority:3" json:"status"`
	FailureReason     string            `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) Token() string {
	if p.ProviderPaymentID == nil {
		return ""
	}
	return *p.ProviderPaymentID
}

// MetadataLatePayment flags a payment that succeeded after its order stopped
// accepting payments. Such a payment never settles the order.
const MetadataLatePayment = "late_payment"

func (p Payment) IsLatePayment() bool {
	late, _ := p.Metadata[MetadataLatePayment].(bool)
	return late
}

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusPaid  InvoiceStatus = "paid"
)

type Invoice struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID  `gorm:"not null;index" json:"org_id"`
	OrderID   snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_order" json:"order_id"`
	Type      ProductType   `gorm:"type:text;not null" json:"type"`
	Total     int64         `gorm:"not null" json:"total"`
	Currency  string        `gorm:"type:text;not null" json:"currency"`
	Status    InvoiceStatus `gorm:"type:text;not null" json:"status"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusRejected   RefundStatus = "rejected"
)

type RefundDestination string

const (
	RefundDestinationOriginal RefundDestination = "original_instrument"
	RefundDestinationWallet   RefundDestination = "wallet"
)

type RefundRequest struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID      `gorm:"not null;index" json:"org_id"`
	OrderID           snowflake.ID      `gorm:"not null;index" json:"order_id"`
	PaymentID         snowflake.ID      `gorm:"not null;index" json:"payment_id"`
	Amount            int64             `gorm:"not null" json:"amount"`
	Currency          string            `gorm:"type:text;not null" json:"currency"`
	Status            RefundStatus      `gorm:"type:text;not null" json:"status"`
	RefundDestination RefundDestination `gorm:"type:text;not null" json:"refund_destination"`
	Provider          string            `gorm:"type:text;not null" json:"provider"`
	ProviderRefundID  string            `gorm:"type:text" json:"provider_refund_id,omitempty"`
	Reason            string            `gorm:"type:text" json:"reason,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (RefundRequest) TableName() string { return "refund_requests" }

// PaidCreditPurchase is a paid credit invoice together with the credits its order grants.
type PaidCreditPurchase struct {
	OrgID     snowflake.ID
	OrderID   snowflake.ID
	InvoiceID snowflake.ID
	Credits   int64
	PaidAt    time.Time
}
