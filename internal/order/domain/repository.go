package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository holds the conditional updates behind every ledger transition. Methods
// returning bool report whether the guarded row was actually changed.
type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Order, error)
	FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListOrders(ctx context.Context, db *gorm.DB, req ListOrdersRequest) ([]*Order, error)
	LockOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error
	FindInvoiceByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Invoice, error)

	MarkOrderPaid(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error)
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error)
	MarkOrderCompleted(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID, now time.Time) (bool, error)
	MarkOrderCancelled(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID, reason string, now time.Time) (bool, error)
	MarkOrderRefunded(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error)
	ListExpiredOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Order, error)
	ExpireOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByToken(ctx context.Context, db *gorm.DB, provider, token string) (*Payment, error)
	FindRecentPendingPayment(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, since time.Time) (*Payment, error)
	ListPayments(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]Payment, error)
	AttachToken(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, token string, metadata map[string]any, now time.Time) (bool, error)
	MarkPaymentSucceeded(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, from PaymentStatus, metadata map[string]any, now time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, now time.Time) (bool, error)
	SettlingPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *RefundRequest) error
	FindRefund(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*RefundRequest, error)
	ListRefunds(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]RefundRequest, error)
	SumRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, statuses []RefundStatus) (int64, error)
	TransitionRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to RefundStatus, fields map[string]any) (bool, error)

	ListPaidCreditPurchases(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]PaidCreditPurchase, error)
}
