package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/order/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListOrders(ctx context.Context, db *gorm.DB, req domain.ListOrdersRequest) ([]*domain.Order, error) {
	stmt := db.WithContext(ctx).Model(&domain.Order{}).Where("org_id = ?", req.OrgID)
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}
	var items []*domain.Order
	if err := pagination.Apply(stmt, req.Pagination).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// LockOrder takes the order row lock for the rest of the transaction. SQLite has a
// single writer and needs none.
func (r *repo) LockOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error {
	if db.Dialector.Name() == "sqlite" {
		return nil
	}
	var id int64
	return db.WithContext(ctx).Raw(
		`SELECT id FROM orders WHERE id = ? FOR UPDATE`,
		orderID,
	).Scan(&id).Error
}

func (r *repo) FindInvoiceByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkOrderPaid(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.OrderStatusPaid,
		now,
		now,
		orderID,
		domain.OrderStatusPendingPayment,
	))
}

func (r *repo) MarkInvoicePaid(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		domain.InvoiceStatusPaid,
		now,
		now,
		orderID,
		domain.InvoiceStatusDraft,
	))
}

func (r *repo) MarkOrderCompleted(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		domain.OrderStatusCompleted,
		now,
		now,
		orgID,
		orderID,
		domain.OrderStatusPaid,
	))
}

func (r *repo) MarkOrderCancelled(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID, reason string, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		domain.OrderStatusCancelled,
		reason,
		now,
		now,
		orgID,
		orderID,
		domain.OrderStatusPendingPayment,
	))
}

func (r *repo) MarkOrderRefunded(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.OrderStatusRefunded,
		now,
		now,
		orderID,
		domain.OrderStatusPaid,
		domain.OrderStatusCompleted,
	))
}

func (r *repo) ListExpiredOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.OrderStatusPendingPayment, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// ExpireOrder re-checks status and expiry in the update itself so an order paid
// after it was listed is left alone.
func (r *repo) ExpireOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		domain.OrderStatusCancelled,
		domain.CancelReasonExpired,
		now,
		now,
		orderID,
		domain.OrderStatusPendingPayment,
		now,
	))
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPaymentByToken(ctx context.Context, db *gorm.DB, provider, token string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, token).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindRecentPendingPayment(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, since time.Time) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND status = ? AND created_at >= ?", orgID, provider, domain.PaymentStatusPending, since).
		Order("created_at desc, id desc").
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).
		Where("org_id = ? AND order_id = ?", orgID, orderID).
		Order("created_at asc, id asc").
		Find(&items).Error
	return items, err
}

// AttachToken stores the session token once. A payment that already carries a
// token or left pending is not touched.
func (r *repo) AttachToken(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, token string, metadata map[string]any, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_payment_id = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND provider_payment_id IS NULL`,
		token,
		datatypes.JSONMap(metadata),
		now,
		paymentID,
		domain.PaymentStatusPending,
	))
}

// MarkPaymentSucceeded moves a payment out of from. Only pending and failed
// payments can be captured, and each only once.
func (r *repo) MarkPaymentSucceeded(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, from domain.PaymentStatus, metadata map[string]any, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, processed_at = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND processed_at IS NULL`,
		domain.PaymentStatusSucceeded,
		now,
		datatypes.JSONMap(metadata),
		now,
		paymentID,
		from,
	))
}

func (r *repo) MarkPaymentFailed(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reason string, now time.Time) (bool, error) {
	return affected(db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusFailed,
		reason,
		now,
		paymentID,
		domain.PaymentStatusPending,
	))
}

// SettlingPayment returns the first success that paid the order. Late payments
// are surplus and never count.
func (r *repo) SettlingPayment(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, domain.PaymentStatusSucceeded).
		Order("processed_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for i := range items {
		if !items[i].IsLatePayment() {
			return &items[i], nil
		}
	}
	return nil, nil
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.RefundRequest) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefund(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.RefundRequest, error) {
	var item domain.RefundRequest
	if err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListRefunds(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]domain.RefundRequest, error) {
	var items []domain.RefundRequest
	err := db.WithContext(ctx).
		Where("org_id = ? AND order_id = ?", orgID, orderID).
		Order("created_at asc, id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) SumRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, statuses []domain.RefundStatus) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM refund_requests
		 WHERE payment_id = ? AND status IN ?`,
		paymentID,
		statuses,
	).Scan(&total).Error
	return total, err
}

func (r *repo) TransitionRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.RefundStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for key, value := range fields {
		updates[key] = value
	}
	return affected(db.WithContext(ctx).
		Model(&domain.RefundRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates))
}

// ListPaidCreditPurchases returns paid credit invoices that have no grant recorded
// under their invoice key yet, oldest first.
func (r *repo) ListPaidCreditPurchases(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.PaidCreditPurchase, error) {
	var items []domain.PaidCreditPurchase
	err := db.WithContext(ctx).Raw(
		`SELECT o.org_id, o.id AS order_id, i.id AS invoice_id, o.credits, i.paid_at
		 FROM invoices i
		 JOIN orders o ON o.id = i.order_id
		 WHERE i.type = ? AND i.status = ? AND i.paid_at >= ? AND o.credits > 0
		   AND NOT EXISTS (
		     SELECT 1 FROM credit_transactions ct
		     WHERE ct.idempotency_key = 'invoice:' || CAST(i.id AS TEXT)
		   )
		 ORDER BY i.paid_at ASC, i.id ASC
		 LIMIT ?`,
		domain.ProductTypeCreditPurchase,
		domain.InvoiceStatusPaid,
		since,
		limit,
	).Scan(&items).Error
	return items, err
}

func affected(res *gorm.DB) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
