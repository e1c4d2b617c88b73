package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdapterSource resolves the network adapter used to push refunds back to the payer.
type AdapterSource interface {
	Get(provider string) (paymentdomain.PaymentAdapter, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     orderdomain.Repository
	Pricing  pricingdomain.Resolver
	Adapters AdapterSource `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     orderdomain.Repository
	pricing  pricingdomain.Resolver
	adapters AdapterSource
	orderTTL time.Duration
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		pricing:  p.Pricing,
		adapters: p.Adapters,
		orderTTL: p.Config.Settlement.OrderTTL,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.Order, error) {
	if req.OrgID == 0 {
		return nil, orderdomain.ErrInvalidOrganization
	}
	if !req.ProductType.Valid() {
		return nil, orderdomain.ErrInvalidProductType
	}
	currency := paymentdomain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, orderdomain.ErrInvalidCurrency
	}

	quoteReq := pricingdomain.QuoteRequest{
		Currency:     currency,
		DiscountCode: req.DiscountCode,
	}
	switch req.ProductType {
	case orderdomain.ProductTypeCreditPurchase:
		if req.Credits <= 0 {
			return nil, orderdomain.ErrInvalidCredits
		}
		quoteReq.Credits = req.Credits
	case orderdomain.ProductTypeService:
		if req.Amount < 0 {
			return nil, orderdomain.ErrInvalidAmount
		}
		quoteReq.Amount = req.Amount
	}

	quote, err := s.pricing.Quote(ctx, quoteReq)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &orderdomain.Order{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		OrderNumber:    "ORD-" + ulid.Make().String(),
		Currency:       quote.Currency,
		Amount:         quote.Amount,
		OriginalAmount: quote.OriginalAmount,
		DiscountAmount: quote.DiscountAmount,
		DiscountCodeID: quote.DiscountCodeID,
		ProductType:    req.ProductType,
		Credits:        req.Credits,
		Description:    strings.TrimSpace(req.Description),
		Status:         orderdomain.OrderStatusPendingPayment,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.ProductType == orderdomain.ProductTypeService {
		order.Credits = 0
	}
	if order.Metadata == nil {
		order.Metadata = datatypes.JSONMap{}
	}
	if s.orderTTL > 0 {
		expiresAt := now.Add(s.orderTTL)
		order.ExpiresAt = &expiresAt
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	invoice := &orderdomain.Invoice{
		ID:        s.genID.Generate(),
		OrgID:     order.OrgID,
		OrderID:   order.ID,
		Type:      order.ProductType,
		Total:     order.Amount,
		Currency:  order.Currency,
		Status:    orderdomain.InvoiceStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.DiscountCodeID != nil {
			if err := s.pricing.Redeem(ctx, tx, *order.DiscountCodeID); err != nil {
				return err
			}
		}
		if err := s.repo.InsertOrder(ctx, tx, order); err != nil {
			return err
		}
		return s.repo.InsertInvoice(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("org_id", order.OrgID.String()),
		zap.String("product_type", string(order.ProductType)),
		zap.Int64("amount", order.Amount),
		zap.String("currency", order.Currency),
	)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orgID, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindOrder(ctx, s.db, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, req orderdomain.ListOrdersRequest) ([]*orderdomain.Order, pagination.PageInfo, error) {
	if req.OrgID == 0 {
		return nil, pagination.PageInfo{}, orderdomain.ErrInvalidOrganization
	}
	items, err := s.repo.ListOrders(ctx, s.db, req)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	items, pageInfo := pagination.Trim(items, req.Size(), func(o *orderdomain.Order) pagination.Cursor {
		return pagination.Cursor{ID: o.ID.String(), CreatedAt: o.CreatedAt.Format(time.RFC3339Nano)}
	})
	return items, pageInfo, nil
}

func (s *Service) GetInvoice(ctx context.Context, orgID, orderID snowflake.ID) (*orderdomain.Invoice, error) {
	if _, err := s.GetOrder(ctx, orgID, orderID); err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindInvoiceByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, orderdomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID snowflake.ID) (*orderdomain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, orderdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListPayments(ctx context.Context, orgID, orderID snowflake.ID) ([]orderdomain.Payment, error) {
	if _, err := s.GetOrder(ctx, orgID, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, s.db, orgID, orderID)
}

func (s *Service) FindPaymentByToken(ctx context.Context, provider, token string) (*orderdomain.Payment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, orderdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindPaymentByToken(ctx, s.db, normalizeProvider(provider), token)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, orderdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) FindRecentPendingPayment(ctx context.Context, orgID snowflake.ID, provider string, since time.Time) (*orderdomain.Payment, error) {
	if orgID == 0 {
		return nil, orderdomain.ErrInvalidOrganization
	}
	payment, err := s.repo.FindRecentPendingPayment(ctx, s.db, orgID, normalizeProvider(provider), since)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, orderdomain.ErrPaymentNotFound
	}
	return payment, nil
}

// OpenPayment records a pending attempt before any network call is made so a
// session is never opened without a row to settle against.
func (s *Service) OpenPayment(ctx context.Context, req orderdomain.OpenPaymentRequest) (*orderdomain.Payment, *orderdomain.Order, error) {
	provider := normalizeProvider(req.Provider)
	if provider == "" {
		return nil, nil, orderdomain.ErrInvalidProvider
	}
	order, err := s.GetOrder(ctx, req.OrgID, req.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != orderdomain.OrderStatusPendingPayment {
		return nil, nil, orderdomain.ErrOrderNotPayable
	}
	now := s.now()
	if order.ExpiresAt != nil && !now.Before(*order.ExpiresAt) {
		return nil, nil, orderdomain.ErrOrderExpired
	}
	if order.Amount == 0 {
		return nil, nil, orderdomain.ErrZeroAmountOrder
	}

	payment := &orderdomain.Payment{
		ID:        s.genID.Generate(),
		OrgID:     order.OrgID,
		OrderID:   order.ID,
		Provider:  provider,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Status:    orderdomain.PaymentStatusPending,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
		return nil, nil, err
	}
	return payment, order, nil
}

func (s *Service) AttachSession(ctx context.Context, paymentID snowflake.ID, token string, metadata map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return orderdomain.ErrInvalidTransition
	}
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	ok, err := s.repo.AttachToken(ctx, s.db, paymentID, token, mergeMetadata(payment.Metadata, metadata), s.now())
	if err != nil {
		return err
	}
	if !ok {
		return orderdomain.ErrInvalidTransition
	}
	return nil
}

// FailPayment moves a pending payment to failed. A payment that already reached a
// terminal state is left untouched and reported as false.
func (s *Service) FailPayment(ctx context.Context, paymentID snowflake.ID, reason string) (bool, error) {
	ok, err := s.repo.MarkPaymentFailed(ctx, s.db, paymentID, strings.TrimSpace(reason), s.now())
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("payment failed",
			zap.String("payment_id", paymentID.String()),
			zap.String("reason", reason),
		)
	}
	return ok, nil
}

// SettlePayment applies a confirmed success. The payment transition is the guard:
// only the caller that moves it to succeeded touches the order and invoice.
// A success for an order that can no longer be paid is still recorded as a late
// payment, and a full refund request is opened for it in the same transaction.
// A payment already marked failed is recovered the same way when the network
// later confirms it was captured.
func (s *Service) SettlePayment(ctx context.Context, req orderdomain.SettlePaymentRequest) (*orderdomain.SettleOutcome, error) {
	outcome := &orderdomain.SettleOutcome{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return orderdomain.ErrPaymentNotFound
		}
		if err := s.repo.LockOrder(ctx, tx, payment.OrderID); err != nil {
			return err
		}
		if payment, err = s.repo.FindPayment(ctx, tx, req.PaymentID); err != nil {
			return err
		}
		order, err := s.repo.FindOrderByID(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		late := order.Status != orderdomain.OrderStatusPendingPayment

		metadata := mergeMetadata(payment.Metadata, req.Metadata)
		if networkID := strings.TrimSpace(req.NetworkPaymentID); networkID != "" {
			metadata["network_payment_id"] = networkID
		}
		if late {
			metadata[orderdomain.MetadataLatePayment] = true
		}

		from := orderdomain.PaymentStatusPending
		if payment.Status == orderdomain.PaymentStatusFailed {
			from = orderdomain.PaymentStatusFailed
			metadata["recovered_failure_reason"] = payment.FailureReason
		}

		now := s.now()
		won, err := s.repo.MarkPaymentSucceeded(ctx, tx, payment.ID, from, metadata, now)
		if err != nil {
			return err
		}
		outcome.Won = won
		if !won {
			outcome.Payment = payment
			return nil
		}
		outcome.Recovered = from == orderdomain.PaymentStatusFailed

		if !late {
			orderPaid, err := s.repo.MarkOrderPaid(ctx, tx, payment.OrderID, now)
			if err != nil {
				return err
			}
			if !orderPaid {
				return orderdomain.ErrInvalidTransition
			}
			outcome.OrderPaid = true
			if _, err := s.repo.MarkInvoicePaid(ctx, tx, payment.OrderID, now); err != nil {
				return err
			}
		} else {
			refund := &orderdomain.RefundRequest{
				ID:                s.genID.Generate(),
				OrgID:             payment.OrgID,
				OrderID:           payment.OrderID,
				PaymentID:         payment.ID,
				Amount:            payment.Amount,
				Currency:          payment.Currency,
				Status:            orderdomain.RefundStatusPending,
				RefundDestination: orderdomain.RefundDestinationOriginal,
				Provider:          payment.Provider,
				Reason:            "late_payment",
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
				return err
			}
			outcome.LateRefund = refund
		}

		if outcome.Payment, err = s.repo.FindPayment(ctx, tx, payment.ID); err != nil {
			return err
		}
		if outcome.Order, err = s.repo.FindOrderByID(ctx, tx, payment.OrderID); err != nil {
			return err
		}
		outcome.Invoice, err = s.repo.FindInvoiceByOrder(ctx, tx, payment.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome.Recovered {
		s.log.Warn("payment captured after it was marked failed",
			zap.String("payment_id", req.PaymentID.String()),
			zap.Bool("order_paid", outcome.OrderPaid),
		)
	}
	if outcome.LateRefund != nil {
		s.log.Warn("payment succeeded for an order that is no longer payable, refund opened",
			zap.String("payment_id", req.PaymentID.String()),
			zap.String("order_id", outcome.LateRefund.OrderID.String()),
			zap.String("refund_id", outcome.LateRefund.ID.String()),
		)
	}
	return outcome, nil
}

// ConfirmZeroAmount settles an order that has nothing to collect. No payment row
// is written.
func (s *Service) ConfirmZeroAmount(ctx context.Context, orgID, orderID snowflake.ID) (*orderdomain.SettleOutcome, error) {
	order, err := s.GetOrder(ctx, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Amount != 0 {
		return nil, orderdomain.ErrInvalidAmount
	}
	if order.Status == orderdomain.OrderStatusPendingPayment && order.ExpiresAt != nil && !s.now().Before(*order.ExpiresAt) {
		return nil, orderdomain.ErrOrderExpired
	}

	outcome := &orderdomain.SettleOutcome{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		won, err := s.repo.MarkOrderPaid(ctx, tx, order.ID, now)
		if err != nil {
			return err
		}
		outcome.Won = won
		outcome.OrderPaid = won
		if won {
			if _, err := s.repo.MarkInvoicePaid(ctx, tx, order.ID, now); err != nil {
				return err
			}
		}
		if outcome.Order, err = s.repo.FindOrderByID(ctx, tx, order.ID); err != nil {
			return err
		}
		outcome.Invoice, err = s.repo.FindInvoiceByOrder(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Won && !outcome.Order.IsPaid() {
		return nil, orderdomain.ErrInvalidTransition
	}
	return outcome, nil
}

func (s *Service) CompleteOrder(ctx context.Context, orgID, orderID snowflake.ID) (*orderdomain.Order, error) {
	ok, err := s.repo.MarkOrderCompleted(ctx, s.db, orgID, orderID, s.now())
	if err != nil {
		return nil, err
	}
	order, err := s.GetOrder(ctx, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if !ok && order.Status != orderdomain.OrderStatusCompleted {
		return nil, orderdomain.ErrInvalidTransition
	}
	return order, nil
}

func (s *Service) CancelOrder(ctx context.Context, orgID, orderID snowflake.ID, reason string) (*orderdomain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = orderdomain.CancelReasonRequested
	}
	ok, err := s.repo.MarkOrderCancelled(ctx, s.db, orgID, orderID, reason, s.now())
	if err != nil {
		return nil, err
	}
	order, err := s.GetOrder(ctx, orgID, orderID)
	if err != nil {
		return nil, err
	}
	if !ok && order.Status != orderdomain.OrderStatusCancelled {
		return nil, orderdomain.ErrInvalidTransition
	}
	return order, nil
}

// ExpirePendingOrders cancels unpaid orders past their expiry and reports how many
// were cancelled by this call.
func (s *Service) ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	orders, err := s.repo.ListExpiredOrders(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, order := range orders {
		ok, err := s.repo.ExpireOrder(ctx, s.db, order.ID, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("expired pending orders", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) ListPaidCreditPurchases(ctx context.Context, since time.Time, limit int) ([]orderdomain.PaidCreditPurchase, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListPaidCreditPurchases(ctx, s.db, since, limit)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func mergeMetadata(base datatypes.JSONMap, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

var _ orderdomain.Service = (*Service)(nil)
