package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	"github.com/smallbiznis/settlement/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const effectsTimeout = 10 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Adapters *adapters.Registry
	Orders   orderdomain.Service
	Credits  creditdomain.Service
	Events   paymentdomain.Repository
	Orgs     organizationdomain.Lookup   `optional:"true"`
	Notifier notificationdomain.Notifier `optional:"true"`
	Metrics  *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	adapters *adapters.Registry
	orders   orderdomain.Service
	credits  creditdomain.Service
	events   paymentdomain.Repository
	orgs     organizationdomain.Lookup
	notifier notificationdomain.Notifier
	metrics  *metrics.Metrics

	networkTimeout time.Duration
	fallbackWindow time.Duration
	publicBaseURL  string
}

func NewService(p Params) settlementdomain.Service {
	networkTimeout := p.Config.Settlement.NetworkTimeout
	if networkTimeout <= 0 {
		networkTimeout = 15 * time.Second
	}
	fallbackWindow := p.Config.Settlement.FallbackWindow
	if fallbackWindow <= 0 {
		fallbackWindow = 30 * time.Minute
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("settlement.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		adapters:       p.Adapters,
		orders:         p.Orders,
		credits:        p.Credits,
		events:         p.Events,
		orgs:           p.Orgs,
		notifier:       p.Notifier,
		metrics:        p.Metrics,
		networkTimeout: networkTimeout,
		fallbackWindow: fallbackWindow,
		publicBaseURL:  strings.TrimRight(strings.TrimSpace(p.Config.Settlement.PublicBaseURL), "/"),
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// CreateSession records a pending payment and opens a hosted checkout for it. The
// network call happens outside any transaction; when it fails the payment is
// marked failed so the order can be retried with a new attempt.
func (s *Service) CreateSession(ctx context.Context, req settlementdomain.CheckoutRequest) (*settlementdomain.CheckoutSession, error) {
	provider := normalizeProvider(req.Provider)
	if provider == "" || req.OrgID == 0 || req.OrderID == 0 {
		return nil, settlementdomain.ErrInvalidCheckout
	}
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	payment, order, err := s.orders.OpenPayment(ctx, orderdomain.OpenPaymentRequest{
		OrgID:    req.OrgID,
		OrderID:  req.OrderID,
		Provider: provider,
	})
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		email = s.billingEmail(ctx, order.OrgID)
	}
	sessionReq := paymentdomain.SessionRequest{
		OrgID:         order.OrgID,
		PaymentID:     payment.ID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Description:   order.Description,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		ReturnURL:     s.returnURL(provider, payment),
		CancelURL:     strings.TrimSpace(req.CancelURL),
		NotifyURL:     s.publicBaseURL + "/webhooks/" + provider,
		CustomerEmail: email,
		Metadata:      map[string]string{"order_number": order.OrderNumber},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	started := time.Now()
	session, err := adapter.CreateSession(callCtx, sessionReq)
	cancel()
	s.metrics.RecordProviderCall(ctx, provider, "create_session", time.Since(started), err)
	if err != nil {
		s.log.Error("open checkout session failed",
			zap.String("provider", provider),
			zap.String("order_id", order.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		if _, failErr := s.orders.FailPayment(context.WithoutCancel(ctx), payment.ID, "session_error"); failErr != nil {
			s.log.Error("mark payment failed after session error", zap.String("payment_id", payment.ID.String()), zap.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %w", settlementdomain.ErrSessionOpenFailed, err)
	}

	if err := s.orders.AttachSession(ctx, payment.ID, session.SessionID, session.Metadata); err != nil {
		return nil, err
	}

	s.log.Info("checkout session opened",
		zap.String("provider", provider),
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
	)
	return &settlementdomain.CheckoutSession{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		Provider:    provider,
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// returnURL carries the organization and the local payment id so the return can be
// matched even when the network drops its own token.
func (s *Service) returnURL(provider string, payment *orderdomain.Payment) string {
	query := url.Values{}
	query.Set("org_id", payment.OrgID.String())
	query.Set("ref", payment.ID.String())
	return s.publicBaseURL + "/api/payments/return/" + provider + "?" + query.Encode()
}

// SettleOrder is the single place where evidence changes payment, order and
// invoice state. Only the caller that wins the pending to succeeded transition
// runs the downstream effects.
func (s *Service) SettleOrder(ctx context.Context, paymentID snowflake.ID, provider string, evidence settlementdomain.Evidence) (*settlementdomain.Result, error) {
	provider = normalizeProvider(provider)
	payment, err := s.orders.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if provider != "" && payment.Provider != provider {
		return nil, settlementdomain.ErrProviderMismatch
	}

	log := s.log.With(
		zap.String("provider", payment.Provider),
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", payment.OrderID.String()),
		zap.String("source", evidence.Source),
	)

	switch evidence.Status {
	case paymentdomain.StatusFailed:
		failed, err := s.orders.FailPayment(ctx, payment.ID, evidence.FailureReason)
		if err != nil {
			s.metrics.RecordSettlement(ctx, payment.Provider, "error")
			return nil, err
		}
		if failed {
			log.Info("payment failed at network", zap.String("reason", evidence.FailureReason))
		}
		s.metrics.RecordSettlement(ctx, payment.Provider, "failed")
		return s.readResult(ctx, payment.ID)

	case paymentdomain.StatusSucceeded:
		if err := checkAmount(payment, evidence); err != nil {
			log.Error("network amount does not match payment",
				zap.Int64("expected_amount", payment.Amount),
				zap.String("expected_currency", payment.Currency),
				zap.Int64("amount", evidence.Amount),
				zap.String("currency", evidence.Currency),
			)
			s.metrics.RecordSettlement(ctx, payment.Provider, "amount_mismatch")
			return nil, err
		}

		outcome, err := s.orders.SettlePayment(ctx, orderdomain.SettlePaymentRequest{
			PaymentID:        payment.ID,
			NetworkPaymentID: evidence.NetworkPaymentID,
			Metadata:         evidence.Metadata,
		})
		if err != nil {
			s.metrics.RecordSettlement(ctx, payment.Provider, "error")
			return nil, err
		}
		if !outcome.Won {
			s.metrics.RecordSettlement(ctx, payment.Provider, "already_settled")
			result, err := s.readResult(ctx, payment.ID)
			if err != nil {
				return nil, err
			}
			result.AlreadySettled = true
			return result, nil
		}

		log.Info("payment settled",
			zap.Bool("order_paid", outcome.OrderPaid),
			zap.Bool("recovered", outcome.Recovered),
		)
		s.metrics.RecordSettlement(ctx, payment.Provider, "settled")
		s.runEffects(ctx, outcome)
		return outcomeResult(outcome), nil

	default:
		s.metrics.RecordSettlement(ctx, payment.Provider, "pending")
		result, err := s.readResult(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		if result.PaymentStatus == orderdomain.PaymentStatusPending {
			result.Pending = true
		}
		return result, nil
	}
}

// ConfirmFreeOrder settles an order with nothing to collect.
func (s *Service) ConfirmFreeOrder(ctx context.Context, orgID, orderID snowflake.ID) (*settlementdomain.Result, error) {
	outcome, err := s.orders.ConfirmZeroAmount(ctx, orgID, orderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrInvalidAmount) {
			return nil, settlementdomain.ErrOrderNotFree
		}
		return nil, err
	}
	if outcome.Won {
		s.log.Info("zero amount order confirmed", zap.String("order_id", orderID.String()))
		s.runEffects(ctx, outcome)
	}
	result := outcomeResult(outcome)
	result.AlreadySettled = !outcome.Won
	return result, nil
}

// ReconcileCreditGrants grants credits for paid credit invoices whose grant was
// lost, for example when the process died between settlement and its effects.
func (s *Service) ReconcileCreditGrants(ctx context.Context, since time.Time, limit int) (int, error) {
	purchases, err := s.orders.ListPaidCreditPurchases(ctx, since, limit)
	if err != nil {
		return 0, err
	}
	granted := 0
	for _, purchase := range purchases {
		key := grantKey(purchase.InvoiceID)
		exists, err := s.credits.HasGrant(ctx, key)
		if err != nil {
			return granted, err
		}
		if exists {
			continue
		}
		_, created, err := s.credits.Grant(ctx, creditdomain.GrantRequest{
			OrgID:          purchase.OrgID,
			Amount:         purchase.Credits,
			ReferenceID:    purchase.OrderID.String(),
			IdempotencyKey: key,
			Metadata: map[string]any{
				"invoice_id": purchase.InvoiceID.String(),
				"source":     "reconcile",
			},
		})
		if err != nil {
			return granted, err
		}
		if created {
			granted++
			s.log.Warn("credit grant reconciled",
				zap.String("org_id", purchase.OrgID.String()),
				zap.String("invoice_id", purchase.InvoiceID.String()),
				zap.Int64("credits", purchase.Credits),
			)
		}
	}
	return granted, nil
}

func (s *Service) readResult(ctx context.Context, paymentID snowflake.ID) (*settlementdomain.Result, error) {
	payment, err := s.orders.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, payment.OrgID, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &settlementdomain.Result{
		PaymentID:     payment.ID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
		Pending:       payment.Status == orderdomain.PaymentStatusPending,
		Settled:       payment.Status == orderdomain.PaymentStatusSucceeded && order.IsPaid(),
		FailureReason: payment.FailureReason,
	}, nil
}

func outcomeResult(outcome *orderdomain.SettleOutcome) *settlementdomain.Result {
	result := &settlementdomain.Result{Settled: outcome.OrderPaid}
	if outcome.Payment != nil {
		result.PaymentID = outcome.Payment.ID
		result.PaymentStatus = outcome.Payment.Status
	}
	if outcome.Order != nil {
		result.OrderID = outcome.Order.ID
		result.OrderNumber = outcome.Order.OrderNumber
		result.OrderStatus = outcome.Order.Status
	}
	if outcome.LateRefund != nil {
		id := outcome.LateRefund.ID
		result.RefundID = &id
	}
	return result
}

// checkAmount compares the network's figures with the payment when the network
// reported them.
func checkAmount(payment *orderdomain.Payment, evidence settlementdomain.Evidence) error {
	if evidence.Amount != 0 && evidence.Amount != payment.Amount {
		return settlementdomain.ErrAmountMismatch
	}
	currency := paymentdomain.NormalizeCurrency(evidence.Currency)
	if currency != "" && currency != paymentdomain.NormalizeCurrency(payment.Currency) {
		return settlementdomain.ErrAmountMismatch
	}
	return nil
}

func grantKey(invoiceID snowflake.ID) string {
	return "invoice:" + invoiceID.String()
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
