package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	"go.uber.org/zap"
)

// runEffects grants purchased credits and sends notifications for a settlement
// this caller won. Failures are logged and left to the reconcile job; settlement
// is never rolled back because of them.
func (s *Service) runEffects(ctx context.Context, outcome *orderdomain.SettleOutcome) {
	if outcome == nil || outcome.Order == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectsTimeout)
	defer cancel()

	order := outcome.Order
	log := s.log.With(
		zap.String("org_id", order.OrgID.String()),
		zap.String("order_id", order.ID.String()),
	)

	if outcome.LateRefund != nil {
		s.notify(ctx, log, notificationdomain.Notification{
			Kind:  notificationdomain.KindRefundRequested,
			OrgID: order.OrgID,
			Data: map[string]any{
				"order_number": order.OrderNumber,
				"refund_id":    outcome.LateRefund.ID.String(),
				"amount":       outcome.LateRefund.Amount,
				"currency":     outcome.LateRefund.Currency,
			},
		})
		return
	}
	if !outcome.OrderPaid {
		return
	}

	data := map[string]any{
		"order_number": order.OrderNumber,
		"amount":       order.Amount,
		"currency":     order.Currency,
	}
	if outcome.Invoice != nil {
		data["invoice_id"] = outcome.Invoice.ID.String()
	}
	if order.Amount > 0 {
		s.notify(ctx, log, notificationdomain.Notification{
			Kind:  notificationdomain.KindPaymentSucceeded,
			OrgID: order.OrgID,
			Data:  data,
		})
	}

	if order.ProductType != orderdomain.ProductTypeCreditPurchase || outcome.Invoice == nil {
		return
	}
	created, err := s.grantCredits(ctx, order, outcome.Invoice)
	if err != nil {
		log.Error("credit grant failed, left for reconciliation", zap.Error(err))
		return
	}
	if !created {
		return
	}
	balance, err := s.credits.Balance(ctx, order.OrgID)
	if err != nil {
		log.Warn("read balance for notification", zap.Error(err))
	}
	s.notify(ctx, log, notificationdomain.Notification{
		Kind:  notificationdomain.KindCreditsAdded,
		OrgID: order.OrgID,
		Data: map[string]any{
			"credits":      order.Credits,
			"balance":      balance,
			"order_number": order.OrderNumber,
		},
	})
}

func (s *Service) grantCredits(ctx context.Context, order *orderdomain.Order, invoice *orderdomain.Invoice) (bool, error) {
	key := grantKey(invoice.ID)
	exists, err := s.credits.HasGrant(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	_, created, err := s.credits.Grant(ctx, creditdomain.GrantRequest{
		OrgID:          order.OrgID,
		Amount:         order.Credits,
		ReferenceID:    order.ID.String(),
		IdempotencyKey: key,
		Metadata: map[string]any{
			"invoice_id":   invoice.ID.String(),
			"order_number": order.OrderNumber,
		},
	})
	return created, err
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, n notificationdomain.Notification) {
	if s.notifier == nil {
		return
	}
	if n.Recipient == "" {
		n.Recipient = s.billingEmail(ctx, n.OrgID)
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Warn("notification failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

func (s *Service) billingEmail(ctx context.Context, orgID snowflake.ID) string {
	if s.orgs == nil {
		return ""
	}
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		s.log.Debug("organization lookup failed", zap.String("org_id", orgID.String()), zap.Error(err))
		return ""
	}
	return org.BillingEmail
}
