package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var openRefundStatuses = []orderdomain.RefundStatus{
	orderdomain.RefundStatusPending,
	orderdomain.RefundStatusApproved,
	orderdomain.RefundStatusProcessing,
	orderdomain.RefundStatusCompleted,
}

// RequestRefund opens a refund against the payment that settled the order. Amount
// zero asks for everything not already claimed by other refunds of that payment.
// Late payments are refunded through their own request and never count here.
func (s *Service) RequestRefund(ctx context.Context, req orderdomain.RefundRequestInput) (*orderdomain.RefundRequest, error) {
	if req.Amount < 0 {
		return nil, orderdomain.ErrInvalidAmount
	}
	destination := req.Destination
	if destination == "" {
		destination = orderdomain.RefundDestinationOriginal
	}
	if destination != orderdomain.RefundDestinationOriginal && destination != orderdomain.RefundDestinationWallet {
		return nil, orderdomain.ErrInvalidRefundDestination
	}

	var refund *orderdomain.RefundRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindOrder(ctx, tx, req.OrgID, req.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		if !order.IsPaid() {
			return orderdomain.ErrOrderNotRefundable
		}
		if err := s.repo.LockOrder(ctx, tx, order.ID); err != nil {
			return err
		}

		payment, err := s.repo.SettlingPayment(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if payment == nil {
			return orderdomain.ErrOrderNotRefundable
		}
		claimed, err := s.repo.SumRefunds(ctx, tx, payment.ID, openRefundStatuses)
		if err != nil {
			return err
		}
		amount := req.Amount
		if amount == 0 {
			amount = payment.Amount - claimed
		}
		if amount <= 0 || claimed+amount > payment.Amount {
			return orderdomain.ErrRefundExceedsPaid
		}

		now := s.now()
		refund = &orderdomain.RefundRequest{
			ID:                s.genID.Generate(),
			OrgID:             order.OrgID,
			OrderID:           order.ID,
			PaymentID:         payment.ID,
			Amount:            amount,
			Currency:          order.Currency,
			Status:            orderdomain.RefundStatusPending,
			RefundDestination: destination,
			Provider:          payment.Provider,
			Reason:            strings.TrimSpace(req.Reason),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return s.repo.InsertRefund(ctx, tx, refund)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("refund requested",
		zap.String("refund_id", refund.ID.String()),
		zap.String("order_id", refund.OrderID.String()),
		zap.Int64("amount", refund.Amount),
	)
	return refund, nil
}

func (s *Service) ApproveRefund(ctx context.Context, orgID, refundID snowflake.ID) (*orderdomain.RefundRequest, error) {
	return s.transitionRefund(ctx, orgID, refundID, orderdomain.RefundStatusPending, orderdomain.RefundStatusApproved, nil)
}

func (s *Service) RejectRefund(ctx context.Context, orgID, refundID snowflake.ID, reason string) (*orderdomain.RefundRequest, error) {
	fields := map[string]any{}
	if reason = strings.TrimSpace(reason); reason != "" {
		fields["reason"] = reason
	}
	refund, err := s.transitionRefund(ctx, orgID, refundID, orderdomain.RefundStatusPending, orderdomain.RefundStatusRejected, fields)
	if errors.Is(err, orderdomain.ErrInvalidTransition) {
		return s.transitionRefund(ctx, orgID, refundID, orderdomain.RefundStatusApproved, orderdomain.RefundStatusRejected, fields)
	}
	return refund, err
}

// ProcessRefund hands an approved refund to its network. The network call runs
// after the processing transition has committed and outside any transaction.
// Networks without refund support leave the request processing for manual completion.
func (s *Service) ProcessRefund(ctx context.Context, orgID, refundID snowflake.ID) (*orderdomain.RefundRequest, error) {
	refund, err := s.transitionRefund(ctx, orgID, refundID, orderdomain.RefundStatusApproved, orderdomain.RefundStatusProcessing, nil)
	if err != nil {
		return nil, err
	}
	if refund.RefundDestination == orderdomain.RefundDestinationWallet {
		return s.CompleteRefund(ctx, orgID, refundID, "")
	}

	refunder, err := s.refunder(refund.Provider)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrRefundUnsupported) {
			s.log.Info("network has no refund api, awaiting manual completion",
				zap.String("refund_id", refund.ID.String()),
				zap.String("provider", refund.Provider),
			)
			return refund, nil
		}
		return nil, s.revertProcessing(ctx, refund, err)
	}

	payment, err := s.GetPayment(ctx, refund.PaymentID)
	if err != nil {
		return nil, s.revertProcessing(ctx, refund, err)
	}
	networkID, _ := payment.Metadata["network_payment_id"].(string)
	result, err := refunder.Refund(ctx, paymentdomain.RefundRequest{
		SessionID:         payment.Token(),
		ProviderPaymentID: networkID,
		Amount:            refund.Amount,
		Currency:          refund.Currency,
		Reason:            refund.Reason,
		IdempotencyKey:    "refund:" + refund.ID.String(),
	})
	if err != nil {
		return nil, s.revertProcessing(ctx, refund, err)
	}

	switch result.Status {
	case paymentdomain.StatusSucceeded:
		return s.CompleteRefund(ctx, orgID, refundID, result.ProviderRefundID)
	case paymentdomain.StatusFailed:
		return nil, s.revertProcessing(ctx, refund, paymentdomain.NewProviderError(refund.Provider, "refund", 0, errors.New("refund_declined")))
	default:
		if _, err := s.repo.TransitionRefund(ctx, s.db, refund.ID, orderdomain.RefundStatusProcessing, orderdomain.RefundStatusProcessing, map[string]any{
			"provider_refund_id": result.ProviderRefundID,
			"updated_at":         s.now(),
		}); err != nil {
			return nil, err
		}
		refund.ProviderRefundID = result.ProviderRefundID
		return refund, nil
	}
}

// CompleteRefund closes a processing refund. The ceiling of its payment is checked
// again under the order lock. The order becomes refunded once completed refunds
// cover the payment that settled it; refunds of late payments leave it alone.
func (s *Service) CompleteRefund(ctx context.Context, orgID, refundID snowflake.ID, providerRefundID string) (*orderdomain.RefundRequest, error) {
	var refund *orderdomain.RefundRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindRefund(ctx, tx, orgID, refundID)
		if err != nil {
			return err
		}
		if current == nil {
			return orderdomain.ErrRefundNotFound
		}
		if err := s.repo.LockOrder(ctx, tx, current.OrderID); err != nil {
			return err
		}
		if current.Status != orderdomain.RefundStatusProcessing {
			return orderdomain.ErrInvalidTransition
		}

		payment, err := s.repo.FindPayment(ctx, tx, current.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return orderdomain.ErrPaymentNotFound
		}
		completed, err := s.repo.SumRefunds(ctx, tx, payment.ID, []orderdomain.RefundStatus{orderdomain.RefundStatusCompleted})
		if err != nil {
			return err
		}
		if completed+current.Amount > payment.Amount {
			return orderdomain.ErrRefundExceedsPaid
		}

		now := s.now()
		fields := map[string]any{"completed_at": now, "updated_at": now}
		if providerRefundID = strings.TrimSpace(providerRefundID); providerRefundID != "" {
			fields["provider_refund_id"] = providerRefundID
		}
		ok, err := s.repo.TransitionRefund(ctx, tx, current.ID, orderdomain.RefundStatusProcessing, orderdomain.RefundStatusCompleted, fields)
		if err != nil {
			return err
		}
		if !ok {
			return orderdomain.ErrInvalidTransition
		}

		order, err := s.repo.FindOrderByID(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		if order != nil && order.IsPaid() && !payment.IsLatePayment() && completed+current.Amount >= payment.Amount {
			if _, err := s.repo.MarkOrderRefunded(ctx, tx, order.ID, now); err != nil {
				return err
			}
		}

		refund, err = s.repo.FindRefund(ctx, tx, orgID, refundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("refund completed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("order_id", refund.OrderID.String()),
		zap.Int64("amount", refund.Amount),
	)
	return refund, nil
}

func (s *Service) ListRefunds(ctx context.Context, orgID, orderID snowflake.ID) ([]orderdomain.RefundRequest, error) {
	if _, err := s.GetOrder(ctx, orgID, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListRefunds(ctx, s.db, orgID, orderID)
}

func (s *Service) transitionRefund(ctx context.Context, orgID, refundID snowflake.ID, from, to orderdomain.RefundStatus, fields map[string]any) (*orderdomain.RefundRequest, error) {
	current, err := s.repo.FindRefund(ctx, s.db, orgID, refundID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, orderdomain.ErrRefundNotFound
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["updated_at"] = s.now()
	ok, err := s.repo.TransitionRefund(ctx, s.db, refundID, from, to, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orderdomain.ErrInvalidTransition
	}
	current.Status = to
	if reason, ok := fields["reason"].(string); ok {
		current.Reason = reason
	}
	return current, nil
}

func (s *Service) revertProcessing(ctx context.Context, refund *orderdomain.RefundRequest, cause error) error {
	if _, err := s.repo.TransitionRefund(ctx, s.db, refund.ID, orderdomain.RefundStatusProcessing, orderdomain.RefundStatusApproved, map[string]any{
		"updated_at": s.now(),
	}); err != nil {
		s.log.Error("failed to return refund to approved", zap.String("refund_id", refund.ID.String()), zap.Error(err))
	}
	s.log.Warn("network refund failed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("provider", refund.Provider),
		zap.Error(cause),
	)
	return cause
}

func (s *Service) refunder(provider string) (paymentdomain.Refunder, error) {
	if s.adapters == nil {
		return nil, paymentdomain.ErrRefundUnsupported
	}
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return nil, err
	}
	refunder, ok := adapter.(paymentdomain.Refunder)
	if !ok {
		return nil, paymentdomain.ErrRefundUnsupported
	}
	return refunder, nil
}
