package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ProcessWebhook verifies, stores and applies one network notification. It
// reports true when the event changed or confirmed payment state, and false for
// ignored, duplicate and unmatched events. Errors are either bad input
// (signature, payload) or transient failures the network should retry.
func (s *Service) ProcessWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (bool, error) {
	provider = normalizeProvider(provider)
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return false, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordPaymentEvent(ctx, provider, "rejected")
		return false, err
	}
	event, err := adapter.ParseWebhook(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordPaymentEvent(ctx, provider, "ignored")
			return false, nil
		}
		s.metrics.RecordPaymentEvent(ctx, provider, "rejected")
		return false, err
	}
	if strings.TrimSpace(event.ProviderEventID) == "" {
		return false, paymentdomain.ErrInvalidEvent
	}

	now := s.now()
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.events.InsertEvent(ctx, s.db, record)
	if err != nil {
		return false, err
	}
	if !inserted {
		stored, err := s.events.FindEvent(ctx, s.db, provider, event.ProviderEventID)
		if err != nil {
			return false, err
		}
		if stored == nil {
			return false, paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.metrics.RecordPaymentEvent(ctx, provider, "duplicate")
			return false, nil
		}
		record = stored
	}

	log := s.log.With(
		zap.String("provider", provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.EventType),
	)

	evidence := settlementdomain.Evidence{
		Status:           event.Status,
		NetworkPaymentID: event.ProviderPaymentID,
		Amount:           event.Amount,
		Currency:         event.Currency,
		FailureReason:    event.FailureReason,
		Source:           settlementdomain.SourceWebhook,
		Metadata:         event.Metadata,
	}

	payment, queried, err := s.matchEvent(ctx, adapter, event)
	if err != nil {
		return false, err
	}
	if payment == nil {
		log.Warn("webhook does not match any payment")
		s.metrics.RecordPaymentEvent(ctx, provider, "unmatched")
		return false, nil
	}
	if err := s.events.AttachPayment(ctx, s.db, record.ID, payment.OrgID, payment.ID); err != nil {
		return false, err
	}

	if evidence.Status == paymentdomain.StatusUnknown {
		if queried == nil {
			queried, err = s.query(ctx, adapter, payment, event)
			if err != nil {
				return false, err
			}
		}
		evidence = evidenceFromResult(queried, settlementdomain.SourceQuery)
	}

	result, err := s.SettleOrder(ctx, payment.ID, provider, evidence)
	if err != nil {
		if errors.Is(err, settlementdomain.ErrAmountMismatch) {
			// stored but never marked processed; an operator has to look at it
			s.metrics.RecordPaymentEvent(ctx, provider, "amount_mismatch")
			return false, nil
		}
		return false, err
	}
	if result.Pending {
		s.metrics.RecordPaymentEvent(ctx, provider, "pending")
		return true, nil
	}
	if err := s.events.MarkProcessed(ctx, s.db, record.ID, s.now()); err != nil {
		return false, err
	}
	s.metrics.RecordPaymentEvent(ctx, provider, "processed")
	log.Info("webhook applied",
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_status", string(result.PaymentStatus)),
	)
	return true, nil
}

// matchEvent finds the local payment an event is about: the merchant reference
// first, then the session token, and for notifications that name neither the
// network is asked which reference the payment carries.
func (s *Service) matchEvent(ctx context.Context, adapter paymentdomain.PaymentAdapter, event *paymentdomain.PaymentEvent) (*orderdomain.Payment, *paymentdomain.PaymentResult, error) {
	provider := normalizeProvider(adapter.Provider())

	if id, ok := event.PaymentRef(); ok {
		payment, err := s.lookupPayment(ctx, id, provider)
		if err != nil || payment != nil {
			return payment, nil, err
		}
	}
	if token := strings.TrimSpace(event.SessionID); token != "" {
		payment, err := s.orders.FindPaymentByToken(ctx, provider, token)
		if err != nil && !errors.Is(err, orderdomain.ErrPaymentNotFound) {
			return nil, nil, err
		}
		if payment != nil {
			return payment, nil, nil
		}
	}
	if event.Status != paymentdomain.StatusUnknown || strings.TrimSpace(event.ProviderPaymentID) == "" {
		return nil, nil, nil
	}

	result, err := s.query(ctx, adapter, nil, event)
	if err != nil {
		return nil, nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(result.Reference))
	if err != nil || id <= 0 {
		return nil, nil, nil
	}
	payment, err := s.lookupPayment(ctx, id, provider)
	return payment, result, err
}

func (s *Service) lookupPayment(ctx context.Context, id snowflake.ID, provider string) (*orderdomain.Payment, error) {
	payment, err := s.orders.GetPayment(ctx, id)
	if errors.Is(err, orderdomain.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payment.Provider != provider {
		return nil, nil
	}
	return payment, nil
}

func (s *Service) query(ctx context.Context, adapter paymentdomain.PaymentAdapter, payment *orderdomain.Payment, event *paymentdomain.PaymentEvent) (*paymentdomain.PaymentResult, error) {
	query := paymentdomain.PaymentQuery{
		SessionID:         event.SessionID,
		ProviderPaymentID: event.ProviderPaymentID,
		Reference:         event.Reference,
	}
	if payment != nil {
		if query.SessionID == "" {
			query.SessionID = payment.Token()
		}
		query.Reference = payment.ID.String()
	}
	callCtx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	defer cancel()
	started := time.Now()
	result, err := adapter.QueryPayment(callCtx, query)
	s.metrics.RecordProviderCall(ctx, adapter.Provider(), "query_payment", time.Since(started), err)
	return result, err
}
