package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"go.uber.org/zap"
)

// tokenParams are the query keys networks use to hand the session token back.
var tokenParams = []string{"token", "session_id", "token_ws", "TBK_TOKEN", "preference_id"}

// VerifyPayment handles the payer's return from a hosted checkout. A payment
// that already left pending is reported as is; otherwise the network is asked
// for the current status and the answer goes through SettleOrder.
func (s *Service) VerifyPayment(ctx context.Context, evidence settlementdomain.ReturnEvidence) (*settlementdomain.Result, error) {
	provider := normalizeProvider(evidence.Provider)
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Get(provider)
	if err != nil {
		return nil, err
	}

	payment, err := s.resolveReturn(ctx, provider, evidence)
	if err != nil {
		return nil, err
	}
	if payment.Status != orderdomain.PaymentStatusPending {
		return s.readResult(ctx, payment.ID)
	}

	query := paymentdomain.PaymentQuery{
		SessionID:         payment.Token(),
		ProviderPaymentID: networkPaymentID(payment),
		Reference:         payment.ID.String(),
		Params:            evidence.Params,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.networkTimeout)
	started := time.Now()
	result, err := adapter.QueryPayment(callCtx, query)
	cancel()
	s.metrics.RecordProviderCall(ctx, provider, "query_payment", time.Since(started), err)
	if err != nil {
		s.log.Warn("query payment on return failed",
			zap.String("provider", provider),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return s.SettleOrder(ctx, payment.ID, provider, evidenceFromResult(result, settlementdomain.SourceReturn))
}

// resolveReturn finds the payment a return refers to: by local reference and
// organization, then by session token, then by the most recent pending payment of
// the same organization and network inside the fallback window.
func (s *Service) resolveReturn(ctx context.Context, provider string, evidence settlementdomain.ReturnEvidence) (*orderdomain.Payment, error) {
	if ref := strings.TrimSpace(evidence.Params["ref"]); ref != "" {
		if id, err := snowflake.ParseString(ref); err == nil && id > 0 {
			payment, err := s.orders.GetPayment(ctx, id)
			if err != nil && !errors.Is(err, orderdomain.ErrPaymentNotFound) {
				return nil, err
			}
			// a reference only matches together with its organization
			if payment != nil && payment.Provider == provider && evidence.OrgID != 0 && payment.OrgID == evidence.OrgID {
				return payment, nil
			}
		}
	}

	if token := returnToken(evidence.Params); token != "" {
		payment, err := s.orders.FindPaymentByToken(ctx, provider, token)
		if err != nil && !errors.Is(err, orderdomain.ErrPaymentNotFound) {
			return nil, err
		}
		if payment != nil && belongsTo(payment, evidence.OrgID) {
			return payment, nil
		}
		if payment != nil {
			return nil, orderdomain.ErrPaymentNotFound
		}
	}

	if evidence.OrgID == 0 {
		return nil, settlementdomain.ErrInvalidReturnOrg
	}
	since := s.now().Add(-s.fallbackWindow)
	payment, err := s.orders.FindRecentPendingPayment(ctx, evidence.OrgID, provider, since)
	if err != nil {
		return nil, err
	}
	s.log.Warn("return matched by token fallback",
		zap.String("provider", provider),
		zap.String("org_id", evidence.OrgID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Duration("window", s.fallbackWindow),
	)
	s.metrics.RecordTokenFallback(ctx, provider)
	return payment, nil
}

func returnToken(params map[string]string) string {
	for _, key := range tokenParams {
		if value := strings.TrimSpace(params[key]); !isPlaceholder(value) {
			return value
		}
	}
	return ""
}

// isPlaceholder reports values that carry no token: empty, the JavaScript
// spellings of nothing, and Stripe's unexpanded template.
func isPlaceholder(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "null", "undefined", "{checkout_session_id}":
		return true
	}
	return false
}

func belongsTo(payment *orderdomain.Payment, orgID snowflake.ID) bool {
	return orgID == 0 || payment.OrgID == orgID
}

func networkPaymentID(payment *orderdomain.Payment) string {
	if payment.Metadata == nil {
		return ""
	}
	value, _ := payment.Metadata["network_payment_id"].(string)
	return value
}

func evidenceFromResult(result *paymentdomain.PaymentResult, source string) settlementdomain.Evidence {
	if result == nil {
		return settlementdomain.Evidence{Source: source}
	}
	return settlementdomain.Evidence{
		Status:           result.Status,
		NetworkPaymentID: result.ProviderPaymentID,
		Amount:           result.Amount,
		Currency:         result.Currency,
		FailureReason:    result.FailureReason,
		Source:           source,
		Metadata:         result.Metadata,
	}
}
