package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
)

const (
	providerName     = "stripe"
	signatureMaxSkew = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secretKey, ok := httpx.ReadString(cfg.Config, "secret_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	webhookSecret, ok := httpx.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, _ := httpx.ReadString(cfg.Config, "base_url")

	return &Adapter{
		client:        newRestClient(baseURL, secretKey, cfg.Timeout),
		webhookSecret: webhookSecret,
		now:           time.Now,
	}, nil
}

// Adapter drives Stripe Checkout Sessions.
type Adapter struct {
	client        Client
	webhookSecret string
	now           func() time.Time
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	name := strings.TrimSpace(req.Description)
	if name == "" {
		name = "Order " + req.OrderNumber
	}
	metadata := map[string]string{
		"payment_id": req.Reference(),
		"order_id":   req.OrderID.String(),
		"org_id":     req.OrgID.String(),
	}
	for key, value := range req.Metadata {
		if _, reserved := metadata[key]; !reserved {
			metadata[key] = value
		}
	}

	session, err := a.client.CreateCheckoutSession(ctx, checkoutParams{
		IdempotencyKey:    "session:" + req.Reference(),
		ClientReferenceID: req.Reference(),
		SuccessURL:        withSessionPlaceholder(req.ReturnURL),
		CancelURL:         req.CancelURL,
		Currency:          strings.ToLower(req.Currency),
		Amount:            req.Amount,
		ProductName:       name,
		CustomerEmail:     req.CustomerEmail,
		Metadata:          metadata,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.URL) == "" {
		return nil, paymentdomain.NewProviderError(providerName, "create_session", 0, paymentdomain.ErrSessionRejected)
	}

	out := &paymentdomain.Session{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Metadata:    map[string]any{"checkout_session_id": session.ID},
	}
	if session.ExpiresAt > 0 {
		expiresAt := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &expiresAt
	}
	return out, nil
}

func (a *Adapter) QueryPayment(ctx context.Context, query paymentdomain.PaymentQuery) (*paymentdomain.PaymentResult, error) {
	sessionID := strings.TrimSpace(query.SessionID)
	if sessionID == "" {
		return nil, paymentdomain.NewProviderError(providerName, "query_payment", 0, paymentdomain.ErrInvalidEvent)
	}
	session, err := a.client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sessionResult(session), nil
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	paymentIntent := strings.TrimSpace(req.ProviderPaymentID)
	if paymentIntent == "" && strings.TrimSpace(req.SessionID) != "" {
		session, err := a.client.GetCheckoutSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		paymentIntent = session.PaymentIntent
	}
	if paymentIntent == "" {
		return nil, paymentdomain.NewProviderError(providerName, "refund", 0, paymentdomain.ErrInvalidEvent)
	}

	refund, err := a.client.CreateRefund(ctx, refundParams{
		IdempotencyKey: req.IdempotencyKey,
		PaymentIntent:  paymentIntent,
		Amount:         req.Amount,
		Reason:         "requested_by_customer",
		Metadata:       map[string]string{"reason": req.Reason},
	})
	if err != nil {
		return nil, err
	}

	status := paymentdomain.StatusPending
	switch refund.Status {
	case "succeeded":
		status = paymentdomain.StatusSucceeded
	case "failed", "canceled":
		status = paymentdomain.StatusFailed
	}
	return &paymentdomain.RefundResult{ProviderRefundID: refund.ID, Status: status}, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if skew := a.now().Sub(time.Unix(signedAt, 0)); math.Abs(float64(skew)) > float64(signatureMaxSkew) {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, string(payload))))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var status paymentdomain.Status
	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		// status is taken from payment_status below; async methods complete unpaid
	case "checkout.session.async_payment_succeeded":
		status = paymentdomain.StatusSucceeded
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		status = paymentdomain.StatusFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var session checkoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	result := sessionResult(&session)
	if status == paymentdomain.StatusUnknown {
		status = result.Status
	}
	reference := strings.TrimSpace(session.ClientReferenceID)
	if reference == "" {
		reference = session.Metadata["payment_id"]
	}

	return &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		EventType:         event.Type,
		SessionID:         session.ID,
		ProviderPaymentID: session.PaymentIntent,
		Reference:         reference,
		Status:            status,
		Amount:            session.AmountTotal,
		Currency:          paymentdomain.NormalizeCurrency(session.Currency),
		FailureReason:     failureReason(event.Type),
		OccurredAt:        timestamp(event.Created, session.Created),
		RawPayload:        payload,
		Metadata:          result.Metadata,
	}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// sessionResult normalizes Stripe's two-field vocabulary: payment_status says whether
// money moved, status says whether the session can still move it.
func sessionResult(session *checkoutSession) *paymentdomain.PaymentResult {
	result := &paymentdomain.PaymentResult{
		Status:            paymentdomain.StatusPending,
		ProviderPaymentID: session.PaymentIntent,
		Amount:            session.AmountTotal,
		Currency:          paymentdomain.NormalizeCurrency(session.Currency),
		Metadata: map[string]any{
			"checkout_session_id": session.ID,
			"payment_status":      session.PaymentStatus,
		},
	}
	if session.PaymentIntent != "" {
		result.Metadata["payment_intent"] = session.PaymentIntent
	}

	switch {
	case session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required":
		result.Status = paymentdomain.StatusSucceeded
	case session.Status == "expired":
		result.Status = paymentdomain.StatusFailed
		result.FailureReason = "checkout_session_expired"
	}
	return result
}

func failureReason(eventType string) string {
	switch eventType {
	case "checkout.session.async_payment_failed":
		return "async_payment_failed"
	case "checkout.session.expired":
		return "checkout_session_expired"
	default:
		return ""
	}
}

func withSessionPlaceholder(returnURL string) string {
	if strings.Contains(returnURL, "{CHECKOUT_SESSION_ID}") {
		return returnURL
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

var (
	_ paymentdomain.PaymentAdapter = (*Adapter)(nil)
	_ paymentdomain.Refunder       = (*Adapter)(nil)
)
