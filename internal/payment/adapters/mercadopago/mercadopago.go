package mercadopago

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
)

const providerName = "mercadopago"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	accessToken, ok := httpx.ReadString(cfg.Config, "access_token")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	webhookSecret, ok := httpx.ReadString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, _ := httpx.ReadString(cfg.Config, "base_url")

	return &Adapter{
		client:        newRestClient(baseURL, accessToken, cfg.Timeout),
		webhookSecret: webhookSecret,
	}, nil
}

// Adapter drives Mercado Pago Checkout Pro. Webhooks only announce that a
// payment changed; the status is always read back from the payments API.
type Adapter struct {
	client        Client
	webhookSecret string
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	title := strings.TrimSpace(req.Description)
	if title == "" {
		title = "Order " + req.OrderNumber
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = req.ReturnURL
	}
	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      title,
			Quantity:   1,
			UnitPrice:  paymentdomain.ToMajor(req.Amount, req.Currency),
			CurrencyID: paymentdomain.NormalizeCurrency(req.Currency),
		}},
		ExternalReference: req.Reference(),
		BackURLs: backURLs{
			Success: req.ReturnURL,
			Pending: req.ReturnURL,
			Failure: cancelURL,
		},
		AutoReturn:      "approved",
		NotificationURL: req.NotifyURL,
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"org_id":   req.OrgID.String(),
		},
	}
	if req.CustomerEmail != "" {
		body.Payer = &payer{Email: req.CustomerEmail}
	}

	pref, err := a.client.CreatePreference(ctx, "preference:"+req.Reference(), body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pref.ID) == "" || strings.TrimSpace(pref.InitPoint) == "" {
		return nil, paymentdomain.NewProviderError(providerName, "create_session", 0, paymentdomain.ErrSessionRejected)
	}
	return &paymentdomain.Session{
		SessionID:   pref.ID,
		RedirectURL: pref.InitPoint,
		Metadata:    map[string]any{"preference_id": pref.ID},
	}, nil
}

// QueryPayment reads a known payment id, or searches by merchant reference when
// the payer returned without one.
func (a *Adapter) QueryPayment(ctx context.Context, query paymentdomain.PaymentQuery) (*paymentdomain.PaymentResult, error) {
	paymentID := strings.TrimSpace(query.ProviderPaymentID)
	if paymentID == "" {
		paymentID = firstNonPlaceholder(query.Params["payment_id"], query.Params["collection_id"])
	}
	if paymentID != "" {
		payment, err := a.client.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return paymentResult(payment), nil
	}

	reference := strings.TrimSpace(query.Reference)
	if reference == "" {
		return nil, paymentdomain.NewProviderError(providerName, "query_payment", 0, paymentdomain.ErrInvalidEvent)
	}
	payments, err := a.client.SearchPayments(ctx, reference)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return &paymentdomain.PaymentResult{Status: paymentdomain.StatusPending, Reference: reference}, nil
	}
	// an approved attempt wins over later rejected retries on the same preference
	for i := range payments {
		if payments[i].Status == "approved" {
			return paymentResult(&payments[i]), nil
		}
	}
	return paymentResult(&payments[0]), nil
}

// Verify checks the x-signature header over the documented manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	ts, signature := parseSignature(headers.Get("X-Signature"))
	if ts == "" || signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	var note notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return paymentdomain.ErrInvalidPayload
	}

	var manifest strings.Builder
	if dataID := note.dataID(); dataID != "" {
		manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID := strings.TrimSpace(headers.Get("X-Request-Id")); requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(manifest.String()))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var note notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if note.Type != "payment" {
		return nil, paymentdomain.ErrEventIgnored
	}
	dataID := note.dataID()
	if dataID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventID := note.eventID()
	if eventID == "" {
		eventID = fmt.Sprintf("%s:%s:%s", dataID, note.Action, strings.TrimSpace(headers.Get("X-Request-Id")))
	}
	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, note.DateCreated); err == nil {
		occurredAt = parsed.UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   eventID,
		EventType:         note.Action,
		ProviderPaymentID: dataID,
		Status:            paymentdomain.StatusUnknown,
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type notification struct {
	ID          json.RawMessage `json:"id"`
	Type        string          `json:"type"`
	Action      string          `json:"action"`
	DateCreated string          `json:"date_created"`
	Data        struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (n notification) dataID() string  { return rawID(n.Data.ID) }
func (n notification) eventID() string { return rawID(n.ID) }

// rawID accepts ids sent either as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// paymentResult maps Mercado Pago's status enum.
func paymentResult(p *mpPayment) *paymentdomain.PaymentResult {
	currency := paymentdomain.NormalizeCurrency(p.CurrencyID)
	result := &paymentdomain.PaymentResult{
		Status:            paymentdomain.StatusPending,
		ProviderPaymentID: strconv.FormatInt(p.ID, 10),
		Reference:         p.ExternalReference,
		Amount:            paymentdomain.FromMajor(p.TransactionAmount, currency),
		Currency:          currency,
		Metadata: map[string]any{
			"mp_payment_id":     p.ID,
			"status":            p.Status,
			"status_detail":     p.StatusDetail,
			"payment_method_id": p.PaymentMethodID,
		},
	}
	switch p.Status {
	case "approved":
		result.Status = paymentdomain.StatusSucceeded
	case "rejected", "cancelled", "refunded", "charged_back":
		result.Status = paymentdomain.StatusFailed
		result.FailureReason = p.StatusDetail
		if result.FailureReason == "" {
			result.FailureReason = p.Status
		}
	}
	return result
}

func parseSignature(header string) (string, string) {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "ts":
			ts = strings.TrimSpace(kv[1])
		case "v1":
			v1 = strings.TrimSpace(kv[1])
		}
	}
	return ts, v1
}

func firstNonPlaceholder(values ...string) string {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" && value != "null" {
			return value
		}
	}
	return ""
}

var _ paymentdomain.PaymentAdapter = (*Adapter)(nil)
