package adyen

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
)

const providerName = "adyen"

// Adyen's own minor-unit table differs from ISO 4217 for a few currencies.
var adyenExponents = map[string]int{
	"CLP": 2,
	"ISK": 2,
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	apiKey, ok := httpx.ReadString(cfg.Config, "api_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	merchantAccount, ok := httpx.ReadString(cfg.Config, "merchant_account")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	hmacKey, ok := httpx.ReadString(cfg.Config, "hmac_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	keyBytes, err := hex.DecodeString(hmacKey)
	if err != nil || len(keyBytes) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, _ := httpx.ReadString(cfg.Config, "base_url")

	return &Adapter{
		client:          newRestClient(baseURL, apiKey, cfg.Timeout),
		merchantAccount: merchantAccount,
		hmacKey:         keyBytes,
	}, nil
}

// Adapter drives Adyen payment links and verifies standard notification webhooks.
type Adapter struct {
	client          Client
	merchantAccount string
	hmacKey         []byte
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	link, err := a.client.CreatePaymentLink(ctx, paymentLinkRequest{
		Reference:       req.Reference(),
		Amount:          adyenAmount{Currency: paymentdomain.NormalizeCurrency(req.Currency), Value: toAdyenValue(req.Amount, req.Currency)},
		MerchantAccount: a.merchantAccount,
		ReturnURL:       req.ReturnURL,
		Description:     req.Description,
		ShopperEmail:    req.CustomerEmail,
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"org_id":   req.OrgID.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(link.ID) == "" || strings.TrimSpace(link.URL) == "" {
		return nil, paymentdomain.NewProviderError(providerName, "create_session", 0, paymentdomain.ErrSessionRejected)
	}

	session := &paymentdomain.Session{
		SessionID:   link.ID,
		RedirectURL: link.URL,
		Metadata:    map[string]any{"payment_link_id": link.ID},
	}
	if expiresAt, err := time.Parse(time.RFC3339, link.ExpiresAt); err == nil {
		expiresAt = expiresAt.UTC()
		session.ExpiresAt = &expiresAt
	}
	return session, nil
}

func (a *Adapter) QueryPayment(ctx context.Context, query paymentdomain.PaymentQuery) (*paymentdomain.PaymentResult, error) {
	linkID := strings.TrimSpace(query.SessionID)
	if linkID == "" {
		return nil, paymentdomain.NewProviderError(providerName, "query_payment", 0, paymentdomain.ErrInvalidEvent)
	}
	link, err := a.client.GetPaymentLink(ctx, linkID)
	if err != nil {
		return nil, err
	}

	currency := paymentdomain.NormalizeCurrency(link.Amount.Currency)
	result := &paymentdomain.PaymentResult{
		Status:   paymentdomain.StatusPending,
		Amount:   fromAdyenValue(link.Amount.Value, currency),
		Currency: currency,
		Metadata: map[string]any{"payment_link_id": link.ID, "link_status": link.Status},
	}
	switch link.Status {
	case "completed":
		result.Status = paymentdomain.StatusSucceeded
	case "expired":
		result.Status = paymentdomain.StatusFailed
		result.FailureReason = "payment_link_expired"
	case "active", "paymentPending":
	default:
		return nil, paymentdomain.NewProviderError(providerName, "query_payment", 0, paymentdomain.ErrAmbiguousStatus)
	}
	return result, nil
}

// Verify checks the HMAC carried inside every notification item. Adyen signs
// items rather than the HTTP body.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	if len(root.NotificationItems) == 0 {
		return paymentdomain.ErrInvalidPayload
	}

	for _, item := range root.NotificationItems {
		signature := item.NotificationRequestItem.AdditionalData["hmacSignature"]
		if signature == "" {
			return paymentdomain.ErrInvalidSignature
		}
		expected := signItem(a.hmacKey, item.NotificationRequestItem)
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return paymentdomain.ErrInvalidSignature
		}
	}
	return nil
}

// ParseWebhook returns the first item that carries a settlement signal. Items in
// one batch share a merchant reference for payment link flows.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if len(root.NotificationItems) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	for _, wrapper := range root.NotificationItems {
		item := wrapper.NotificationRequestItem
		status, reason, ok := itemStatus(item)
		if !ok {
			continue
		}
		if strings.TrimSpace(item.PspReference) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		currency := paymentdomain.NormalizeCurrency(item.Amount.Currency)
		return &paymentdomain.PaymentEvent{
			Provider:          providerName,
			ProviderEventID:   item.PspReference + "_" + item.EventCode + "_" + item.Success,
			EventType:         item.EventCode,
			SessionID:         item.AdditionalData["paymentLinkId"],
			ProviderPaymentID: item.PspReference,
			Reference:         item.MerchantReference,
			Status:            status,
			Amount:            fromAdyenValue(item.Amount.Value, currency),
			Currency:          currency,
			FailureReason:     reason,
			OccurredAt:        convertEventDate(item.EventDate),
			RawPayload:        payload,
			Metadata: map[string]any{
				"psp_reference":  item.PspReference,
				"event_code":     item.EventCode,
				"payment_method": item.PaymentMethod,
			},
		}, nil
	}
	return nil, paymentdomain.ErrEventIgnored
}

// itemStatus maps Adyen's binary success flag per event code.
func itemStatus(item adyenNotificationRequestItem) (paymentdomain.Status, string, bool) {
	success := strings.EqualFold(item.Success, "true")
	switch item.EventCode {
	case "AUTHORISATION":
		if success {
			return paymentdomain.StatusSucceeded, "", true
		}
		reason := strings.TrimSpace(item.Reason)
		if reason == "" {
			reason = "authorisation_refused"
		}
		return paymentdomain.StatusFailed, reason, true
	case "CANCELLATION":
		if success {
			return paymentdomain.StatusFailed, "cancelled", true
		}
	case "OFFER_CLOSED":
		return paymentdomain.StatusFailed, "offer_closed", true
	}
	return paymentdomain.StatusUnknown, "", false
}

func signItem(key []byte, item adyenNotificationRequestItem) string {
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	for i, part := range parts {
		part = strings.ReplaceAll(part, "\\", "\\\\")
		parts[i] = strings.ReplaceAll(part, ":", "\\:")
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func toAdyenValue(amount int64, currency string) int64 {
	currency = paymentdomain.NormalizeCurrency(currency)
	exp, ok := adyenExponents[currency]
	if !ok {
		return amount
	}
	for i := paymentdomain.CurrencyExponent(currency); i < exp; i++ {
		amount *= 10
	}
	return amount
}

func fromAdyenValue(value int64, currency string) int64 {
	currency = paymentdomain.NormalizeCurrency(currency)
	exp, ok := adyenExponents[currency]
	if !ok {
		return value
	}
	for i := paymentdomain.CurrencyExponent(currency); i < exp; i++ {
		value /= 10
	}
	return value
}

func convertEventDate(dateStr string) time.Time {
	t, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

type adyenNotificationRoot struct {
	Live              string                  `json:"live"`
	NotificationItems []adyenNotificationItem `json:"notificationItems"`
}

type adyenNotificationItem struct {
	NotificationRequestItem adyenNotificationRequestItem `json:"NotificationRequestItem"`
}

type adyenNotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              adyenAmount       `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PaymentMethod       string            `json:"paymentMethod"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}

var _ paymentdomain.PaymentAdapter = (*Adapter)(nil)
