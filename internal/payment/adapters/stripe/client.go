package stripe

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
)

const defaultBaseURL = "https://api.stripe.com"

// Client is the subset of the Stripe API the adapter drives.
type Client interface {
	CreateCheckoutSession(ctx context.Context, params checkoutParams) (*checkoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*checkoutSession, error)
	CreateRefund(ctx context.Context, params refundParams) (*stripeRefund, error)
}

type checkoutParams struct {
	IdempotencyKey    string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Currency          string
	Amount            int64
	ProductName       string
	CustomerEmail     string
	Metadata          map[string]string
}

type checkoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	ExpiresAt         int64             `json:"expires_at"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
}

type refundParams struct {
	IdempotencyKey string
	PaymentIntent  string
	Amount         int64
	Reason         string
	Metadata       map[string]string
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, secretKey string, timeout time.Duration) *restClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := httpx.New(baseURL, timeout).SetAuthToken(secretKey)
	return &restClient{http: client}
}

func (c *restClient) CreateCheckoutSession(ctx context.Context, params checkoutParams) (*checkoutSession, error) {
	form := map[string]string{
		"mode":                "payment",
		"success_url":         params.SuccessURL,
		"cancel_url":          params.CancelURL,
		"client_reference_id": params.ClientReferenceID,
	}
	form["line_items[0][quantity]"] = "1"
	form["line_items[0][price_data][currency]"] = params.Currency
	form["line_items[0][price_data][unit_amount]"] = strconv.FormatInt(params.Amount, 10)
	form["line_items[0][price_data][product_data][name]"] = params.ProductName
	if params.CustomerEmail != "" {
		form["customer_email"] = params.CustomerEmail
	}
	for key, value := range params.Metadata {
		form["metadata["+key+"]"] = value
		form["payment_intent_data[metadata]["+key+"]"] = value
	}

	var out checkoutSession
	req := c.http.R().
		SetHeader("Idempotency-Key", params.IdempotencyKey).
		SetFormData(form)
	if err := httpx.Do(ctx, providerName, "create_session", req, http.MethodPost, "/v1/checkout/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) GetCheckoutSession(ctx context.Context, id string) (*checkoutSession, error) {
	var out checkoutSession
	req := c.http.R().SetPathParam("id", id)
	if err := httpx.Do(ctx, providerName, "query_payment", req, http.MethodGet, "/v1/checkout/sessions/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) CreateRefund(ctx context.Context, params refundParams) (*stripeRefund, error) {
	form := map[string]string{
		"payment_intent": params.PaymentIntent,
		"amount":         strconv.FormatInt(params.Amount, 10),
	}
	if params.Reason != "" {
		form["reason"] = params.Reason
	}
	for key, value := range params.Metadata {
		form["metadata["+key+"]"] = value
	}

	var out stripeRefund
	req := c.http.R().
		SetHeader("Idempotency-Key", params.IdempotencyKey).
		SetFormData(form)
	if err := httpx.Do(ctx, providerName, "refund", req, http.MethodPost, "/v1/refunds", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
