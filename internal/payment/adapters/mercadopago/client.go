package mercadopago

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Client covers Checkout Pro preferences and the payments API.
type Client interface {
	CreatePreference(ctx context.Context, idempotencyKey string, req preferenceRequest) (*preference, error)
	GetPayment(ctx context.Context, id string) (*mpPayment, error)
	SearchPayments(ctx context.Context, externalReference string) ([]mpPayment, error)
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	ExternalReference string            `json:"external_reference"`
	BackURLs          backURLs          `json:"back_urls"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	Payer             *payer            `json:"payer,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type payer struct {
	Email string `json:"email"`
}

type preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPayment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	DateApproved      string  `json:"date_approved"`
	PaymentMethodID   string  `json:"payment_method_id"`
}

type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, accessToken string, timeout time.Duration) *restClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := httpx.New(baseURL, timeout).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: client}
}

func (c *restClient) CreatePreference(ctx context.Context, idempotencyKey string, body preferenceRequest) (*preference, error) {
	var out preference
	req := c.http.R().
		SetHeader("X-Idempotency-Key", idempotencyKey).
		SetBody(body)
	if err := httpx.Do(ctx, providerName, "create_session", req, http.MethodPost, "/checkout/preferences", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) GetPayment(ctx context.Context, id string) (*mpPayment, error) {
	var out mpPayment
	req := c.http.R().SetPathParam("id", id)
	if err := httpx.Do(ctx, providerName, "query_payment", req, http.MethodGet, "/v1/payments/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) SearchPayments(ctx context.Context, externalReference string) ([]mpPayment, error) {
	var out struct {
		Results []mpPayment `json:"results"`
	}
	req := c.http.R().SetQueryParams(map[string]string{
		"external_reference": externalReference,
		"sort":               "date_created",
		"criteria":           "desc",
	})
	if err := httpx.Do(ctx, providerName, "search_payments", req, http.MethodGet, "/v1/payments/search", &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}
