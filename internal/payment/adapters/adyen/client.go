package adyen

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
)

const defaultBaseURL = "https://checkout-test.adyen.com/v71"

// Client covers the Adyen Checkout payment link endpoints.
type Client interface {
	CreatePaymentLink(ctx context.Context, req paymentLinkRequest) (*paymentLink, error)
	GetPaymentLink(ctx context.Context, id string) (*paymentLink, error)
}

type paymentLinkRequest struct {
	Reference       string            `json:"reference"`
	Amount          adyenAmount       `json:"amount"`
	MerchantAccount string            `json:"merchantAccount"`
	ReturnURL       string            `json:"returnUrl"`
	Description     string            `json:"description,omitempty"`
	ShopperEmail    string            `json:"shopperEmail,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type paymentLink struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Status    string      `json:"status"`
	Reference string      `json:"reference"`
	ExpiresAt string      `json:"expiresAt"`
	Amount    adyenAmount `json:"amount"`
}

type adyenAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, apiKey string, timeout time.Duration) *restClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := httpx.New(baseURL, timeout).
		SetHeader("X-API-Key", apiKey).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: client}
}

func (c *restClient) CreatePaymentLink(ctx context.Context, body paymentLinkRequest) (*paymentLink, error) {
	var out paymentLink
	req := c.http.R().
		SetHeader("Idempotency-Key", "link:"+body.Reference).
		SetBody(body)
	if err := httpx.Do(ctx, providerName, "create_session", req, http.MethodPost, "/paymentLinks", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) GetPaymentLink(ctx context.Context, id string) (*paymentLink, error) {
	var out paymentLink
	req := c.http.R().SetPathParam("id", id)
	if err := httpx.Do(ctx, providerName, "query_payment", req, http.MethodGet, "/paymentLinks/{id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
