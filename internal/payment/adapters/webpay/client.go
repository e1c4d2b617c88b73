package webpay

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
)

const (
	defaultBaseURL   = "https://webpay3gint.transbank.cl"
	transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"
)

// Client covers the Webpay Plus REST transaction endpoints.
type Client interface {
	Create(ctx context.Context, req createRequest) (*createResponse, error)
	Commit(ctx context.Context, token string) (*transaction, error)
	Status(ctx context.Context, token string) (*transaction, error)
}

type createRequest struct {
	BuyOrder  string  `json:"buy_order"`
	SessionID string  `json:"session_id"`
	Amount    float64 `json:"amount"`
	ReturnURL string  `json:"return_url"`
}

type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type transaction struct {
	VCI                string      `json:"vci"`
	Amount             float64     `json:"amount"`
	Status             string      `json:"status"`
	BuyOrder           string      `json:"buy_order"`
	SessionID          string      `json:"session_id"`
	CardDetail         *cardDetail `json:"card_detail"`
	AccountingDate     string      `json:"accounting_date"`
	TransactionDate    string      `json:"transaction_date"`
	AuthorizationCode  string      `json:"authorization_code"`
	PaymentTypeCode    string      `json:"payment_type_code"`
	ResponseCode       *int        `json:"response_code"`
	InstallmentsNumber int         `json:"installments_number"`
}

type cardDetail struct {
	CardNumber string `json:"card_number"`
}

type restClient struct {
	http *resty.Client
}

func newRestClient(baseURL, commerceCode, apiKey string, timeout time.Duration) *restClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := httpx.New(baseURL, timeout).
		SetHeader("Tbk-Api-Key-Id", commerceCode).
		SetHeader("Tbk-Api-Key-Secret", apiKey).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: client}
}

func (c *restClient) Create(ctx context.Context, body createRequest) (*createResponse, error) {
	var out createResponse
	if err := httpx.Do(ctx, providerName, "create_session", c.http.R().SetBody(body), http.MethodPost, transactionsPath, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) Commit(ctx context.Context, token string) (*transaction, error) {
	var out transaction
	req := c.http.R().SetPathParam("token", token)
	if err := httpx.Do(ctx, providerName, "commit", req, http.MethodPut, transactionsPath+"/{token}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) Status(ctx context.Context, token string) (*transaction, error) {
	var out transaction
	req := c.http.R().SetPathParam("token", token)
	if err := httpx.Do(ctx, providerName, "query_payment", req, http.MethodGet, transactionsPath+"/{token}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
