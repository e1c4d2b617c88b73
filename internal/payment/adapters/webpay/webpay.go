package webpay

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/settlement/internal/payment/adapters/httpx"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
)

const (
	providerName = "webpay"
	currencyCLP  = "CLP"
	// Webpay caps buy_order at 26 characters.
	maxBuyOrderLen = 26
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	commerceCode, ok := httpx.ReadString(cfg.Config, "commerce_code")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	apiKey, ok := httpx.ReadString(cfg.Config, "api_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, _ := httpx.ReadString(cfg.Config, "base_url")

	return &Adapter{client: newRestClient(baseURL, commerceCode, apiKey, cfg.Timeout)}, nil
}

// Adapter drives Transbank Webpay Plus. Webpay settles only through the
// return URL: there is no webhook, so an unvisited return leaves the payment
// pending until the order expires.
type Adapter struct {
	client Client
}

func (a *Adapter) Provider() string { return providerName }

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	if paymentdomain.NormalizeCurrency(req.Currency) != currencyCLP {
		return nil, paymentdomain.NewProviderError(providerName, "create_session", 0,
			errors.Join(paymentdomain.ErrSessionRejected, errors.New("webpay only settles CLP")))
	}
	buyOrder := req.Reference()
	if len(buyOrder) > maxBuyOrderLen {
		buyOrder = buyOrder[len(buyOrder)-maxBuyOrderLen:]
	}

	created, err := a.client.Create(ctx, createRequest{
		BuyOrder:  buyOrder,
		SessionID: req.OrderNumber,
		Amount:    paymentdomain.ToMajor(req.Amount, currencyCLP),
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(created.Token) == "" || strings.TrimSpace(created.URL) == "" {
		return nil, paymentdomain.NewProviderError(providerName, "create_session", 0, paymentdomain.ErrSessionRejected)
	}

	return &paymentdomain.Session{
		SessionID:   created.Token,
		RedirectURL: created.URL + "?token_ws=" + created.Token,
		Metadata:    map[string]any{"buy_order": buyOrder},
	}, nil
}

// QueryPayment commits the transaction on first sight and reads its status
// afterwards. A TBK_TOKEN on the return means the payer aborted the form.
func (a *Adapter) QueryPayment(ctx context.Context, query paymentdomain.PaymentQuery) (*paymentdomain.PaymentResult, error) {
	if aborted := strings.TrimSpace(query.Params["TBK_TOKEN"]); aborted != "" {
		return &paymentdomain.PaymentResult{
			Status:        paymentdomain.StatusFailed,
			FailureReason: "aborted_by_user",
			Metadata:      map[string]any{"tbk_token": aborted},
		}, nil
	}

	token := strings.TrimSpace(query.Params["token_ws"])
	if token == "" {
		token = strings.TrimSpace(query.SessionID)
	}
	if token == "" {
		if query.Params["TBK_ORDEN_COMPRA"] != "" {
			return &paymentdomain.PaymentResult{Status: paymentdomain.StatusFailed, FailureReason: "form_timeout"}, nil
		}
		return nil, paymentdomain.NewProviderError(providerName, "query_payment", 0, paymentdomain.ErrInvalidEvent)
	}

	tx, err := a.client.Commit(ctx, token)
	if err != nil {
		var perr *paymentdomain.ProviderError
		if !errors.As(err, &perr) || perr.StatusCode < http.StatusBadRequest || perr.StatusCode >= http.StatusInternalServerError {
			return nil, err
		}
		// already committed or locked by a concurrent commit
		tx, err = a.client.Status(ctx, token)
		if err != nil {
			return nil, err
		}
	}
	return transactionResult(tx), nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return paymentdomain.ErrWebhookUnsupported
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrWebhookUnsupported
}

// transactionResult maps Webpay's numeric response_code plus status string.
func transactionResult(tx *transaction) *paymentdomain.PaymentResult {
	result := &paymentdomain.PaymentResult{
		Status:            paymentdomain.StatusPending,
		ProviderPaymentID: tx.BuyOrder,
		Amount:            paymentdomain.FromMajor(tx.Amount, currencyCLP),
		Currency:          currencyCLP,
		Metadata: map[string]any{
			"status":             tx.Status,
			"authorization_code": tx.AuthorizationCode,
			"payment_type_code":  tx.PaymentTypeCode,
			"installments":       tx.InstallmentsNumber,
		},
	}
	if tx.CardDetail != nil {
		result.Metadata["card_last4"] = tx.CardDetail.CardNumber
	}
	if tx.ResponseCode != nil {
		result.Metadata["response_code"] = *tx.ResponseCode
	}

	switch strings.ToUpper(tx.Status) {
	case "AUTHORIZED":
		if tx.ResponseCode != nil && *tx.ResponseCode == 0 {
			result.Status = paymentdomain.StatusSucceeded
			return result
		}
		result.Status = paymentdomain.StatusFailed
		result.FailureReason = "rejected"
	case "FAILED", "REVERSED", "NULLIFIED", "PARTIALLY_NULLIFIED":
		result.Status = paymentdomain.StatusFailed
		result.FailureReason = strings.ToLower(tx.Status)
	case "INITIALIZED", "":
		if tx.ResponseCode != nil && *tx.ResponseCode != 0 {
			result.Status = paymentdomain.StatusFailed
			result.FailureReason = "rejected"
		}
	}
	return result
}

var _ paymentdomain.PaymentAdapter = (*Adapter)(nil)
