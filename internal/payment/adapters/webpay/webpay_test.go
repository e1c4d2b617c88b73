package webpay

import (
	"context"
	"net/http"
	"testing"

	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Create(ctx context.Context, req createRequest) (*createResponse, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*createResponse)
	return out, args.Error(1)
}

func (m *mockClient) Commit(ctx context.Context, token string) (*transaction, error) {
	args := m.Called(ctx, token)
	out, _ := args.Get(0).(*transaction)
	return out, args.Error(1)
}

func (m *mockClient) Status(ctx context.Context, token string) (*transaction, error) {
	args := m.Called(ctx, token)
	out, _ := args.Get(0).(*transaction)
	return out, args.Error(1)
}

func code(v int) *int { return &v }

func TestCreateSessionBuildsRedirect(t *testing.T) {
	client := new(mockClient)
	client.On("Create", mock.Anything, createRequest{
		BuyOrder:  "77",
		SessionID: "ORD-77",
		Amount:    1000,
		ReturnURL: "https://app.test/return/webpay",
	}).Return(&createResponse{Token: "tok_1", URL: "https://webpay.test/init"}, nil)

	adapter := &Adapter{client: client}
	session, err := adapter.CreateSession(context.Background(), paymentdomain.SessionRequest{
		PaymentID:   77,
		OrderNumber: "ORD-77",
		Amount:      1000,
		Currency:    "clp",
		ReturnURL:   "https://app.test/return/webpay",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok_1", session.SessionID)
	assert.Equal(t, "https://webpay.test/init?token_ws=tok_1", session.RedirectURL)
	client.AssertExpectations(t)
}

func TestCreateSessionRejectsNonCLP(t *testing.T) {
	adapter := &Adapter{client: new(mockClient)}
	_, err := adapter.CreateSession(context.Background(), paymentdomain.SessionRequest{PaymentID: 1, Amount: 10, Currency: "USD"})
	require.ErrorIs(t, err, paymentdomain.ErrSessionRejected)
	require.False(t, paymentdomain.IsTransient(err))
}

func TestQueryPaymentCommitsAuthorizedTransaction(t *testing.T) {
	client := new(mockClient)
	client.On("Commit", mock.Anything, "tok_1").Return(&transaction{
		Status:            "AUTHORIZED",
		ResponseCode:      code(0),
		Amount:            1000,
		BuyOrder:          "77",
		AuthorizationCode: "1213",
		CardDetail:        &cardDetail{CardNumber: "6623"},
	}, nil)

	adapter := &Adapter{client: client}
	result, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{
		SessionID: "tok_1",
		Params:    map[string]string{"token_ws": "tok_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, result.Status)
	assert.Equal(t, int64(1000), result.Amount)
	assert.Equal(t, "6623", result.Metadata["card_last4"])
}

func TestQueryPaymentFallsBackToStatusWhenAlreadyCommitted(t *testing.T) {
	client := new(mockClient)
	client.On("Commit", mock.Anything, "tok_2").
		Return(nil, paymentdomain.NewProviderError(providerName, "commit", http.StatusUnprocessableEntity, assert.AnError))
	client.On("Status", mock.Anything, "tok_2").
		Return(&transaction{Status: "AUTHORIZED", ResponseCode: code(0), Amount: 1000}, nil)

	adapter := &Adapter{client: client}
	result, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{SessionID: "tok_2"})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, result.Status)
	client.AssertExpectations(t)
}

func TestQueryPaymentNormalizesResponseCodes(t *testing.T) {
	cases := []struct {
		name string
		tx   *transaction
		want paymentdomain.Status
	}{
		{name: "rejected", tx: &transaction{Status: "FAILED", ResponseCode: code(-1)}, want: paymentdomain.StatusFailed},
		{name: "authorized_nonzero", tx: &transaction{Status: "AUTHORIZED", ResponseCode: code(-3)}, want: paymentdomain.StatusFailed},
		{name: "initialized", tx: &transaction{Status: "INITIALIZED"}, want: paymentdomain.StatusPending},
		{name: "reversed", tx: &transaction{Status: "REVERSED", ResponseCode: code(0)}, want: paymentdomain.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := new(mockClient)
			client.On("Commit", mock.Anything, "tok").Return(tc.tx, nil)
			adapter := &Adapter{client: client}
			result, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{SessionID: "tok"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
		})
	}
}

func TestQueryPaymentAbortedByUser(t *testing.T) {
	client := new(mockClient)
	adapter := &Adapter{client: client}
	result, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{
		Params: map[string]string{"TBK_TOKEN": "tok_abort", "TBK_ORDEN_COMPRA": "77"},
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, result.Status)
	assert.Equal(t, "aborted_by_user", result.FailureReason)
	client.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}

func TestQueryPaymentServerErrorIsTransient(t *testing.T) {
	client := new(mockClient)
	client.On("Commit", mock.Anything, "tok").
		Return(nil, paymentdomain.NewProviderError(providerName, "commit", http.StatusServiceUnavailable, assert.AnError))
	adapter := &Adapter{client: client}
	_, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{SessionID: "tok"})
	require.True(t, paymentdomain.IsTransient(err))
	client.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestWebhookUnsupported(t *testing.T) {
	adapter := &Adapter{}
	_, err := adapter.ParseWebhook(context.Background(), []byte(`{}`), http.Header{})
	require.ErrorIs(t, err, paymentdomain.ErrWebhookUnsupported)
}
