package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlement/internal/config"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	"github.com/smallbiznis/settlement/internal/observability"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	settlementdomain "github.com/smallbiznis/settlement/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrgID = snowflake.ID(1001)

type mockSettlement struct {
	settlementdomain.Service
	mock.Mock
}

func (m *mockSettlement) ProcessWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (bool, error) {
	args := m.Called(provider, string(payload))
	return args.Bool(0), args.Error(1)
}

func (m *mockSettlement) VerifyPayment(ctx context.Context, evidence settlementdomain.ReturnEvidence) (*settlementdomain.Result, error) {
	args := m.Called(evidence)
	result, _ := args.Get(0).(*settlementdomain.Result)
	return result, args.Error(1)
}

func (m *mockSettlement) CreateSession(ctx context.Context, req settlementdomain.CheckoutRequest) (*settlementdomain.CheckoutSession, error) {
	args := m.Called(req)
	session, _ := args.Get(0).(*settlementdomain.CheckoutSession)
	return session, args.Error(1)
}

type mockOrders struct {
	orderdomain.Service
	mock.Mock
}

func (m *mockOrders) CancelOrder(ctx context.Context, orgID, orderID snowflake.ID, reason string) (*orderdomain.Order, error) {
	args := m.Called(orgID, orderID, reason)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrders) GetOrder(ctx context.Context, orgID, orderID snowflake.ID) (*orderdomain.Order, error) {
	args := m.Called(orgID, orderID)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrders) RequestRefund(ctx context.Context, req orderdomain.RefundRequestInput) (*orderdomain.RefundRequest, error) {
	args := m.Called(req)
	refund, _ := args.Get(0).(*orderdomain.RefundRequest)
	return refund, args.Error(1)
}

type mockCredits struct {
	creditdomain.Service
	mock.Mock
}

func (m *mockCredits) Reserve(ctx context.Context, req creditdomain.ReserveRequest) (snowflake.ID, error) {
	args := m.Called(req)
	return args.Get(0).(snowflake.ID), args.Error(1)
}

type fakeCosts struct{}

func (fakeCosts) Cost(serviceCode string) (int64, error) {
	if serviceCode == "document-analysis" {
		return 10, nil
	}
	return 0, pricingdomain.ErrUnknownServiceCode
}

func (fakeCosts) List() map[string]int64 {
	return map[string]int64{"document-analysis": 10}
}

type fixture struct {
	engine     *gin.Engine
	settlement *mockSettlement
	orders     *mockOrders
	credits    *mockCredits
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		engine:     NewEngine(observability.Config{}, nil),
		settlement: &mockSettlement{},
		orders:     &mockOrders{},
		credits:    &mockCredits{},
	}
	srv := NewServer(ServerParams{
		Gin:           f.engine,
		Cfg:           config.Config{},
		Log:           zap.NewNop(),
		OrderSvc:      f.orders,
		SettlementSvc: f.settlement,
		CreditSvc:     f.credits,
		Costs:         fakeCosts{},
	})
	srv.RegisterAPIRoutes()
	srv.RegisterWebhookRoutes()
	return f
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func orgHeader() map[string]string {
	return map[string]string{HeaderOrg: testOrgID.String()}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookAcknowledgesProcessedAndIgnoredEvents(t *testing.T) {
	f := newFixture(t)
	f.settlement.On("ProcessWebhook", "stripe", `{"id":"evt_1"}`).Return(true, nil).Once()
	f.settlement.On("ProcessWebhook", "adyen", `{"live":"false"}`).Return(false, nil).Once()

	rec := f.do(http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/webhooks/Adyen", `{"live":"false"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[accepted]", rec.Body.String())
	f.settlement.AssertExpectations(t)
}

func TestWebhookErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "bad_signature", err: paymentdomain.ErrInvalidSignature, status: http.StatusBadRequest},
		{name: "bad_payload", err: paymentdomain.ErrInvalidPayload, status: http.StatusBadRequest},
		{name: "unknown_provider", err: paymentdomain.ErrProviderNotFound, status: http.StatusNotFound},
		{name: "no_webhooks", err: paymentdomain.ErrWebhookUnsupported, status: http.StatusNotFound},
		{name: "network_down", err: paymentdomain.NewProviderError("stripe", "query_payment", http.StatusBadGateway, errors.New("bad gateway")), status: http.StatusServiceUnavailable},
		{name: "database", err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.settlement.On("ProcessWebhook", "stripe", "{}").Return(false, tc.err).Once()

			rec := f.do(http.MethodPost, "/webhooks/stripe", "{}", nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/stripe", strings.Repeat("a", maxWebhookBody+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Type)
	f.settlement.AssertNotCalled(t, "ProcessWebhook", mock.Anything, mock.Anything)

	atLimit := strings.Repeat("a", maxWebhookBody)
	f.settlement.On("ProcessWebhook", "stripe", atLimit).Return(false, nil).Once()
	rec = f.do(http.MethodPost, "/webhooks/stripe", atLimit, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.settlement.AssertExpectations(t)
}

func TestPaymentReturnPassesQueryAndOrg(t *testing.T) {
	f := newFixture(t)
	paymentID := snowflake.ID(77)
	f.settlement.On("VerifyPayment", settlementdomain.ReturnEvidence{
		Provider: "webpay",
		OrgID:    testOrgID,
		Params: map[string]string{
			"org_id":   testOrgID.String(),
			"ref":      paymentID.String(),
			"token_ws": "tok_abc",
		},
	}).Return(&settlementdomain.Result{
		PaymentID:     paymentID,
		OrderStatus:   orderdomain.OrderStatusPaid,
		PaymentStatus: orderdomain.PaymentStatusSucceeded,
		Settled:       true,
	}, nil).Once()

	rec := f.do(http.MethodGet, "/api/payments/return/webpay?org_id=1001&ref=77&token_ws=tok_abc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data settlementdomain.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Settled)
	assert.Equal(t, orderdomain.OrderStatusPaid, resp.Data.OrderStatus)
	f.settlement.AssertExpectations(t)
}

func TestPaymentReturnRejectsMalformedOrg(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/payments/return/stripe?org_id=abc&session_id=cs_1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.settlement.AssertNotCalled(t, "VerifyPayment", mock.Anything)
}

func TestPaymentReturnAmountMismatchIsValidationError(t *testing.T) {
	f := newFixture(t)
	f.settlement.On("VerifyPayment", mock.Anything).Return(nil, settlementdomain.ErrAmountMismatch).Once()

	rec := f.do(http.MethodGet, "/api/payments/return/stripe?session_id=cs_1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "amount_mismatch", payload.Errors[0].Code)
}

func TestScopedRoutesRequireOrgHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/orders/123", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/orders/123", "", map[string]string{HeaderOrg: "not-a-number"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.orders.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	f.orders.On("GetOrder", testOrgID, snowflake.ID(123)).Return(nil, orderdomain.ErrOrderNotFound).Once()

	rec := f.do(http.MethodGet, "/api/orders/123", "", orgHeader())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPaidOrderIsConflict(t *testing.T) {
	f := newFixture(t)
	f.orders.On("CancelOrder", testOrgID, snowflake.ID(123), orderdomain.CancelReasonRequested).
		Return(nil, orderdomain.ErrInvalidTransition).Once()

	rec := f.do(http.MethodPost, "/api/orders/123/cancel", "", orgHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
	f.orders.AssertExpectations(t)
}

func TestRefundOverCeilingIsValidationError(t *testing.T) {
	f := newFixture(t)
	f.orders.On("RequestRefund", orderdomain.RefundRequestInput{
		OrgID:       testOrgID,
		OrderID:     123,
		Amount:      5000,
		Reason:      "duplicate",
		Destination: orderdomain.RefundDestinationWallet,
	}).Return(nil, orderdomain.ErrRefundExceedsPaid).Once()

	rec := f.do(http.MethodPost, "/api/orders/123/refunds", `{"amount":5000,"reason":"duplicate","destination":"wallet"}`, orgHeader())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "refund_exceeds_paid", payload.Errors[0].Code)
}

func TestCheckoutRequiresProvider(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/orders/123/checkout", `{}`, orgHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.settlement.AssertNotCalled(t, "CreateSession", mock.Anything)
}

func TestCheckoutReturnsRedirect(t *testing.T) {
	f := newFixture(t)
	expires := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	f.settlement.On("CreateSession", settlementdomain.CheckoutRequest{
		OrgID:    testOrgID,
		OrderID:  123,
		Provider: "stripe",
	}).Return(&settlementdomain.CheckoutSession{
		PaymentID:   9,
		OrderID:     123,
		Provider:    "stripe",
		SessionID:   "cs_1",
		RedirectURL: "https://checkout.stripe.test/cs_1",
		ExpiresAt:   &expires,
	}, nil).Once()

	rec := f.do(http.MethodPost, "/api/orders/123/checkout", `{"provider":"stripe"}`, orgHeader())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://checkout.stripe.test/cs_1")
}

func TestCheckoutSessionFailureStatuses(t *testing.T) {
	f := newFixture(t)
	rejected := paymentdomain.NewProviderError("stripe", "create_session", http.StatusBadRequest, paymentdomain.ErrSessionRejected)
	f.settlement.On("CreateSession", mock.Anything).
		Return(nil, errors.Join(settlementdomain.ErrSessionOpenFailed, rejected)).Once()

	rec := f.do(http.MethodPost, "/api/orders/123/checkout", `{"provider":"stripe"}`, orgHeader())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReserveInsufficientCreditsIsPaymentRequired(t *testing.T) {
	f := newFixture(t)
	f.credits.On("Reserve", creditdomain.ReserveRequest{
		OrgID:       testOrgID,
		Amount:      10,
		ServiceCode: "document-analysis",
		ReferenceID: "job-1",
	}).Return(snowflake.ID(0), &creditdomain.InsufficientCreditsError{Required: 10, Available: 4}).Once()

	rec := f.do(http.MethodPost, "/api/credits/reservations", `{"service_code":"document-analysis","reference_id":"job-1"}`, orgHeader())
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	payload := decodeError(t, rec)
	assert.Equal(t, "insufficient_credits", payload.Type)
	require.NotNil(t, payload.Required)
	require.NotNil(t, payload.Available)
	assert.Equal(t, int64(10), *payload.Required)
	assert.Equal(t, int64(4), *payload.Available)
}

func TestReserveUnknownServiceCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/credits/reservations", `{"service_code":"translation"}`, orgHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.credits.AssertNotCalled(t, "Reserve", mock.Anything)
}

func TestReserveReturnsReservationID(t *testing.T) {
	f := newFixture(t)
	f.credits.On("Reserve", mock.MatchedBy(func(req creditdomain.ReserveRequest) bool {
		return req.OrgID == testOrgID && req.Amount == 3
	})).Return(snowflake.ID(555), nil).Once()

	rec := f.do(http.MethodPost, "/api/credits/reservations", `{"amount":3}`, orgHeader())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reservation_id":"555"`)
}

func TestListCreditCosts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/credits/costs", "", orgHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"document-analysis":10}}`, rec.Body.String())
}

func TestMapErrorOrganizationConflict(t *testing.T) {
	status, payload := mapError(organizationdomain.ErrOrganizationExists)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", payload.Type)
}
