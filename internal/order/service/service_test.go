package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	"github.com/smallbiznis/settlement/internal/order/repository"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	pricingrepository "github.com/smallbiznis/settlement/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/settlement/internal/pricing/service"
	"github.com/smallbiznis/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(1001)

type refundingAdapter struct {
	mock.Mock
}

func (a *refundingAdapter) Provider() string { return "stripe" }
func (a *refundingAdapter) CreateSession(context.Context, paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	return nil, nil
}
func (a *refundingAdapter) QueryPayment(context.Context, paymentdomain.PaymentQuery) (*paymentdomain.PaymentResult, error) {
	return nil, nil
}
func (a *refundingAdapter) Verify(context.Context, []byte, http.Header) error { return nil }
func (a *refundingAdapter) ParseWebhook(context.Context, []byte, http.Header) (*paymentdomain.PaymentEvent, error) {
	return nil, nil
}
func (a *refundingAdapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	args := a.Called(ctx, req)
	if res, ok := args.Get(0).(*paymentdomain.RefundResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

type adapterMap map[string]paymentdomain.PaymentAdapter

func (m adapterMap) Get(provider string) (paymentdomain.PaymentAdapter, error) {
	adapter, ok := m[provider]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return adapter, nil
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func newFixture(t *testing.T, adapters AdapterSource) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t,
		&orderdomain.Order{},
		&orderdomain.Payment{},
		&orderdomain.Invoice{},
		&orderdomain.RefundRequest{},
		&pricingdomain.DiscountCode{},
	)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{Settlement: config.SettlementConfig{OrderTTL: 30 * time.Minute}}
	resolver := pricingservice.NewResolver(pricingservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    pricingrepository.Provide(),
		Pricing: config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()),
	})
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    testutil.NewNode(t),
		Clock:    clk,
		Config:   cfg,
		Repo:     repository.Provide(),
		Pricing:  resolver,
		Adapters: adapters,
	}).(*Service)
	return &fixture{svc: svc, db: db, clock: clk}
}

func (f *fixture) creditOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		OrgID:       testOrg,
		ProductType: orderdomain.ProductTypeCreditPurchase,
		Currency:    "CLP",
		Credits:     10,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) openPayment(t *testing.T, order *orderdomain.Order, token string) *orderdomain.Payment {
	t.Helper()
	ctx := context.Background()
	payment, _, err := f.svc.OpenPayment(ctx, orderdomain.OpenPaymentRequest{OrgID: order.OrgID, OrderID: order.ID, Provider: "Stripe"})
	require.NoError(t, err)
	require.NoError(t, f.svc.AttachSession(ctx, payment.ID, token, map[string]any{"session": token}))
	return payment
}

func TestCreateOrderPricesCreditsAndOpensInvoice(t *testing.T) {
	f := newFixture(t, nil)
	order := f.creditOrder(t)

	assert.Equal(t, int64(1000), order.Amount)
	assert.Equal(t, "CLP", order.Currency)
	assert.Equal(t, orderdomain.OrderStatusPendingPayment, order.Status)
	require.NotNil(t, order.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), *order.ExpiresAt)
	assert.Contains(t, order.OrderNumber, "ORD-")

	invoice, err := f.svc.GetInvoice(context.Background(), testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.InvoiceStatusDraft, invoice.Status)
	assert.Equal(t, int64(1000), invoice.Total)

	_, err = f.svc.GetOrder(context.Background(), snowflake.ID(2002), order.ID)
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, orderdomain.CreateOrderRequest{OrgID: testOrg, ProductType: "gift", Currency: "CLP"})
	require.ErrorIs(t, err, orderdomain.ErrInvalidProductType)

	_, err = f.svc.CreateOrder(ctx, orderdomain.CreateOrderRequest{OrgID: testOrg, ProductType: orderdomain.ProductTypeCreditPurchase, Currency: "CLP"})
	require.ErrorIs(t, err, orderdomain.ErrInvalidCredits)

	_, err = f.svc.CreateOrder(ctx, orderdomain.CreateOrderRequest{OrgID: testOrg, ProductType: orderdomain.ProductTypeService, Currency: "CLP", Amount: -1})
	require.ErrorIs(t, err, orderdomain.ErrInvalidAmount)
}

func TestSettlePaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_1")

	outcome, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID, NetworkPaymentID: "pi_1"})
	require.NoError(t, err)
	assert.True(t, outcome.Won)
	assert.True(t, outcome.OrderPaid)
	assert.Equal(t, orderdomain.OrderStatusPaid, outcome.Order.Status)
	assert.Equal(t, orderdomain.InvoiceStatusPaid, outcome.Invoice.Status)
	require.NotNil(t, outcome.Payment.ProcessedAt)
	assert.Equal(t, "pi_1", outcome.Payment.Metadata["network_payment_id"])
	assert.Equal(t, "cs_1", outcome.Payment.Token())

	again, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.False(t, again.Won)

	stored, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, *outcome.Payment.ProcessedAt, *stored.ProcessedAt)

	failed, err := f.svc.FailPayment(ctx, payment.ID, "late_failure")
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestSettlePaymentConcurrentCallersHaveOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_race")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.SettlePayment(context.Background(), orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
			assert.NoError(t, err)
			if err == nil && outcome.Won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLatePaymentOnExpiredOrderOpensRefund(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_late")

	f.clock.Advance(31 * time.Minute)
	expired, err := f.svc.ExpirePendingOrders(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	outcome, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.True(t, outcome.Won)
	assert.False(t, outcome.OrderPaid)
	assert.Equal(t, orderdomain.OrderStatusCancelled, outcome.Order.Status)
	assert.Equal(t, orderdomain.InvoiceStatusDraft, outcome.Invoice.Status)
	require.NotNil(t, outcome.LateRefund)
	assert.Equal(t, int64(1000), outcome.LateRefund.Amount)
	assert.Equal(t, orderdomain.RefundStatusPending, outcome.LateRefund.Status)
}

func TestExpireSkipsPaidOrders(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_paid")
	_, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	expired, err := f.svc.ExpirePendingOrders(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	_, err = f.svc.CancelOrder(ctx, testOrg, order.ID, "")
	require.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	completed, err := f.svc.CompleteOrder(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusCompleted, completed.Status)
}

func TestOpenPaymentGuards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)

	_, _, err := f.svc.OpenPayment(ctx, orderdomain.OpenPaymentRequest{OrgID: testOrg, OrderID: order.ID})
	require.ErrorIs(t, err, orderdomain.ErrInvalidProvider)

	f.clock.Advance(31 * time.Minute)
	_, _, err = f.svc.OpenPayment(ctx, orderdomain.OpenPaymentRequest{OrgID: testOrg, OrderID: order.ID, Provider: "webpay"})
	require.ErrorIs(t, err, orderdomain.ErrOrderExpired)
}

func TestZeroAmountOrderConfirmsWithoutPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		OrgID:       testOrg,
		ProductType: orderdomain.ProductTypeService,
		Currency:    "CLP",
		Amount:      0,
	})
	require.NoError(t, err)

	_, _, err = f.svc.OpenPayment(ctx, orderdomain.OpenPaymentRequest{OrgID: testOrg, OrderID: order.ID, Provider: "stripe"})
	require.ErrorIs(t, err, orderdomain.ErrZeroAmountOrder)

	outcome, err := f.svc.ConfirmZeroAmount(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Won)
	assert.Equal(t, orderdomain.OrderStatusPaid, outcome.Order.Status)
	assert.Equal(t, orderdomain.InvoiceStatusPaid, outcome.Invoice.Status)

	again, err := f.svc.ConfirmZeroAmount(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.False(t, again.Won)

	payments, err := f.svc.ListPayments(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	paid := f.creditOrder(t)
	_, err = f.svc.ConfirmZeroAmount(ctx, testOrg, paid.ID)
	require.ErrorIs(t, err, orderdomain.ErrInvalidAmount)
}

func TestZeroAmountOrderPastExpiryIsNotConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		OrgID:       testOrg,
		ProductType: orderdomain.ProductTypeService,
		Currency:    "CLP",
		Amount:      0,
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.ConfirmZeroAmount(ctx, testOrg, order.ID)
	require.ErrorIs(t, err, orderdomain.ErrOrderExpired)

	stored, err := f.svc.GetOrder(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusPendingPayment, stored.Status)
	assert.Nil(t, stored.PaidAt)
}

func TestRefundCeilingAndNetworkRefund(t *testing.T) {
	adapter := &refundingAdapter{}
	f := newFixture(t, adapterMap{"stripe": adapter})
	ctx := context.Background()
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_refund")
	_, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID, NetworkPaymentID: "pi_refund"})
	require.NoError(t, err)

	first, err := f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID, Amount: 600})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, first.PaymentID)

	_, err = f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID, Amount: 500})
	require.ErrorIs(t, err, orderdomain.ErrRefundExceedsPaid)

	_, err = f.svc.ProcessRefund(ctx, testOrg, first.ID)
	require.ErrorIs(t, err, orderdomain.ErrInvalidTransition)

	_, err = f.svc.ApproveRefund(ctx, testOrg, first.ID)
	require.NoError(t, err)

	adapter.On("Refund", mock.Anything, mock.MatchedBy(func(req paymentdomain.RefundRequest) bool {
		return req.ProviderPaymentID == "pi_refund" && req.Amount == 600 && req.IdempotencyKey == "refund:"+first.ID.String()
	})).Return(&paymentdomain.RefundResult{ProviderRefundID: "re_1", Status: paymentdomain.StatusSucceeded}, nil).Once()

	done, err := f.svc.ProcessRefund(ctx, testOrg, first.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.RefundStatusCompleted, done.Status)
	assert.Equal(t, "re_1", done.ProviderRefundID)

	order, err = f.svc.GetOrder(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusPaid, order.Status)

	rest, err := f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID, Destination: orderdomain.RefundDestinationWallet})
	require.NoError(t, err)
	assert.Equal(t, int64(400), rest.Amount)
	_, err = f.svc.ApproveRefund(ctx, testOrg, rest.ID)
	require.NoError(t, err)
	_, err = f.svc.ProcessRefund(ctx, testOrg, rest.ID)
	require.NoError(t, err)

	order, err = f.svc.GetOrder(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusRefunded, order.Status)
	require.NotNil(t, order.RefundedAt)
	adapter.AssertExpectations(t)
}

func TestRefundWithoutNetworkSupportWaitsForManualCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_manual")
	_, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	refund, err := f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID, Amount: 1000, Reason: "duplicate"})
	require.NoError(t, err)
	_, err = f.svc.ApproveRefund(ctx, testOrg, refund.ID)
	require.NoError(t, err)

	processing, err := f.svc.ProcessRefund(ctx, testOrg, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.RefundStatusProcessing, processing.Status)

	completed, err := f.svc.CompleteRefund(ctx, testOrg, refund.ID, "manual-1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.RefundStatusCompleted, completed.Status)

	_, err = f.svc.RejectRefund(ctx, testOrg, refund.ID, "too late")
	require.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
}

func TestDuplicatePaymentRefundLeavesOrderRefundable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.creditOrder(t)
	first := f.openPayment(t, order, "cs_first")
	second := f.openPayment(t, order, "cs_second")

	paid, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: first.ID})
	require.NoError(t, err)
	require.True(t, paid.OrderPaid)

	dup, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: second.ID})
	require.NoError(t, err)
	assert.True(t, dup.Won)
	assert.False(t, dup.OrderPaid)
	assert.True(t, dup.Payment.IsLatePayment())
	require.NotNil(t, dup.LateRefund)
	assert.Equal(t, second.ID, dup.LateRefund.PaymentID)

	_, err = f.svc.ApproveRefund(ctx, testOrg, dup.LateRefund.ID)
	require.NoError(t, err)
	_, err = f.svc.ProcessRefund(ctx, testOrg, dup.LateRefund.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteRefund(ctx, testOrg, dup.LateRefund.ID, "manual-dup")
	require.NoError(t, err)

	stored, err := f.svc.GetOrder(ctx, testOrg, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusPaid, stored.Status)
	assert.Nil(t, stored.RefundedAt)

	refund, err := f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, refund.PaymentID)
	assert.Equal(t, int64(1000), refund.Amount)

	_, err = f.svc.RequestRefund(ctx, orderdomain.RefundRequestInput{OrgID: testOrg, OrderID: order.ID, Amount: 1})
	require.ErrorIs(t, err, orderdomain.ErrRefundExceedsPaid)
}

func TestCaptureAfterFailureIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// the order is still open, so the recovered capture pays it
	order := f.creditOrder(t)
	payment := f.openPayment(t, order, "cs_recover")
	failed, err := f.svc.FailPayment(ctx, payment.ID, "session_error")
	require.NoError(t, err)
	require.True(t, failed)

	outcome, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID, NetworkPaymentID: "pi_recover"})
	require.NoError(t, err)
	assert.True(t, outcome.Won)
	assert.True(t, outcome.Recovered)
	assert.True(t, outcome.OrderPaid)
	assert.Nil(t, outcome.LateRefund)
	assert.Equal(t, orderdomain.PaymentStatusSucceeded, outcome.Payment.Status)
	assert.Equal(t, "session_error", outcome.Payment.Metadata["recovered_failure_reason"])

	again, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.False(t, again.Won)

	// another attempt already paid the order, so the capture is refunded
	other := f.creditOrder(t)
	lost := f.openPayment(t, other, "cs_lost")
	_, err = f.svc.FailPayment(ctx, lost.ID, "session_error")
	require.NoError(t, err)
	retry := f.openPayment(t, other, "cs_retry")
	_, err = f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: retry.ID})
	require.NoError(t, err)

	late, err := f.svc.SettlePayment(ctx, orderdomain.SettlePaymentRequest{PaymentID: lost.ID})
	require.NoError(t, err)
	assert.True(t, late.Won)
	assert.True(t, late.Recovered)
	assert.False(t, late.OrderPaid)
	require.NotNil(t, late.LateRefund)
	assert.Equal(t, lost.ID, late.LateRefund.PaymentID)
	assert.Equal(t, int64(1000), late.LateRefund.Amount)
	assert.Equal(t, orderdomain.OrderStatusPaid, late.Order.Status)
}
