package adyen

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "44782DEF547AAA06C910C43932B1EB0C71FC68D9D0C057550C48EC2ACF6BA056"

func signedNotification(t *testing.T, items ...adyenNotificationRequestItem) []byte {
	t.Helper()
	key, err := hex.DecodeString(testHMACKey)
	require.NoError(t, err)

	root := adyenNotificationRoot{Live: "false"}
	for _, item := range items {
		if item.AdditionalData == nil {
			item.AdditionalData = map[string]string{}
		}
		item.AdditionalData["hmacSignature"] = signItem(key, item)
		root.NotificationItems = append(root.NotificationItems, adyenNotificationItem{NotificationRequestItem: item})
	}
	payload, err := json.Marshal(root)
	require.NoError(t, err)
	return payload
}

func newTestAdapter(t *testing.T) *Adapter {
	key, err := hex.DecodeString(testHMACKey)
	require.NoError(t, err)
	return &Adapter{merchantAccount: "TestMerchant", hmacKey: key}
}

func authorisation(success string) adyenNotificationRequestItem {
	return adyenNotificationRequestItem{
		Amount:              adyenAmount{Currency: "CLP", Value: 100000},
		EventCode:           "AUTHORISATION",
		EventDate:           "2026-01-02T10:00:00+01:00",
		MerchantAccountCode: "TestMerchant",
		MerchantReference:   "987654321",
		PspReference:        "PSP:123",
		Success:             success,
		Reason:              "Refused",
	}
}

func TestVerifyItemSignatures(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := signedNotification(t, authorisation("true"))
	require.NoError(t, adapter.Verify(context.Background(), payload, http.Header{}))

	var root adyenNotificationRoot
	require.NoError(t, json.Unmarshal(payload, &root))
	root.NotificationItems[0].NotificationRequestItem.Amount.Value = 1
	tampered, err := json.Marshal(root)
	require.NoError(t, err)
	require.ErrorIs(t, adapter.Verify(context.Background(), tampered, http.Header{}), paymentdomain.ErrInvalidSignature)

	require.ErrorIs(t, adapter.Verify(context.Background(), []byte(`{"notificationItems":[]}`), http.Header{}), paymentdomain.ErrInvalidPayload)
}

func TestParseWebhookNormalizesSuccessFlag(t *testing.T) {
	adapter := newTestAdapter(t)

	event, err := adapter.ParseWebhook(context.Background(), signedNotification(t, authorisation("true")), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, event.Status)
	assert.Equal(t, int64(1000), event.Amount)
	assert.Equal(t, "CLP", event.Currency)
	assert.Equal(t, "PSP:123_AUTHORISATION_true", event.ProviderEventID)
	ref, ok := event.PaymentRef()
	require.True(t, ok)
	assert.Equal(t, "987654321", ref.String())

	event, err = adapter.ParseWebhook(context.Background(), signedNotification(t, authorisation("false")), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, event.Status)
	assert.Equal(t, "Refused", event.FailureReason)
}

func TestParseWebhookIgnoresReportOnlyItems(t *testing.T) {
	adapter := newTestAdapter(t)
	item := authorisation("true")
	item.EventCode = "REPORT_AVAILABLE"
	_, err := adapter.ParseWebhook(context.Background(), signedNotification(t, item), http.Header{})
	require.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestAdyenValueConversion(t *testing.T) {
	assert.Equal(t, int64(100000), toAdyenValue(1000, "clp"))
	assert.Equal(t, int64(1000), fromAdyenValue(100000, "CLP"))
	assert.Equal(t, int64(1050), toAdyenValue(1050, "USD"))
	assert.Equal(t, int64(500), toAdyenValue(500, "JPY"))
}

func TestPaymentLinkLifecycle(t *testing.T) {
	var created paymentLinkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key_test", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/paymentLinks":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_, _ = w.Write([]byte(`{"id":"PL1","url":"https://test.adyen.link/PL1","status":"active","expiresAt":"2030-01-01T00:00:00Z"}`))
		case r.URL.Path == "/paymentLinks/PL1":
			_, _ = w.Write([]byte(`{"id":"PL1","status":"completed","amount":{"currency":"CLP","value":100000}}`))
		case r.URL.Path == "/paymentLinks/PL2":
			_, _ = w.Write([]byte(`{"id":"PL2","status":"expired","amount":{"currency":"CLP","value":100000}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Timeout: time.Second,
		Config: map[string]any{
			"api_key":          "key_test",
			"merchant_account": "TestMerchant",
			"hmac_key":         testHMACKey,
			"base_url":         srv.URL,
		},
	})
	require.NoError(t, err)

	session, err := adapter.CreateSession(context.Background(), paymentdomain.SessionRequest{
		PaymentID: 55,
		Amount:    1000,
		Currency:  "CLP",
		ReturnURL: "https://app.test/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "PL1", session.SessionID)
	assert.Equal(t, "55", created.Reference)
	assert.Equal(t, int64(100000), created.Amount.Value)
	assert.Equal(t, "TestMerchant", created.MerchantAccount)

	result, err := adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{SessionID: "PL1"})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, result.Status)
	assert.Equal(t, int64(1000), result.Amount)

	result, err = adapter.QueryPayment(context.Background(), paymentdomain.PaymentQuery{SessionID: "PL2"})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, result.Status)
}

func TestFactoryRejectsBadHMACKey(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{
		"api_key":          "k",
		"merchant_account": "m",
		"hmac_key":         "not-hex",
	}})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
