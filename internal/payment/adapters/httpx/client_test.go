package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1"}`))
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	client := New(srv.URL, time.Second)
	err := Do(context.Background(), "stripe", "create_session", client.R(), http.MethodGet, "/x", &out)
	require.NoError(t, err)
	require.Equal(t, "sess_1", out.ID)
}

func TestDoClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	err := Do(context.Background(), "adyen", "query_payment", client.R(), http.MethodGet, "/x", nil)

	var perr *paymentdomain.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusBadGateway, perr.StatusCode)
	require.True(t, paymentdomain.IsTransient(err))
	require.Contains(t, err.Error(), "upstream down")
}

func TestDoClassifiesClientErrorAsDefinitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid amount"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second)
	err := Do(context.Background(), "webpay", "create_session", client.R(), http.MethodPost, "/x", nil)
	require.Error(t, err)
	require.False(t, paymentdomain.IsTransient(err))
}

func TestDoTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(srv.URL, 20*time.Millisecond)
	err := Do(context.Background(), "mercadopago", "query_payment", client.R(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	require.True(t, paymentdomain.IsTransient(err))
}
