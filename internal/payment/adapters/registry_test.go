package adapters

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/payment/adapters/stripe"
	"github.com/smallbiznis/settlement/internal/payment/adapters/webpay"
	"github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Provider() string { return s.name }
func (s stubAdapter) CreateSession(context.Context, domain.SessionRequest) (*domain.Session, error) {
	return nil, nil
}
func (s stubAdapter) QueryPayment(context.Context, domain.PaymentQuery) (*domain.PaymentResult, error) {
	return nil, nil
}
func (s stubAdapter) Verify(context.Context, []byte, http.Header) error { return nil }
func (s stubAdapter) ParseWebhook(context.Context, []byte, http.Header) (*domain.PaymentEvent, error) {
	return nil, nil
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Register("Stripe", stubAdapter{name: "stripe"})
	registry.Register("adyen", stubAdapter{name: "adyen"})

	adapter, err := registry.Get(" STRIPE ")
	require.NoError(t, err)
	assert.Equal(t, "stripe", adapter.Provider())

	_, err = registry.Get("paypal")
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "adyen", list[0].Provider())
	assert.True(t, registry.ProviderExists("adyen"))
}

func TestNewFromConfigRegistersEnabledProviders(t *testing.T) {
	cfg := config.Config{
		Settlement: config.SettlementConfig{NetworkTimeout: time.Second},
		Providers: map[string]config.ProviderConfig{
			"stripe": {Enabled: true, Values: map[string]any{"secret_key": "sk", "webhook_secret": "whsec"}},
			"webpay": {Enabled: false},
		},
	}
	registry, err := NewFromConfig(cfg, zap.NewNop(), stripe.NewFactory(), webpay.NewFactory())
	require.NoError(t, err)
	assert.True(t, registry.ProviderExists("stripe"))
	assert.False(t, registry.ProviderExists("webpay"))
}

func TestNewFromConfigFailsOnMissingCredentials(t *testing.T) {
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"webpay": {Enabled: true, Values: map[string]any{"commerce_code": "597055555532"}},
		},
	}
	_, err := NewFromConfig(cfg, zap.NewNop(), webpay.NewFactory())
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
