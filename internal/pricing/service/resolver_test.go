package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/pricing/domain"
	"github.com/smallbiznis/settlement/internal/pricing/repository"
	"github.com/smallbiznis/settlement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestResolver(t *testing.T) (*Resolver, *clock.FakeClock) {
	db := testutil.OpenSQLite(t, &domain.DiscountCode{})
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewResolver(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repository.Provide(),
		Pricing: config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()),
	}), clk
}

func TestQuoteCreditPurchase(t *testing.T) {
	resolver, _ := newTestResolver(t)

	quote, err := resolver.Quote(context.Background(), domain.QuoteRequest{Currency: "clp", Credits: 10})
	require.NoError(t, err)
	assert.Equal(t, "CLP", quote.Currency)
	assert.Equal(t, int64(100), quote.UnitAmount)
	assert.Equal(t, int64(1000), quote.OriginalAmount)
	assert.Equal(t, int64(1000), quote.Amount)
	assert.Nil(t, quote.DiscountCodeID)

	_, err = resolver.Quote(context.Background(), domain.QuoteRequest{Currency: "CLP", Credits: 5})
	require.ErrorIs(t, err, domain.ErrInvalidCredits)

	_, err = resolver.Quote(context.Background(), domain.QuoteRequest{Currency: "EUR", Credits: 10})
	require.ErrorIs(t, err, domain.ErrMissingCreditPrice)
}

func TestQuoteAppliesDiscount(t *testing.T) {
	resolver, clk := newTestResolver(t)
	ctx := context.Background()
	expires := clk.Now().Add(time.Hour)
	require.NoError(t, resolver.repo.InsertDiscount(ctx, resolver.db, &domain.DiscountCode{
		ID: 1, Code: "WELCOME20", PercentOff: 20, Active: true, ExpiresAt: &expires,
		MaxRedemptions: 1, CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))
	require.NoError(t, resolver.repo.InsertDiscount(ctx, resolver.db, &domain.DiscountCode{
		ID: 2, Code: "FULL", AmountOff: 5000, Currency: "CLP", Active: true,
		CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))

	quote, err := resolver.Quote(ctx, domain.QuoteRequest{Currency: "CLP", Credits: 10, DiscountCode: " welcome20 "})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), quote.OriginalAmount)
	assert.Equal(t, int64(200), quote.DiscountAmount)
	assert.Equal(t, int64(800), quote.Amount)
	require.NotNil(t, quote.DiscountCodeID)

	quote, err = resolver.Quote(ctx, domain.QuoteRequest{Currency: "CLP", Credits: 10, DiscountCode: "FULL"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.Amount)

	_, err = resolver.Quote(ctx, domain.QuoteRequest{Currency: "USD", Credits: 10, DiscountCode: "FULL"})
	require.ErrorIs(t, err, domain.ErrDiscountCurrencyMismatch)

	require.NoError(t, resolver.Redeem(ctx, resolver.db, 1))
	require.ErrorIs(t, resolver.Redeem(ctx, resolver.db, 1), domain.ErrDiscountExhausted)
	_, err = resolver.Quote(ctx, domain.QuoteRequest{Currency: "CLP", Credits: 10, DiscountCode: "WELCOME20"})
	require.ErrorIs(t, err, domain.ErrDiscountExhausted)

	clk.Advance(2 * time.Hour)
	_, err = resolver.Quote(ctx, domain.QuoteRequest{Currency: "CLP", Credits: 10, DiscountCode: "welcome20"})
	require.ErrorIs(t, err, domain.ErrDiscountInactive)

	_, err = resolver.Quote(ctx, domain.QuoteRequest{Currency: "CLP", Credits: 10, DiscountCode: "nope"})
	require.ErrorIs(t, err, domain.ErrDiscountNotFound)
}

func TestCostsNormalizeServiceCodes(t *testing.T) {
	costs := NewCosts(config.NewStaticPricingConfigHolder(config.DefaultPricingConfig()))

	cost, err := costs.Cost("Document Analysis")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)

	_, err = costs.Cost("translation")
	require.ErrorIs(t, err, domain.ErrUnknownServiceCode)

	assert.Equal(t, int64(25), costs.List()["contract-review"])
}
