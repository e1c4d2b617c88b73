package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/smallbiznis/settlement/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Pricing *config.PricingConfigHolder
}

type Resolver struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	pricing *config.PricingConfigHolder
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:      p.DB,
		log:     p.Log.Named("pricing.resolver"),
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
	}
}

func (r *Resolver) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	currency := paymentdomain.NormalizeCurrency(req.Currency)
	if currency == "" {
		return nil, domain.ErrMissingCreditPrice
	}

	quote := &domain.Quote{Currency: currency, Credits: req.Credits}
	switch {
	case req.Credits > 0:
		cfg := r.pricing.Get()
		if cfg.MinCredits > 0 && req.Credits < cfg.MinCredits {
			return nil, domain.ErrInvalidCredits
		}
		unit, ok := creditPrice(cfg, currency)
		if !ok {
			return nil, domain.ErrMissingCreditPrice
		}
		quote.UnitAmount = unit
		quote.OriginalAmount = unit * req.Credits
	case req.Credits < 0:
		return nil, domain.ErrInvalidCredits
	case req.Amount < 0:
		return nil, domain.ErrInvalidAmount
	default:
		quote.OriginalAmount = req.Amount
	}

	code := strings.ToUpper(strings.TrimSpace(req.DiscountCode))
	if code != "" {
		discount, err := r.repo.FindDiscountByCode(ctx, r.db, code)
		if err != nil {
			return nil, err
		}
		if discount == nil {
			return nil, domain.ErrDiscountNotFound
		}
		if !discount.Active || (discount.ExpiresAt != nil && !r.clock.Now().Before(*discount.ExpiresAt)) {
			return nil, domain.ErrDiscountInactive
		}
		if discount.MaxRedemptions > 0 && discount.Redemptions >= discount.MaxRedemptions {
			return nil, domain.ErrDiscountExhausted
		}
		if discount.AmountOff > 0 && paymentdomain.NormalizeCurrency(discount.Currency) != currency {
			return nil, domain.ErrDiscountCurrencyMismatch
		}
		quote.DiscountAmount = discount.Discount(quote.OriginalAmount)
		id := discount.ID
		quote.DiscountCodeID = &id
	}

	quote.Amount = quote.OriginalAmount - quote.DiscountAmount
	return quote, nil
}

func (r *Resolver) Redeem(ctx context.Context, tx *gorm.DB, discountCodeID snowflake.ID) error {
	ok, err := r.repo.IncrementRedemptions(ctx, tx, discountCodeID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDiscountExhausted
	}
	return nil
}

func creditPrice(cfg config.PricingConfig, currency string) (int64, bool) {
	for _, price := range cfg.CreditPrices {
		if paymentdomain.NormalizeCurrency(price.Currency) == currency {
			return price.UnitAmount, true
		}
	}
	return 0, false
}

// Costs reads service-code costs from the live pricing config. Codes are compared
// in slug form so "Document Analysis" and "document-analysis" are the same service.
type Costs struct {
	pricing *config.PricingConfigHolder
}

func NewCosts(pricing *config.PricingConfigHolder) *Costs {
	return &Costs{pricing: pricing}
}

func NormalizeServiceCode(code string) string {
	return slug.Make(strings.TrimSpace(code))
}

func (c *Costs) Cost(serviceCode string) (int64, error) {
	code := NormalizeServiceCode(serviceCode)
	for _, cost := range c.pricing.Get().ServiceCosts {
		if NormalizeServiceCode(cost.Code) == code {
			return cost.Credits, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrUnknownServiceCode, code)
}

func (c *Costs) List() map[string]int64 {
	costs := c.pricing.Get().ServiceCosts
	out := make(map[string]int64, len(costs))
	for _, cost := range costs {
		out[NormalizeServiceCode(cost.Code)] = cost.Credits
	}
	return out
}

var (
	_ domain.Resolver = (*Resolver)(nil)
	_ domain.Costs    = (*Costs)(nil)
)
