package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingConfig is the hot-reloadable price list for credits and metered operations.
type PricingConfig struct {
	// CreditPrices is the price of a single credit in minor units per currency.
	CreditPrices []CreditPrice `mapstructure:"creditPrices"`
	ServiceCosts []ServiceCost `mapstructure:"serviceCosts"`
	MinCredits   int64         `mapstructure:"minCredits"`
}

type CreditPrice struct {
	Currency   string `mapstructure:"currency"`
	UnitAmount int64  `mapstructure:"unitAmount"`
}

type ServiceCost struct {
	Code    string `mapstructure:"code"`
	Credits int64  `mapstructure:"credits"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		CreditPrices: []CreditPrice{
			{Currency: "CLP", UnitAmount: 100},
			{Currency: "USD", UnitAmount: 10},
		},
		ServiceCosts: []ServiceCost{
			{Code: "document-analysis", Credits: 10},
			{Code: "contract-review", Credits: 25},
			{Code: "quick-answer", Credits: 1},
		},
		MinCredits: 10,
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder returns a holder that never reloads.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pricing.config")

	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/settlement/config")
	v.AddConfigPath("/etc/settlement")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.creditPrices", defaults.CreditPrices)
		v.SetDefault("pricing.serviceCosts", defaults.ServiceCosts)
		v.SetDefault("pricing.minCredits", defaults.MinCredits)
		watch = false
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPricingConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("pricing reload failed", zap.Error(err))
			return
		}
		if err := ValidatePricingConfig(updated); err != nil {
			log.Warn("invalid pricing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func ValidatePricingConfig(cfg PricingConfig) error {
	if len(cfg.CreditPrices) == 0 {
		return errors.New("pricing.creditPrices cannot be empty")
	}
	for _, price := range cfg.CreditPrices {
		if strings.TrimSpace(price.Currency) == "" || price.UnitAmount <= 0 {
			return fmt.Errorf("pricing.creditPrices: invalid entry for %q", price.Currency)
		}
	}
	for _, cost := range cfg.ServiceCosts {
		if strings.TrimSpace(cost.Code) == "" || cost.Credits <= 0 {
			return fmt.Errorf("pricing.serviceCosts: invalid entry for %q", cost.Code)
		}
	}
	return nil
}
