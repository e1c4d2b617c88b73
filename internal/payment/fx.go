package payment

import (
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/payment/adapters"
	"github.com/smallbiznis/settlement/internal/payment/adapters/adyen"
	"github.com/smallbiznis/settlement/internal/payment/adapters/mercadopago"
	"github.com/smallbiznis/settlement/internal/payment/adapters/stripe"
	"github.com/smallbiznis/settlement/internal/payment/adapters/webpay"
	"github.com/smallbiznis/settlement/internal/payment/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*adapters.Registry, error) {
		return adapters.NewFromConfig(cfg, log.Named("payment.registry"),
			stripe.NewFactory(),
			adyen.NewFactory(),
			webpay.NewFactory(),
			mercadopago.NewFactory(),
		)
	}),
)
