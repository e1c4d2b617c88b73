package order

import (
	"github.com/smallbiznis/settlement/internal/order/repository"
	"github.com/smallbiznis/settlement/internal/order/service"
	"github.com/smallbiznis/settlement/internal/payment/adapters"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(registry *adapters.Registry) service.AdapterSource { return registry }),
	fx.Provide(service.NewService),
)
