package pricing

import (
	"github.com/smallbiznis/settlement/internal/pricing/domain"
	"github.com/smallbiznis/settlement/internal/pricing/repository"
	"github.com/smallbiznis/settlement/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(service.NewResolver, fx.As(new(domain.Resolver))),
		fx.Annotate(service.NewCosts, fx.As(new(domain.Costs))),
	),
)
