package organization

import (
	"github.com/smallbiznis/settlement/internal/organization/domain"
	"github.com/smallbiznis/settlement/internal/organization/repository"
	"github.com/smallbiznis/settlement/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Lookup { return svc }),
)
