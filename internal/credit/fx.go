package credit

import (
	"github.com/smallbiznis/settlement/internal/credit/lock"
	"github.com/smallbiznis/settlement/internal/credit/repository"
	"github.com/smallbiznis/settlement/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(lock.New),
	fx.Provide(service.NewService),
)
