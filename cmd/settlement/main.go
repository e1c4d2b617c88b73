package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/credit"
	"github.com/smallbiznis/settlement/internal/migration"
	"github.com/smallbiznis/settlement/internal/notification"
	"github.com/smallbiznis/settlement/internal/observability"
	"github.com/smallbiznis/settlement/internal/order"
	"github.com/smallbiznis/settlement/internal/organization"
	"github.com/smallbiznis/settlement/internal/payment"
	"github.com/smallbiznis/settlement/internal/pricing"
	"github.com/smallbiznis/settlement/internal/ratelimit"
	"github.com/smallbiznis/settlement/internal/scheduler"
	"github.com/smallbiznis/settlement/internal/server"
	"github.com/smallbiznis/settlement/internal/settlement"
	"github.com/smallbiznis/settlement/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		migration.Module,

		// Functional Domains
		organization.Module,
		pricing.Module,
		payment.Module,
		order.Module,
		credit.Module,
		notification.Module,
		settlement.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
