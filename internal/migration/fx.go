package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
		if err := Run(conn); err != nil {
			return err
		}
		if cfg.IsProduction() {
			return nil
		}
		org, err := seed.EnsureMainOrg(conn, genID, clk)
		if err != nil {
			return err
		}
		log.Info("development organization ready",
			zap.String("org_id", org.ID.String()),
			zap.String("slug", org.Slug),
		)
		return nil
	}),
)
