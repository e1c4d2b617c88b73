package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	creditdomain "github.com/smallbiznis/settlement/internal/credit/domain"
	orderdomain "github.com/smallbiznis/settlement/internal/order/domain"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	"github.com/smallbiznis/settlement/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type, in dependency order, for dialects that are
// migrated with AutoMigrate.
func Models() []any {
	return []any{
		&organizationdomain.Organization{},
		&pricingdomain.DiscountCode{},
		&orderdomain.Order{},
		&orderdomain.Payment{},
		&orderdomain.Invoice{},
		&orderdomain.RefundRequest{},
		&creditdomain.Transaction{},
		&paymentdomain.EventRecord{},
	}
}

// Run brings the schema up to date. Postgres uses the versioned SQL files; other
// dialects fall back to AutoMigrate.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if db.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
