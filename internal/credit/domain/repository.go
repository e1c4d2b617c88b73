package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) error
	// InsertUnique reports false when a unique key (reservation or idempotency) is taken.
	InsertUnique(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	Totals(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (map[TransactionType]int64, error)
	FindReservation(ctx context.Context, db *gorm.DB, orgID, reservationID snowflake.ID) (*Transaction, error)
	FindClosing(ctx context.Context, db *gorm.DB, reservationID snowflake.ID) (*Transaction, error)
	ExistsByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]Transaction, error)
	ListOpenReservations(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]Transaction, error)
	LockOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error
}
