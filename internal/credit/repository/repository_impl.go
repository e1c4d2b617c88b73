package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/credit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) InsertUnique(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (map[domain.TransactionType]int64, error) {
	var rows []struct {
		Type  domain.TransactionType
		Total int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT type, COALESCE(SUM(amount), 0) AS total
		 FROM credit_transactions
		 WHERE org_id = ?
		 GROUP BY type`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[domain.TransactionType]int64, len(rows))
	for _, row := range rows {
		totals[row.Type] = row.Total
	}
	return totals, nil
}

func (r *repo) FindReservation(ctx context.Context, db *gorm.DB, orgID, reservationID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).
		Where("id = ? AND org_id = ? AND type = ?", reservationID, orgID, domain.TransactionReserved).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindClosing(ctx context.Context, db *gorm.DB, reservationID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	if err := db.WithContext(ctx).Where("reservation_id = ?", reservationID).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ExistsByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Transaction, error) {
	var item domain.Transaction
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) ListOpenReservations(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT r.*
		 FROM credit_transactions r
		 LEFT JOIN credit_transactions c ON c.reservation_id = r.id
		 WHERE r.type = ? AND r.created_at < ? AND c.id IS NULL
		 ORDER BY r.created_at ASC
		 LIMIT ?`,
		domain.TransactionReserved,
		olderThan,
		limit,
	).Scan(&items).Error
	return items, err
}

// LockOrg takes a transaction-scoped advisory lock on Postgres. Other dialects rely
// on the process-level OrgLocker alone.
func (r *repo) LockOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(?)`, int64(orgID)).Error
}
