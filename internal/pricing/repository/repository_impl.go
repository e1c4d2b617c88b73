package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/pricing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindDiscountByCode(ctx context.Context, db *gorm.DB, code string) (*domain.DiscountCode, error) {
	var item domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, percent_off, amount_off, currency, active, expires_at,
			max_redemptions, redemptions, created_at, updated_at
		 FROM discount_codes
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertDiscount(ctx context.Context, db *gorm.DB, code *domain.DiscountCode) error {
	return db.WithContext(ctx).Create(code).Error
}

// IncrementRedemptions reports false when the code ran out between quote and checkout.
func (r *repo) IncrementRedemptions(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE discount_codes
		 SET redemptions = redemptions + 1
		 WHERE id = ? AND active = ? AND (max_redemptions = 0 OR redemptions < max_redemptions)`,
		id,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
