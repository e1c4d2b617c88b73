package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, slug, billing_email, country_code, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.BillingEmail,
		org.CountryCode,
		org.Status,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	return r.findOne(ctx, "slug = ?", slug)
}

func (r *repository) findOne(ctx context.Context, where string, arg any) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, slug, billing_email, country_code, status, created_at, updated_at
		 FROM organizations
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}
