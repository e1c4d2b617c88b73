package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Lookup is what payment and credit flows need from an organization.
type Lookup interface {
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
}

type Service interface {
	Lookup
	Create(ctx context.Context, req CreateRequest) (*Organization, error)
}

type CreateRequest struct {
	Name         string
	BillingEmail string
	CountryCode  string
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org Organization) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidCountry       = errors.New("invalid_country")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrOrganizationExists   = errors.New("organization_exists")
)
