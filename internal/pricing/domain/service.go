package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Resolver prices orders. Redeem runs inside the caller's order transaction.
type Resolver interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Redeem(ctx context.Context, tx *gorm.DB, discountCodeID snowflake.ID) error
}

// Costs maps a metered service code to its credit cost.
type Costs interface {
	Cost(serviceCode string) (int64, error)
	List() map[string]int64
}

type Repository interface {
	FindDiscountByCode(ctx context.Context, db *gorm.DB, code string) (*DiscountCode, error)
	InsertDiscount(ctx context.Context, db *gorm.DB, code *DiscountCode) error
	IncrementRedemptions(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}

var (
	ErrDiscountNotFound         = errors.New("discount_not_found")
	ErrDiscountInactive         = errors.New("discount_inactive")
	ErrDiscountExhausted        = errors.New("discount_exhausted")
	ErrDiscountCurrencyMismatch = errors.New("discount_currency_mismatch")
	ErrMissingCreditPrice       = errors.New("missing_credit_price")
	ErrInvalidCredits           = errors.New("invalid_credits")
	ErrInvalidAmount            = errors.New("invalid_amount")
	ErrUnknownServiceCode       = errors.New("unknown_service_code")
)
