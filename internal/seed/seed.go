package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	organizationdomain "github.com/smallbiznis/settlement/internal/organization/domain"
	pricingdomain "github.com/smallbiznis/settlement/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultOrgName    = "Main"
	defaultOrgSlug    = "main"
	defaultOrgCountry = "CL"
	defaultOrgEmail   = "billing@main.local"
)

type discountSeed struct {
	Code       string
	PercentOff int64
}

// Development discount codes. FREE100 exercises the zero-amount path end to end.
var discountSeeds = []discountSeed{
	{Code: "FREE100", PercentOff: 100},
	{Code: "WELCOME10", PercentOff: 10},
}

// EnsureMainOrg seeds the default organization and development discount codes.
// It is safe to run on every start.
func EnsureMainOrg(db *gorm.DB, node *snowflake.Node, clk clock.Clock) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	if db == nil || node == nil || clk == nil {
		return org, errors.New("seed dependencies are required")
	}

	ctx := context.Background()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = ensureMainOrgTx(ctx, tx, node, clk)
		if err != nil {
			return err
		}
		return ensureDiscountCodesTx(ctx, tx, node, clk)
	})
	return org, err
}

func ensureMainOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clk clock.Clock) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}
	now := clk.Now().UTC()
	org = organizationdomain.Organization{
		ID:           node.Generate(),
		Name:         defaultOrgName,
		Slug:         defaultOrgSlug,
		BillingEmail: defaultOrgEmail,
		CountryCode:  defaultOrgCountry,
		Status:       organizationdomain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func ensureDiscountCodesTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clk clock.Clock) error {
	now := clk.Now().UTC()
	for _, d := range discountSeeds {
		code := pricingdomain.DiscountCode{
			ID:         node.Generate(),
			Code:       d.Code,
			PercentOff: d.PercentOff,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
			Create(&code).Error
		if err != nil {
			return err
		}
	}
	return nil
}
