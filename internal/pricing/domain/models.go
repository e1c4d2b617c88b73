// Package domain contains discount codes and the price quoting contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DiscountCode reduces an order total either by a percentage or by a fixed
// amount in the code's currency.
type DiscountCode struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Code           string       `gorm:"type:text;not null;uniqueIndex:ux_discount_codes_code" json:"code"`
	PercentOff     int64        `gorm:"not null;default:0" json:"percent_off"`
	AmountOff      int64        `gorm:"not null;default:0" json:"amount_off"`
	Currency       string       `gorm:"type:text" json:"currency,omitempty"`
	Active         bool         `gorm:"not null;default:true" json:"active"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	MaxRedemptions int64        `gorm:"not null;default:0" json:"max_redemptions"`
	Redemptions    int64        `gorm:"not null;default:0" json:"redemptions"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

// Discount returns the amount taken off subtotal, never more than subtotal.
func (d DiscountCode) Discount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var off int64
	switch {
	case d.PercentOff > 0:
		off = subtotal * d.PercentOff / 100
	case d.AmountOff > 0:
		off = d.AmountOff
	}
	if off > subtotal {
		off = subtotal
	}
	return off
}

type QuoteRequest struct {
	Currency string
	// Credits is set for credit purchases and priced from the credit price list.
	Credits int64
	// Amount is set for service orders that carry their own price.
	Amount       int64
	DiscountCode string
}

type Quote struct {
	Currency       string
	Credits        int64
	UnitAmount     int64
	OriginalAmount int64
	DiscountAmount int64
	Amount         int64
	DiscountCodeID *snowflake.ID
}
