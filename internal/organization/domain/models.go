// Package domain contains the organizations that own orders and credit balances.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type Organization struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Slug         string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	BillingEmail string       `gorm:"type:text;column:billing_email" json:"billing_email,omitempty"`
	CountryCode  string       `gorm:"type:text;column:country_code" json:"country_code,omitempty"`
	Status       Status       `gorm:"type:text;not null" json:"status"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

func (o Organization) Active() bool {
	return o.Status == StatusActive
}
