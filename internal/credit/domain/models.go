// Package domain contains the append-only credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionEarned   TransactionType = "earned"
	TransactionReserved TransactionType = "reserved"
	TransactionConsumed TransactionType = "consumed"
	TransactionReleased TransactionType = "released"
)

// Transaction is one immutable ledger line. A reserved line's own id is the
// reservation id; the consumed or released line that closes it carries that id in
// ReservationID, which is unique so a reservation closes exactly once.
type Transaction struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index:ix_credit_transactions_org_type,priority:1" json:"org_id"`
	Type           TransactionType   `gorm:"type:text;not null;index:ix_credit_transactions_org_type,priority:2" json:"type"`
	Amount         int64             `gorm:"not null" json:"amount"`
	ServiceCode    string            `gorm:"type:text" json:"service_code,omitempty"`
	ReferenceID    string            `gorm:"type:text" json:"reference_id,omitempty"`
	ReservationID  *snowflake.ID     `gorm:"uniqueIndex:ux_credit_transactions_reservation" json:"reservation_id,omitempty"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_credit_transactions_idempotency" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt      time.Time         `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string { return "credit_transactions" }

// Summary is the ledger folded for one organization.
// Available = Earned - Reserved + Released, which equals Earned - Outstanding - Consumed.
type Summary struct {
	OrgID       snowflake.ID `json:"org_id"`
	Earned      int64        `json:"earned"`
	Reserved    int64        `json:"reserved"`
	Consumed    int64        `json:"consumed"`
	Released    int64        `json:"released"`
	Outstanding int64        `json:"outstanding"`
	Available   int64        `json:"available"`
}

func NewSummary(orgID snowflake.ID, totals map[TransactionType]int64) Summary {
	s := Summary{
		OrgID:    orgID,
		Earned:   totals[TransactionEarned],
		Reserved: totals[TransactionReserved],
		Consumed: totals[TransactionConsumed],
		Released: totals[TransactionReleased],
	}
	s.Outstanding = s.Reserved - s.Consumed - s.Released
	s.Available = s.Earned - s.Reserved + s.Released
	return s
}
