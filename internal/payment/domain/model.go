package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the normalized settlement signal every adapter reduces its network's
// vocabulary to. The empty status means the network sent a notification without a
// usable state and the payment must be queried.
type Status string

const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Definitive() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// EventRecord is the stored copy of an inbound webhook, deduplicated by
// (provider, provider_event_id).
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           *snowflake.ID  `json:"org_id,omitempty" gorm:"index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	PaymentID       *snowflake.ID  `json:"payment_id,omitempty" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

// SessionRequest is what an adapter needs to open a hosted checkout at its network.
type SessionRequest struct {
	OrgID         snowflake.ID
	PaymentID     snowflake.ID
	OrderID       snowflake.ID
	OrderNumber   string
	Description   string
	Amount        int64
	Currency      string
	ReturnURL     string
	CancelURL     string
	NotifyURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// Reference is the merchant reference sent to every network. It is the local
// payment id so webhooks can be matched without a token lookup.
func (r SessionRequest) Reference() string {
	return r.PaymentID.String()
}

type Session struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   *time.Time
	Metadata    map[string]any
}

// PaymentQuery identifies a payment at the network. SessionID is the token stored
// when the session was opened; ProviderPaymentID is a network payment id learned
// later (return query string or webhook).
type PaymentQuery struct {
	SessionID         string
	ProviderPaymentID string
	Reference         string
	Params            map[string]string
}

type PaymentResult struct {
	Status            Status
	ProviderPaymentID string
	Reference         string
	Amount            int64
	Currency          string
	FailureReason     string
	Metadata          map[string]any
}

// PaymentEvent is the canonical webhook parsed by an adapter.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	EventType         string
	SessionID         string
	ProviderPaymentID string
	Reference         string
	Status            Status
	Amount            int64
	Currency          string
	FailureReason     string
	OccurredAt        time.Time
	RawPayload        []byte
	Metadata          map[string]any
}

// PaymentRef returns the local payment id carried as merchant reference, if any.
func (e *PaymentEvent) PaymentRef() (snowflake.ID, bool) {
	if e == nil {
		return 0, false
	}
	ref := strings.TrimSpace(e.Reference)
	if ref == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(ref)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type RefundRequest struct {
	SessionID         string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
	IdempotencyKey    string
}

type RefundResult struct {
	ProviderRefundID string
	Status           Status
}
