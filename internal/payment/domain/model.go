package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "PENDING"
	PaymentAuthorized  PaymentStatus = "AUTHORIZED"
	PaymentCaptured    PaymentStatus = "CAPTURED"
	PaymentTransferred PaymentStatus = "TRANSFERRED"
	PaymentRefunded    PaymentStatus = "REFUNDED"
	PaymentFailed      PaymentStatus = "FAILED"
	PaymentCancelled   PaymentStatus = "CANCELLED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:     {PaymentAuthorized, PaymentFailed, PaymentCancelled},
	PaymentAuthorized:  {PaymentCaptured, PaymentCancelled, PaymentFailed},
	PaymentCaptured:    {PaymentTransferred, PaymentRefunded},
	PaymentTransferred: {PaymentRefunded},
	// REFUNDED is re-enterable so partial refunds can stack.
	PaymentRefunded: {PaymentRefunded},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// paymentStatusRank orders the happy path of a charge. Failure states are
// not ranked: they never count as "past" anything.
var paymentStatusRank = map[PaymentStatus]int{
	PaymentPending:     0,
	PaymentAuthorized:  1,
	PaymentCaptured:    2,
	PaymentTransferred: 3,
	PaymentRefunded:    4,
}

// AtOrPast reports whether the status already reached target on the happy
// path. Webhook reconciliation uses this to treat late or replayed events
// as acknowledgeable no-ops.
func (s PaymentStatus) AtOrPast(target PaymentStatus) bool {
	rank, ok := paymentStatusRank[s]
	if !ok {
		return false
	}
	targetRank, ok := paymentStatusRank[target]
	if !ok {
		return false
	}
	return rank >= targetRank
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentCancelled
}

type PaymentType string

const (
	PaymentTypeCharge PaymentType = "charge"
	PaymentTypeRefund PaymentType = "refund"
	PaymentTypePayout PaymentType = "payout"
)

// Payment is one money movement. A charge escrows the requester's funds
// and carries the captured/refunded counters; refunds and payouts are
// secondary rows referencing the originating charge through
// ParentPaymentID, so the audit trail never mutates the charge amount.
// RefundedAmount <= CapturedAmount <= Amount holds at all times.
type Payment struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	RequestID       snowflake.ID  `gorm:"not null;index" json:"request_id"`
	ParentPaymentID *snowflake.ID `gorm:"index" json:"parent_payment_id,omitempty"`
	Type            PaymentType   `gorm:"not null" json:"type"`
	Amount          int64         `gorm:"not null" json:"amount"`
	CapturedAmount  int64         `gorm:"not null" json:"captured_amount"`
	RefundedAmount  int64         `gorm:"not null" json:"refunded_amount"`
	Currency        string        `gorm:"not null" json:"currency"`
	PlatformFee     int64         `gorm:"not null" json:"platform_fee"`
	Status          PaymentStatus `gorm:"not null" json:"status"`
	Provider        string        `gorm:"not null" json:"provider"`
	ProviderRef     string        `json:"provider_ref,omitempty"`
	PayerRef        string        `json:"payer_ref,omitempty"`
	Description     string        `json:"description,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// RefundableAmount is what is still held: captured minus already
// refunded.
func (p Payment) RefundableAmount() int64 {
	return p.CapturedAmount - p.RefundedAmount
}

// EventRecord is the dedup row for an inbound provider webhook delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	PaymentID       *snowflake.ID  `json:"payment_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Canonical event types produced by provider webhook parsers.
const (
	EventTypeAuthorized    = "payment_authorized"
	EventTypePaymentFailed = "payment_failed"
	EventTypeCancelled     = "payment_cancelled"
	EventTypeRefunded      = "refunded"
)

// ProviderEvent is a provider webhook normalized by the adapter.
type ProviderEvent struct {
	Provider           string
	ProviderEventID    string
	ProviderPaymentRef string
	// LocalPaymentRef carries back the payment id we attached as provider
	// metadata, so an event can still be matched when the provider ref
	// was never stored locally.
	LocalPaymentRef string
	Type               string
	Amount             int64
	Currency           string
	OccurredAt         time.Time
	RawPayload         []byte
}
