package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestAccepted  RequestStatus = "ACCEPTED"
	RequestPurchased RequestStatus = "PURCHASED"
	RequestDelivered RequestStatus = "DELIVERED"
	RequestCancelled RequestStatus = "CANCELLED"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:   {RequestAccepted, RequestCancelled},
	RequestAccepted:  {RequestPurchased, RequestCancelled},
	RequestPurchased: {RequestDelivered, RequestCancelled},
}

func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return s == RequestDelivered || s == RequestCancelled
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestPurchased, RequestDelivered, RequestCancelled:
		return true
	}
	return false
}

// DeliveryRequest asks a traveler to buy items abroad and bring them
// back. One request holds one slot of trip capacity, consumed when the
// traveler accepts, not when the requester asks.
type DeliveryRequest struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	TripID        snowflake.ID   `gorm:"not null;index" json:"trip_id"`
	RequesterID   snowflake.ID   `gorm:"not null;index" json:"requester_id"`
	Items         datatypes.JSON `gorm:"type:jsonb;not null" json:"items"`
	MaxItemBudget int64          `gorm:"not null" json:"max_item_budget"`
	DeliveryFee   int64          `gorm:"not null" json:"delivery_fee"`
	Currency      string         `gorm:"not null" json:"currency"`
	Status        RequestStatus  `gorm:"not null" json:"status"`

	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (DeliveryRequest) TableName() string {
	return "delivery_requests"
}

// Total is the amount escrowed for the request: the item budget plus
// the traveler's delivery fee.
func (r DeliveryRequest) Total() int64 {
	return r.MaxItemBudget + r.DeliveryFee
}
