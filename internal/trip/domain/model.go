package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TripStatus string

const (
	TripAnnounced     TripStatus = "ANNOUNCED"
	TripTraveling     TripStatus = "TRAVELING"
	TripAtDestination TripStatus = "AT_DESTINATION"
	TripReturning     TripStatus = "RETURNING"
	TripCompleted     TripStatus = "COMPLETED"
	TripCancelled     TripStatus = "CANCELLED"
)

// tripTransitions holds the forward edges of the trip lifecycle. Every
// non-terminal status may also be cancelled.
var tripTransitions = map[TripStatus][]TripStatus{
	TripAnnounced:     {TripTraveling, TripCancelled},
	TripTraveling:     {TripAtDestination, TripCancelled},
	TripAtDestination: {TripReturning, TripCancelled},
	TripReturning:     {TripCompleted, TripCancelled},
}

func (s TripStatus) CanTransition(to TripStatus) bool {
	for _, next := range tripTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// Open reports whether the trip still accepts capacity reservations.
func (s TripStatus) Open() bool {
	return !s.Terminal()
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripAnnounced, TripTraveling, TripAtDestination, TripReturning, TripCompleted, TripCancelled:
		return true
	}
	return false
}

type Trip struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	TravelerID      snowflake.ID `gorm:"not null;index" json:"traveler_id"`
	Origin          string       `gorm:"not null" json:"origin"`
	Destination     string       `gorm:"not null" json:"destination"`
	DestinationSlug string       `gorm:"not null;index" json:"destination_slug"`
	DepartsAt       time.Time    `gorm:"not null" json:"departs_at"`
	ReturnsAt       *time.Time   `json:"returns_at,omitempty"`

	// Capacity is fixed at announcement. AvailableCapacity moves between
	// 0 and Capacity as reservations are taken and released.
	Capacity          int        `gorm:"not null" json:"capacity"`
	AvailableCapacity int        `gorm:"not null" json:"available_capacity"`
	Status            TripStatus `gorm:"not null" json:"status"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Trip) TableName() string {
	return "trips"
}
