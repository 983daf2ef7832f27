package domain

import (
	"context"
	"errors"
	"time"

	"github.com/wandercart/wandercart/pkg/db/pagination"
)

type CreateTripRequest struct {
	TravelerID  string
	Origin      string
	Destination string
	DepartsAt   time.Time
	ReturnsAt   *time.Time
	Capacity    int
}

type GetTripRequest struct {
	ID string
}

type ListTripRequest struct {
	PageToken   string
	PageSize    int32
	TravelerID  string
	Destination string
	Status      string
}

type ListTripFilter struct {
	TravelerID      string
	DestinationSlug string
	Status          TripStatus
}

type ListTripResponse struct {
	pagination.PageInfo
	Trips []Trip `json:"trips"`
}

type UpdateTripStatusRequest struct {
	ID     string
	Status string
}

type Service interface {
	Create(context.Context, CreateTripRequest) (Trip, error)
	GetByID(context.Context, GetTripRequest) (Trip, error)
	List(context.Context, ListTripRequest) (ListTripResponse, error)
	UpdateStatus(context.Context, UpdateTripStatusRequest) (Trip, error)
}

var (
	ErrInvalidTraveler         = errors.New("invalid_traveler")
	ErrInvalidOrigin           = errors.New("invalid_origin")
	ErrInvalidDestination      = errors.New("invalid_destination")
	ErrInvalidSchedule         = errors.New("invalid_schedule")
	ErrInvalidCapacity         = errors.New("invalid_capacity")
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrNotFound                = errors.New("not_found")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrCapacityExhausted       = errors.New("capacity_exhausted")
	ErrTripClosed              = errors.New("trip_closed")
)
