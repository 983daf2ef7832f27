package domain

import (
	"context"
	"errors"

	"github.com/wandercart/wandercart/pkg/db/pagination"
)

type CreateRequestRequest struct {
	TripID        string
	RequesterID   string
	Items         []string
	MaxItemBudget int64
	DeliveryFee   int64
	Currency      string
}

type GetRequestRequest struct {
	ID string
}

type ListRequestsRequest struct {
	PageToken   string
	PageSize    int32
	TripID      string
	RequesterID string
	Status      string
}

type ListRequestsFilter struct {
	TripID      string
	RequesterID string
	Status      RequestStatus
}

type ListRequestsResponse struct {
	pagination.PageInfo
	Requests []DeliveryRequest `json:"requests"`
}

type AcceptRequestRequest struct {
	ID string
}

type MarkPurchasedRequest struct {
	ID string
}

type MarkDeliveredRequest struct {
	ID string
}

type CancelRequestRequest struct {
	ID string
}

// Service drives the delivery-request lifecycle. Accept reserves trip
// capacity atomically with the status change; Cancel releases it and
// unwinds any escrowed payment.
type Service interface {
	Create(context.Context, CreateRequestRequest) (DeliveryRequest, error)
	GetByID(context.Context, GetRequestRequest) (DeliveryRequest, error)
	List(context.Context, ListRequestsRequest) (ListRequestsResponse, error)
	Accept(context.Context, AcceptRequestRequest) (DeliveryRequest, error)
	MarkPurchased(context.Context, MarkPurchasedRequest) (DeliveryRequest, error)
	MarkDelivered(context.Context, MarkDeliveredRequest) (DeliveryRequest, error)
	Cancel(context.Context, CancelRequestRequest) (DeliveryRequest, error)
}

var (
	ErrInvalidTrip             = errors.New("invalid_trip")
	ErrInvalidRequester        = errors.New("invalid_requester")
	ErrInvalidItems            = errors.New("invalid_items")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrNotFound                = errors.New("not_found")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
)
