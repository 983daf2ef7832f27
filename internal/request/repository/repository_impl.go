package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/request/domain"
	"github.com/wandercart/wandercart/pkg/db/option"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, request *domain.DeliveryRequest) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO delivery_requests (
			id, trip_id, requester_id, items, max_item_budget, delivery_fee, currency,
			status, accepted_at, purchased_at, delivered_at, cancelled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID,
		request.TripID,
		request.RequesterID,
		request.Items,
		request.MaxItemBudget,
		request.DeliveryFee,
		request.Currency,
		request.Status,
		request.AcceptedAt,
		request.PurchasedAt,
		request.DeliveredAt,
		request.CancelledAt,
		request.CreatedAt,
		request.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DeliveryRequest, error) {
	var request domain.DeliveryRequest
	err := db.WithContext(ctx).Raw(
		`SELECT id, trip_id, requester_id, items, max_item_budget, delivery_fee, currency,
			status, accepted_at, purchased_at, delivered_at, cancelled_at, created_at, updated_at
		 FROM delivery_requests WHERE id = ?`,
		id,
	).Scan(&request).Error
	if err != nil {
		return nil, err
	}
	if request.ID == 0 {
		return nil, nil
	}
	return &request, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequestsFilter, page pagination.Pagination) ([]*domain.DeliveryRequest, error) {
	var requests []*domain.DeliveryRequest
	stmt := db.WithContext(ctx).Model(&domain.DeliveryRequest{})
	if filter.TripID != "" {
		stmt = stmt.Where("trip_id = ?", filter.TripID)
	}
	if filter.RequesterID != "" {
		stmt = stmt.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.RequestStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE delivery_requests
		 SET status = ?, `+timestampColumn(to)+` = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, now, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// timestampColumn maps a target status to its lifecycle timestamp. The
// returned name is a fixed identifier, never derived from input.
func timestampColumn(to domain.RequestStatus) string {
	switch to {
	case domain.RequestAccepted:
		return "accepted_at"
	case domain.RequestPurchased:
		return "purchased_at"
	case domain.RequestDelivered:
		return "delivered_at"
	case domain.RequestCancelled:
		return "cancelled_at"
	default:
		return "updated_at"
	}
}
