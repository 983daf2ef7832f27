package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/trip/domain"
	"github.com/wandercart/wandercart/pkg/db/option"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, trip *domain.Trip) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO trips (id, traveler_id, origin, destination, destination_slug, departs_at, returns_at,
		     capacity, available_capacity, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trip.ID,
		trip.TravelerID,
		trip.Origin,
		trip.Destination,
		trip.DestinationSlug,
		trip.DepartsAt,
		trip.ReturnsAt,
		trip.Capacity,
		trip.AvailableCapacity,
		trip.Status,
		trip.CreatedAt,
		trip.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Trip, error) {
	var trip domain.Trip
	err := db.WithContext(ctx).Raw(
		`SELECT id, traveler_id, origin, destination, destination_slug, departs_at, returns_at,
		     capacity, available_capacity, status, created_at, updated_at
		 FROM trips WHERE id = ?`,
		id,
	).Scan(&trip).Error
	if err != nil {
		return nil, err
	}
	if trip.ID == 0 {
		return nil, nil
	}
	return &trip, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListTripFilter, page pagination.Pagination) ([]*domain.Trip, error) {
	var trips []*domain.Trip
	stmt := db.WithContext(ctx).Model(&domain.Trip{})
	if filter.TravelerID != "" {
		stmt = stmt.Where("traveler_id = ?", filter.TravelerID)
	}
	if filter.DestinationSlug != "" {
		stmt = stmt.Where("destination_slug = ?", filter.DestinationSlug)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&trips).Error
	if err != nil {
		return nil, err
	}
	return trips, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.TripStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE trips SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Reserve(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int, now time.Time) (bool, error) {
	// Single conditional update: the capacity check and the decrement
	// happen in one statement, so concurrent reservations cannot both
	// pass the check and oversell the trip.
	res := db.WithContext(ctx).Exec(
		`UPDATE trips
		 SET available_capacity = available_capacity - ?, updated_at = ?
		 WHERE id = ? AND available_capacity >= ? AND status NOT IN (?, ?)`,
		quantity, now, id, quantity, domain.TripCompleted, domain.TripCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int, now time.Time) error {
	// Saturates at capacity so a duplicate release never inflates the
	// ledger past what the trip was announced with.
	return db.WithContext(ctx).Exec(
		`UPDATE trips
		 SET available_capacity = CASE
		         WHEN available_capacity + ? > capacity THEN capacity
		         ELSE available_capacity + ?
		     END,
		     updated_at = ?
		 WHERE id = ?`,
		quantity, quantity, now, id,
	).Error
}
