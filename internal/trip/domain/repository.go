package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, trip *Trip) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Trip, error)
	List(ctx context.Context, db *gorm.DB, filter ListTripFilter, page pagination.Pagination) ([]*Trip, error)

	// UpdateStatus applies a guarded transition and reports whether the
	// row matched the expected current status.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to TripStatus, now time.Time) (bool, error)

	// Reserve atomically decrements available capacity when enough
	// remains and the trip is still open. Returns false when the
	// conditional update matched no row.
	Reserve(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int, now time.Time) (bool, error)

	// Release returns reserved capacity, saturating at the trip's
	// total capacity so repeated releases stay safe.
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int, now time.Time) error
}
