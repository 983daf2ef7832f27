package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, request *DeliveryRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DeliveryRequest, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequestsFilter, page pagination.Pagination) ([]*DeliveryRequest, error)

	// UpdateStatus applies a guarded transition, stamping the lifecycle
	// timestamp that belongs to the target status. Reports whether the
	// row still held the expected status.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to RequestStatus, now time.Time) (bool, error)
}
