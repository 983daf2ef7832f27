package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindChargeByProviderRef(ctx context.Context, db *gorm.DB, provider, providerRef string) (*Payment, error)
	ListByRequest(ctx context.Context, db *gorm.DB, requestID snowflake.ID) ([]*Payment, error)

	// UpdateStatus applies a guarded transition and reports whether the
	// row still held the expected status.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from PaymentStatus, reason string, now time.Time) (bool, error)
	SetProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, now time.Time) error

	// MarkCaptured records the captured amount on an AUTHORIZED charge and
	// moves it to CAPTURED in one guarded update.
	MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error)

	// ApplyRefund increments the refunded counter on a charge. The update
	// refuses to push refunded past captured, so concurrent refunds cannot
	// overdraw the hold.
	ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
