package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, request_id, parent_payment_id, type, amount, captured_amount, refunded_amount,
			currency, platform_fee, status, provider, provider_ref, payer_ref, description,
			failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.RequestID,
		payment.ParentPaymentID,
		payment.Type,
		payment.Amount,
		payment.CapturedAmount,
		payment.RefundedAmount,
		payment.Currency,
		payment.PlatformFee,
		payment.Status,
		payment.Provider,
		payment.ProviderRef,
		payment.PayerRef,
		payment.Description,
		payment.FailureReason,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, request_id, parent_payment_id, type, amount, captured_amount, refunded_amount,
			currency, platform_fee, status, provider, provider_ref, payer_ref, description,
			failure_reason, created_at, updated_at
		 FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindChargeByProviderRef(ctx context.Context, db *gorm.DB, provider, providerRef string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, request_id, parent_payment_id, type, amount, captured_amount, refunded_amount,
			currency, platform_fee, status, provider, provider_ref, payer_ref, description,
			failure_reason, created_at, updated_at
		 FROM payments
		 WHERE provider = ? AND provider_ref = ? AND type = ?
		 LIMIT 1`,
		provider,
		providerRef,
		domain.PaymentTypeCharge,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListByRequest(ctx context.Context, db *gorm.DB, requestID snowflake.ID) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, request_id, parent_payment_id, type, amount, captured_amount, refunded_amount,
			currency, platform_fee, status, provider, provider_ref, payer_ref, description,
			failure_reason, created_at, updated_at
		 FROM payments
		 WHERE request_id = ?
		 ORDER BY created_at ASC, id ASC`,
		requestID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.PaymentStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.PaymentStatus, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.PaymentFailed, reason, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetProviderRef(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRef string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments SET provider_ref = ?, updated_at = ? WHERE id = ?`,
		providerRef, now, id,
	).Error
}

func (r *repo) MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, captured_amount = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND ? <= amount`,
		domain.PaymentCaptured, amount, now, id, domain.PaymentAuthorized, amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ApplyRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, refunded_amount = refunded_amount + ?, updated_at = ?
		 WHERE id = ?
		   AND status IN (?, ?, ?)
		   AND refunded_amount + ? <= captured_amount`,
		domain.PaymentRefunded, amount, now, id,
		domain.PaymentCaptured, domain.PaymentTransferred, domain.PaymentRefunded,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payment_id, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, payment_id, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.PaymentID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
