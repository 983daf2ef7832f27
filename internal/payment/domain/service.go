package domain

import (
	"context"
	"errors"
	"net/http"
)

type AuthorizePaymentRequest struct {
	RequestID   string
	Amount      int64
	Currency    string
	PayerRef    string
	Description string
}

// CapturePaymentRequest captures the held funds. A zero Amount captures
// the full authorized amount.
type CapturePaymentRequest struct {
	ID     string
	Amount int64
}

type TransferPaymentRequest struct {
	ID            string
	PayoutAccount string
}

// RefundPaymentRequest returns captured funds. A zero Amount refunds
// whatever is still refundable.
type RefundPaymentRequest struct {
	ID     string
	Amount int64
	Reason string
}

type CancelPaymentRequest struct {
	ID string
}

type GetPaymentRequest struct {
	ID string
}

type ListPaymentsByRequestRequest struct {
	RequestID string
}

type ListPaymentsByRequestResponse struct {
	Payments []Payment `json:"payments"`
}

// Service is the escrow engine. A charge moves PENDING -> AUTHORIZED ->
// CAPTURED -> TRANSFERRED, with cancellation and refunds branching off
// along the way.
type Service interface {
	Authorize(context.Context, AuthorizePaymentRequest) (Payment, error)
	Capture(context.Context, CapturePaymentRequest) (Payment, error)
	TransferToRecipient(context.Context, TransferPaymentRequest) (Payment, error)
	Refund(context.Context, RefundPaymentRequest) (Payment, error)
	CancelAuthorization(context.Context, CancelPaymentRequest) (Payment, error)
	GetByID(context.Context, GetPaymentRequest) (Payment, error)
	ListByRequest(context.Context, ListPaymentsByRequestRequest) (ListPaymentsByRequestResponse, error)
}

// WebhookService reconciles asynchronous provider events against stored
// payments.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

var (
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidParty            = errors.New("invalid_party")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrNotFound                = errors.New("not_found")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrProviderFailure         = errors.New("provider_failure")
	ErrProviderUnreachable     = errors.New("provider_unreachable")
	ErrPayoutAccountMissing    = errors.New("payout_account_missing")
	ErrRefundExceedsCaptured   = errors.New("refund_exceeds_captured")

	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
