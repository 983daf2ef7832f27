package domain

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// Normalized provider statuses. Adapters translate their own vocabulary
// into these before the result reaches the service.
const (
	ProviderStatusPending    = "pending"
	ProviderStatusAuthorized = "authorized"
	ProviderStatusSucceeded  = "succeeded"
)

// ProviderResult is the synchronous answer from a provider call.
type ProviderResult struct {
	ProviderRef string
	Status      string
}

type CreateIntentRequest struct {
	PaymentID   snowflake.ID
	RequestID   snowflake.ID
	Amount      int64
	Currency    string
	PayerRef    string
	Description string
}

type TransferRequest struct {
	PaymentID       snowflake.ID
	Amount          int64
	Currency        string
	PayoutAccount   string
	SourceChargeRef string
}

// Provider executes money movements against an external payment API.
// Every mutating call carries a deterministic idempotency key so a retry
// after a timeout cannot double-charge.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req CreateIntentRequest, idempotencyKey string) (ProviderResult, error)
	Capture(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (ProviderResult, error)
	Cancel(ctx context.Context, providerRef string, idempotencyKey string) (ProviderResult, error)
	Refund(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (ProviderResult, error)
	Transfer(ctx context.Context, req TransferRequest, idempotencyKey string) (ProviderResult, error)
}

// WebhookAdapter verifies and normalizes inbound provider events. Verify
// runs against the raw body before any JSON is parsed.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

// IdempotencyKey derives a stable key for a provider operation. The same
// operation on the same payment and amount always produces the same key.
func IdempotencyKey(operation string, paymentID snowflake.ID, amount int64) string {
	return fmt.Sprintf("%s-%s-%d", operation, paymentID.String(), amount)
}
