package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wandercart/wandercart/internal/config"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
)

const apiBase = "https://api.stripe.com"

// Statuses returned synchronously by the payment intents API that mean
// the funds hold is in place.
const (
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusSucceeded       = "succeeded"
)

type Provider struct {
	apiKey        string
	webhookSecret string
	client        *http.Client
}

func New(cfg config.Config) *Provider {
	return &Provider{
		apiKey:        strings.TrimSpace(cfg.StripeAPIKey),
		webhookSecret: strings.TrimSpace(cfg.StripeWebhookSecret),
		client:        &http.Client{Timeout: 12 * time.Second},
	}
}

func (p *Provider) Name() string {
	return "stripe"
}

func (p *Provider) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest, idempotencyKey string) (paymentdomain.ProviderResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("capture_method", "manual")
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	values.Set("metadata[payment_id]", req.PaymentID.String())
	values.Set("metadata[request_id]", req.RequestID.String())
	values.Set("metadata[payer_ref]", req.PayerRef)
	if req.Description != "" {
		values.Set("description", req.Description)
	}

	result, err := p.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, idempotencyKey)
	if err != nil {
		return result, err
	}

	// The hold is in place once the intent only awaits capture. Anything
	// else stays pending until the webhook confirms it.
	switch result.Status {
	case IntentStatusRequiresCapture, IntentStatusSucceeded:
		result.Status = paymentdomain.ProviderStatusAuthorized
	default:
		result.Status = paymentdomain.ProviderStatusPending
	}
	return result, nil
}

func (p *Provider) Capture(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (paymentdomain.ProviderResult, error) {
	values := url.Values{}
	if amount > 0 {
		values.Set("amount_to_capture", strconv.FormatInt(amount, 10))
	}
	return p.doRequest(ctx, http.MethodPost, "/v1/payment_intents/"+providerRef+"/capture", values, idempotencyKey)
}

func (p *Provider) Cancel(ctx context.Context, providerRef string, idempotencyKey string) (paymentdomain.ProviderResult, error) {
	return p.doRequest(ctx, http.MethodPost, "/v1/payment_intents/"+providerRef+"/cancel", url.Values{}, idempotencyKey)
}

func (p *Provider) Refund(ctx context.Context, providerRef string, amount int64, idempotencyKey string) (paymentdomain.ProviderResult, error) {
	values := url.Values{}
	values.Set("payment_intent", providerRef)
	values.Set("amount", strconv.FormatInt(amount, 10))

	return p.doRequest(ctx, http.MethodPost, "/v1/refunds", values, idempotencyKey)
}

func (p *Provider) Transfer(ctx context.Context, req paymentdomain.TransferRequest, idempotencyKey string) (paymentdomain.ProviderResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("destination", req.PayoutAccount)
	if req.SourceChargeRef != "" {
		values.Set("source_transaction", req.SourceChargeRef)
	}
	values.Set("metadata[payment_id]", req.PaymentID.String())

	return p.doRequest(ctx, http.MethodPost, "/v1/transfers", values, idempotencyKey)
}

type stripeObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (paymentdomain.ProviderResult, error) {
	if p.apiKey == "" {
		return paymentdomain.ProviderResult{}, paymentdomain.ErrProviderFailure
	}

	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, bodyReader)
	if err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// No response came back: the request may still have reached
		// Stripe. Marked unreachable so callers keep their local state
		// and retry with the same idempotency key instead of failing the
		// payment.
		return paymentdomain.ProviderResult{}, errors.Join(paymentdomain.ErrProviderFailure, paymentdomain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return paymentdomain.ProviderResult{}, paymentdomain.ErrProviderFailure
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			return paymentdomain.ProviderResult{}, paymentdomain.ErrProviderFailure
		}
		return paymentdomain.ProviderResult{}, errors.Join(paymentdomain.ErrProviderFailure, errors.New(message))
	}

	var object stripeObject
	if err := json.NewDecoder(resp.Body).Decode(&object); err != nil {
		return paymentdomain.ProviderResult{}, errors.Join(paymentdomain.ErrProviderFailure, err)
	}
	if object.ID == "" {
		return paymentdomain.ProviderResult{}, paymentdomain.ErrProviderFailure
	}
	return paymentdomain.ProviderResult{
		ProviderRef: object.ID,
		Status:      object.Status,
	}, nil
}
