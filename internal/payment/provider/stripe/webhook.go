package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
)

// Verify checks the Stripe-Signature header against the raw body. It runs
// before any JSON parsing so an unauthenticated payload is never decoded.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if p.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

// Parse normalizes a verified Stripe event. Event types outside the
// escrow lifecycle map to ErrEventIgnored so the caller can acknowledge
// them without acting.
func (p *Provider) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProviderEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return p.parseIntent(event, payload, paymentdomain.EventTypeAuthorized)
	case "payment_intent.payment_failed":
		return p.parseIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "payment_intent.canceled":
		return p.parseIntent(event, payload, paymentdomain.EventTypeCancelled)
	case "charge.refunded":
		return p.parseCharge(event, payload, paymentdomain.EventTypeRefunded)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Created        int64             `json:"created"`
	Metadata       map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

func (p *Provider) parseIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.ProviderEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	return &paymentdomain.ProviderEvent{
		Provider:           p.Name(),
		ProviderEventID:    event.ID,
		ProviderPaymentRef: intent.ID,
		LocalPaymentRef:    strings.TrimSpace(intent.Metadata["payment_id"]),
		Type:               eventType,
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:         timestamp(intent.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func (p *Provider) parseCharge(event stripeEvent, payload []byte, eventType string) (*paymentdomain.ProviderEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	// The escrow charge is keyed by its payment intent. A bare charge id
	// would never match a stored payment.
	ref := strings.TrimSpace(charge.PaymentIntent)
	if ref == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := charge.Amount
	if eventType == paymentdomain.EventTypeRefunded && charge.AmountRefunded > 0 {
		amount = charge.AmountRefunded
	}

	return &paymentdomain.ProviderEvent{
		Provider:           p.Name(),
		ProviderEventID:    event.ID,
		ProviderPaymentRef: ref,
		Type:               eventType,
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:         timestamp(charge.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
