package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/events"
	"github.com/wandercart/wandercart/internal/observability/metrics"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"github.com/wandercart/wandercart/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      paymentdomain.Repository
	Adapter   paymentdomain.WebhookAdapter
	Clock     clock.Clock
	Publisher events.Publisher
	Limiter   *ratelimit.WebhookLimiter `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
}

// Service reconciles asynchronous provider notifications against stored
// payments. Deliveries are verified, deduplicated, and applied as
// forward-only transitions: an event whose target the payment already
// reached is acknowledged without touching the row.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      paymentdomain.Repository
	adapter   paymentdomain.WebhookAdapter
	clock     clock.Clock
	publisher events.Publisher
	limiter   *ratelimit.WebhookLimiter
	metrics   *metrics.Metrics
}

func New(p Params) paymentdomain.WebhookService {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.webhook"),
		genID:     p.GenID,
		repo:      p.Repo,
		adapter:   p.Adapter,
		clock:     p.Clock,
		publisher: p.Publisher,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}

	// Signature first. Nothing in the body is trusted (or parsed) until
	// the delivery proves it holds the shared secret.
	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Info("ignoring unhandled webhook event", zap.String("provider", provider))
			return nil
		}
		return err
	}
	if event.Provider != provider {
		return paymentdomain.ErrInvalidProvider
	}

	if s.limiter.Enabled() {
		token, locked, err := s.limiter.TryLockEvent(ctx, provider, event.ProviderEventID)
		if err != nil {
			s.log.Warn("webhook event lock unavailable", zap.Error(err))
		} else if !locked {
			// Another replica holds this delivery; it will be retried.
			return paymentdomain.ErrEventAlreadyProcessed
		} else {
			defer func() {
				_ = s.limiter.ReleaseEvent(ctx, provider, event.ProviderEventID, token)
			}()
		}
	}

	return s.process(ctx, event)
}

func (s *Service) process(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	now := s.clock.Now()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			// Replay of a fully processed delivery: acknowledge.
			return nil
		}
	}

	if err := s.reconcile(ctx, stored, event); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Provider, event.Type)
	}
	return s.repo.MarkEventProcessed(ctx, s.db, stored.ID, s.clock.Now())
}

func (s *Service) reconcile(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.ProviderEvent) error {
	payment, err := s.repo.FindChargeByProviderRef(ctx, s.db, event.Provider, event.ProviderPaymentRef)
	if err != nil {
		return err
	}
	if payment == nil {
		payment, err = s.adoptByLocalRef(ctx, event)
		if err != nil {
			return err
		}
	}
	if payment == nil {
		// The provider knows a payment we do not. Acknowledge so the
		// provider stops retrying, but keep the record for inspection.
		s.log.Warn("webhook event for unknown payment",
			zap.String("provider", event.Provider),
			zap.String("provider_ref", event.ProviderPaymentRef),
			zap.String("event_type", event.Type),
		)
		return nil
	}

	if stored.PaymentID == nil {
		paymentID := payment.ID
		stored.PaymentID = &paymentID
		if err := s.attachPayment(ctx, stored.ID, paymentID); err != nil {
			return err
		}
	}

	switch event.Type {
	case paymentdomain.EventTypeAuthorized:
		return s.applyForward(ctx, payment, paymentdomain.PaymentAuthorized)
	case paymentdomain.EventTypeRefunded:
		return s.applyForward(ctx, payment, paymentdomain.PaymentRefunded)
	case paymentdomain.EventTypePaymentFailed:
		return s.applyFailure(ctx, payment, "provider reported failure")
	case paymentdomain.EventTypeCancelled:
		return s.applyCancel(ctx, payment)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// applyForward moves the charge toward target on the happy path. Events
// arriving out of order or replayed land on AtOrPast and become no-ops.
func (s *Service) applyForward(ctx context.Context, payment *paymentdomain.Payment, target paymentdomain.PaymentStatus) error {
	if payment.Status.AtOrPast(target) {
		return nil
	}
	if !payment.Status.CanTransition(target) {
		s.log.Warn("webhook transition not applicable",
			zap.String("payment_id", payment.ID.String()),
			zap.String("current", string(payment.Status)),
			zap.String("target", string(target)),
		)
		return nil
	}
	return s.transition(ctx, payment, target)
}

func (s *Service) applyFailure(ctx context.Context, payment *paymentdomain.Payment, reason string) error {
	if !payment.Status.CanTransition(paymentdomain.PaymentFailed) {
		return nil
	}

	now := s.clock.Now()
	ok, err := s.repo.MarkFailed(ctx, s.db, payment.ID, payment.Status, reason, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.publishTransition(ctx, payment, paymentdomain.PaymentFailed, now)
	return nil
}

func (s *Service) applyCancel(ctx context.Context, payment *paymentdomain.Payment) error {
	if !payment.Status.CanTransition(paymentdomain.PaymentCancelled) {
		return nil
	}
	return s.transition(ctx, payment, paymentdomain.PaymentCancelled)
}

func (s *Service) transition(ctx context.Context, payment *paymentdomain.Payment, to paymentdomain.PaymentStatus) error {
	now := s.clock.Now()
	ok, err := s.repo.UpdateStatus(ctx, s.db, payment.ID, payment.Status, to, now)
	if err != nil {
		return err
	}
	if !ok {
		// Raced with another writer; the event no longer applies.
		return nil
	}
	s.publishTransition(ctx, payment, to, now)
	return nil
}

func (s *Service) publishTransition(ctx context.Context, payment *paymentdomain.Payment, to paymentdomain.PaymentStatus, now time.Time) {
	from := payment.Status
	payment.Status = to

	s.log.Info("payment reconciled from webhook",
		zap.String("payment_id", payment.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if s.metrics != nil {
		s.metrics.RecordStatusTransition(ctx, "payment", string(to))
	}
	s.publisher.Publish(ctx, events.StatusEvent{
		EntityType: "payment",
		EntityID:   int64(payment.ID),
		FromStatus: string(from),
		ToStatus:   string(to),
		OccurredAt: now,
	})
}

// adoptByLocalRef matches an event through the payment id we attached
// as provider metadata. This covers a hold created right before a
// transport failure: the provider ref never landed locally, so the
// charge is still PENDING with an empty ref. Adopting the ref here
// makes the row reconcilable again.
func (s *Service) adoptByLocalRef(ctx context.Context, event *paymentdomain.ProviderEvent) (*paymentdomain.Payment, error) {
	if event.LocalPaymentRef == "" || event.ProviderPaymentRef == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(event.LocalPaymentRef)
	if err != nil || id == 0 {
		return nil, nil
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil ||
		payment.Type != paymentdomain.PaymentTypeCharge ||
		payment.Provider != event.Provider ||
		payment.ProviderRef != "" {
		return nil, nil
	}

	if err := s.repo.SetProviderRef(ctx, s.db, payment.ID, event.ProviderPaymentRef, s.clock.Now()); err != nil {
		return nil, err
	}
	payment.ProviderRef = event.ProviderPaymentRef
	s.log.Info("adopted provider ref from webhook metadata",
		zap.String("payment_id", payment.ID.String()),
		zap.String("provider_ref", payment.ProviderRef),
	)
	return payment, nil
}

func (s *Service) attachPayment(ctx context.Context, eventID, paymentID snowflake.ID) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE payment_events SET payment_id = ? WHERE id = ?`,
		paymentID,
		eventID,
	).Error
}
