package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/events"
	"github.com/wandercart/wandercart/internal/observability/metrics"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        paymentdomain.Repository
	Provider    paymentdomain.Provider
	Clock       clock.Clock
	Publisher   events.Publisher
	Marketplace *config.MarketplaceConfigHolder
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        paymentdomain.Repository
	provider    paymentdomain.Provider
	clock       clock.Clock
	publisher   events.Publisher
	marketplace *config.MarketplaceConfigHolder
	metrics     *metrics.Metrics
}

func New(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		provider:    p.Provider,
		clock:       p.Clock,
		publisher:   p.Publisher,
		marketplace: p.Marketplace,
		metrics:     p.Metrics,
	}
}

// Authorize places a hold on the requester's funds for a delivery
// request. The charge row is persisted before the provider call so a
// crash mid-flight leaves an auditable PENDING row instead of a silent
// hold.
func (s *Service) Authorize(ctx context.Context, req paymentdomain.AuthorizePaymentRequest) (paymentdomain.Payment, error) {
	requestID, err := parseID(req.RequestID)
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidRequest
	}
	payerRef := strings.TrimSpace(req.PayerRef)
	if payerRef == "" {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidParty
	}
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidCurrency
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:          s.genID.Generate(),
		RequestID:   requestID,
		Type:        paymentdomain.PaymentTypeCharge,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      paymentdomain.PaymentPending,
		Provider:    s.provider.Name(),
		PayerRef:    payerRef,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return paymentdomain.Payment{}, err
	}

	key := paymentdomain.IdempotencyKey("authorize", payment.ID, payment.Amount)
	result, err := s.provider.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		PaymentID:   payment.ID,
		RequestID:   requestID,
		Amount:      payment.Amount,
		Currency:    currency,
		PayerRef:    payerRef,
		Description: payment.Description,
	}, key)
	if err != nil {
		return paymentdomain.Payment{}, s.failPayment(ctx, &payment, paymentdomain.PaymentPending, "authorize", err)
	}
	s.recordProviderCall(ctx, "authorize", "ok")

	if err := s.repo.SetProviderRef(ctx, s.db, payment.ID, result.ProviderRef, s.clock.Now()); err != nil {
		return paymentdomain.Payment{}, err
	}
	payment.ProviderRef = result.ProviderRef

	if result.Status == paymentdomain.ProviderStatusAuthorized {
		if err := s.transition(ctx, &payment, paymentdomain.PaymentAuthorized); err != nil {
			return paymentdomain.Payment{}, err
		}
	}

	return payment, nil
}

// Capture settles the hold into escrow. Capturing less than the
// authorized amount releases the remainder back to the requester, which
// covers the item costing under budget.
func (s *Service) Capture(ctx context.Context, req paymentdomain.CapturePaymentRequest) (paymentdomain.Payment, error) {
	payment, err := s.loadCharge(ctx, req.ID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment.Status != paymentdomain.PaymentAuthorized {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidStatusTransition
	}

	amount := req.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if amount < 0 || amount > payment.Amount {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	key := paymentdomain.IdempotencyKey("capture", payment.ID, amount)
	if _, err := s.provider.Capture(ctx, payment.ProviderRef, amount, key); err != nil {
		return paymentdomain.Payment{}, s.failPayment(ctx, payment, paymentdomain.PaymentAuthorized, "capture", err)
	}
	s.recordProviderCall(ctx, "capture", "ok")

	now := s.clock.Now()
	ok, err := s.repo.MarkCaptured(ctx, s.db, payment.ID, amount, now)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if !ok {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidStatusTransition
	}
	payment.CapturedAmount = amount
	s.noteTransition(ctx, payment, paymentdomain.PaymentAuthorized, paymentdomain.PaymentCaptured, now)
	return *payment, nil
}

// TransferToRecipient pays the traveler out of escrow, withholding the
// platform fee.
func (s *Service) TransferToRecipient(ctx context.Context, req paymentdomain.TransferPaymentRequest) (paymentdomain.Payment, error) {
	payment, err := s.loadCharge(ctx, req.ID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment.Status != paymentdomain.PaymentCaptured {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidStatusTransition
	}

	payoutAccount := strings.TrimSpace(req.PayoutAccount)
	if payoutAccount == "" {
		return paymentdomain.Payment{}, paymentdomain.ErrPayoutAccountMissing
	}

	fee := s.platformFee(payment.CapturedAmount)
	payoutAmount := payment.CapturedAmount - fee
	if payoutAmount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	parentID := payment.ID
	payout := paymentdomain.Payment{
		ID:              s.genID.Generate(),
		RequestID:       payment.RequestID,
		ParentPaymentID: &parentID,
		Type:            paymentdomain.PaymentTypePayout,
		Amount:          payoutAmount,
		Currency:        payment.Currency,
		PlatformFee:     fee,
		Status:          paymentdomain.PaymentPending,
		Provider:        s.provider.Name(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, &payout); err != nil {
		return paymentdomain.Payment{}, err
	}

	key := paymentdomain.IdempotencyKey("transfer", payout.ID, payoutAmount)
	result, err := s.provider.Transfer(ctx, paymentdomain.TransferRequest{
		PaymentID:       payout.ID,
		Amount:          payoutAmount,
		Currency:        payment.Currency,
		PayoutAccount:   payoutAccount,
		SourceChargeRef: payment.ProviderRef,
	}, key)
	if err != nil {
		return paymentdomain.Payment{}, s.failPayment(ctx, &payout, paymentdomain.PaymentPending, "transfer", err)
	}
	s.recordProviderCall(ctx, "transfer", "ok")

	if err := s.repo.SetProviderRef(ctx, s.db, payout.ID, result.ProviderRef, s.clock.Now()); err != nil {
		return paymentdomain.Payment{}, err
	}
	payout.ProviderRef = result.ProviderRef

	if _, err := s.repo.UpdateStatus(ctx, s.db, payout.ID, paymentdomain.PaymentPending, paymentdomain.PaymentTransferred, s.clock.Now()); err != nil {
		return paymentdomain.Payment{}, err
	}
	payout.Status = paymentdomain.PaymentTransferred

	if err := s.transition(ctx, payment, paymentdomain.PaymentTransferred); err != nil {
		return paymentdomain.Payment{}, err
	}
	return *payment, nil
}

// Refund returns escrowed funds to the requester. Partial refunds
// stack; the running total may never exceed the captured amount. A
// zero amount refunds whatever is still held. The counter update is
// guarded, so a concurrent refund that would overdraw the hold loses
// the race instead of overdrawing.
func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundPaymentRequest) (paymentdomain.Payment, error) {
	payment, err := s.loadCharge(ctx, req.ID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if !payment.Status.CanTransition(paymentdomain.PaymentRefunded) {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidStatusTransition
	}

	amount := req.Amount
	if amount == 0 {
		amount = payment.RefundableAmount()
	}
	if amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	if amount > payment.RefundableAmount() {
		return paymentdomain.Payment{}, paymentdomain.ErrRefundExceedsCaptured
	}

	now := s.clock.Now()
	parentID := payment.ID
	refund := paymentdomain.Payment{
		ID:              s.genID.Generate(),
		RequestID:       payment.RequestID,
		ParentPaymentID: &parentID,
		Type:            paymentdomain.PaymentTypeRefund,
		Amount:          amount,
		Currency:        payment.Currency,
		Status:          paymentdomain.PaymentPending,
		Provider:        s.provider.Name(),
		Description:     strings.TrimSpace(req.Reason),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, &refund); err != nil {
		return paymentdomain.Payment{}, err
	}

	key := paymentdomain.IdempotencyKey("refund", refund.ID, amount)
	result, err := s.provider.Refund(ctx, payment.ProviderRef, amount, key)
	if err != nil {
		return paymentdomain.Payment{}, s.failPayment(ctx, &refund, paymentdomain.PaymentPending, "refund", err)
	}
	s.recordProviderCall(ctx, "refund", "ok")

	if err := s.repo.SetProviderRef(ctx, s.db, refund.ID, result.ProviderRef, s.clock.Now()); err != nil {
		return paymentdomain.Payment{}, err
	}
	if _, err := s.repo.UpdateStatus(ctx, s.db, refund.ID, paymentdomain.PaymentPending, paymentdomain.PaymentRefunded, s.clock.Now()); err != nil {
		return paymentdomain.Payment{}, err
	}

	applied := s.clock.Now()
	ok, err := s.repo.ApplyRefund(ctx, s.db, payment.ID, amount, applied)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if !ok {
		return paymentdomain.Payment{}, paymentdomain.ErrRefundExceedsCaptured
	}
	from := payment.Status
	payment.RefundedAmount += amount
	s.noteTransition(ctx, payment, from, paymentdomain.PaymentRefunded, applied)
	return *payment, nil
}

// CancelAuthorization voids a hold that was never captured.
func (s *Service) CancelAuthorization(ctx context.Context, req paymentdomain.CancelPaymentRequest) (paymentdomain.Payment, error) {
	payment, err := s.loadCharge(ctx, req.ID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if !payment.Status.CanTransition(paymentdomain.PaymentCancelled) {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidStatusTransition
	}

	if payment.ProviderRef != "" {
		key := paymentdomain.IdempotencyKey("cancel", payment.ID, payment.Amount)
		if _, err := s.provider.Cancel(ctx, payment.ProviderRef, key); err != nil {
			s.recordProviderCall(ctx, "cancel", "error")
			return paymentdomain.Payment{}, err
		}
		s.recordProviderCall(ctx, "cancel", "ok")
	}

	if err := s.transition(ctx, payment, paymentdomain.PaymentCancelled); err != nil {
		return paymentdomain.Payment{}, err
	}
	return *payment, nil
}

func (s *Service) GetByID(ctx context.Context, req paymentdomain.GetPaymentRequest) (paymentdomain.Payment, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if item == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListByRequest(ctx context.Context, req paymentdomain.ListPaymentsByRequestRequest) (paymentdomain.ListPaymentsByRequestResponse, error) {
	requestID, err := parseID(req.RequestID)
	if err != nil {
		return paymentdomain.ListPaymentsByRequestResponse{}, paymentdomain.ErrInvalidRequest
	}

	items, err := s.repo.ListByRequest(ctx, s.db, requestID)
	if err != nil {
		return paymentdomain.ListPaymentsByRequestResponse{}, err
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return paymentdomain.ListPaymentsByRequestResponse{Payments: payments}, nil
}

func (s *Service) loadCharge(ctx context.Context, rawID string) (*paymentdomain.Payment, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, paymentdomain.ErrInvalidID
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Type != paymentdomain.PaymentTypeCharge {
		return nil, paymentdomain.ErrNotFound
	}
	return payment, nil
}

func (s *Service) transition(ctx context.Context, payment *paymentdomain.Payment, to paymentdomain.PaymentStatus) error {
	now := s.clock.Now()
	ok, err := s.repo.UpdateStatus(ctx, s.db, payment.ID, payment.Status, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return paymentdomain.ErrInvalidStatusTransition
	}

	s.noteTransition(ctx, payment, payment.Status, to, now)
	return nil
}

// noteTransition updates the in-memory row and emits the log line,
// metric, and event for a transition that already landed in the store.
func (s *Service) noteTransition(ctx context.Context, payment *paymentdomain.Payment, from, to paymentdomain.PaymentStatus, now time.Time) {
	payment.Status = to
	payment.UpdatedAt = now

	s.log.Info("payment status updated",
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

// failPayment records a provider rejection on the row and wraps the
// error so transport can map it to an upstream failure. A transport
// failure is not a rejection: the provider may have processed the call
// before the connection dropped, so the row keeps its current status
// and the caller retries with the same idempotency key.
func (s *Service) failPayment(ctx context.Context, payment *paymentdomain.Payment, from paymentdomain.PaymentStatus, operation string, cause error) error {
	s.recordProviderCall(ctx, operation, "error")

	if errors.Is(cause, paymentdomain.ErrProviderUnreachable) {
		s.log.Warn("provider unreachable",
			zap.String("payment_id", payment.ID.String()),
			zap.String("operation", operation),
			zap.Error(cause),
		)
		if errors.Is(cause, paymentdomain.ErrProviderFailure) {
			return cause
		}
		return errors.Join(paymentdomain.ErrProviderFailure, cause)
	}

	s.log.Warn("provider call failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("operation", operation),
		zap.Error(cause),
	)

	now := s.clock.Now()
	if _, err := s.repo.MarkFailed(ctx, s.db, payment.ID, from, cause.Error(), now); err != nil {
		return err
	}
	payment.Status = paymentdomain.PaymentFailed
	payment.FailureReason = cause.Error()

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(ctx, "payment", string(paymentdomain.PaymentFailed))
	}
	s.publisher.Publish(ctx, events.StatusEvent{
		EntityType: "payment",
		EntityID:   int64(payment.ID),
		FromStatus: string(from),
		ToStatus:   string(paymentdomain.PaymentFailed),
		OccurredAt: now,
	})

	if errors.Is(cause, paymentdomain.ErrProviderFailure) {
		return cause
	}
	return paymentdomain.ErrProviderFailure
}

func (s *Service) platformFee(amount int64) int64 {
	bps := s.marketplace.Current().PlatformFeeBps
	return amount * bps / 10000
}

func (s *Service) recordProviderCall(ctx context.Context, operation, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordProviderCall(ctx, operation, outcome)
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, paymentdomain.ErrInvalidID
	}
	return id, nil
}
