package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/events"
	"github.com/wandercart/wandercart/internal/observability/metrics"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"github.com/wandercart/wandercart/internal/request/domain"
	tripdomain "github.com/wandercart/wandercart/internal/trip/domain"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	TripRepo   tripdomain.Repository
	PaymentSvc paymentdomain.Service
	Clock      clock.Clock
	Publisher  events.Publisher
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	tripRepo   tripdomain.Repository
	paymentSvc paymentdomain.Service
	clock      clock.Clock
	publisher  events.Publisher
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("request.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		tripRepo:   p.TripRepo,
		paymentSvc: p.PaymentSvc,
		clock:      p.Clock,
		publisher:  p.Publisher,
		metrics:    p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequestRequest) (domain.DeliveryRequest, error) {
	tripID, err := snowflake.ParseString(strings.TrimSpace(req.TripID))
	if err != nil || tripID == 0 {
		return domain.DeliveryRequest{}, domain.ErrInvalidTrip
	}
	requesterID, err := snowflake.ParseString(strings.TrimSpace(req.RequesterID))
	if err != nil || requesterID == 0 {
		return domain.DeliveryRequest{}, domain.ErrInvalidRequester
	}

	items := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		item = strings.TrimSpace(item)
		if item == "" {
			return domain.DeliveryRequest{}, domain.ErrInvalidItems
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return domain.DeliveryRequest{}, domain.ErrInvalidItems
	}
	if req.MaxItemBudget <= 0 || req.DeliveryFee < 0 {
		return domain.DeliveryRequest{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.DeliveryRequest{}, domain.ErrInvalidCurrency
	}

	// Advisory only: the authoritative capacity check happens on accept.
	trip, err := s.tripRepo.FindByID(ctx, s.db, tripID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if trip == nil {
		return domain.DeliveryRequest{}, tripdomain.ErrNotFound
	}
	if trip.Status != tripdomain.TripAnnounced {
		return domain.DeliveryRequest{}, tripdomain.ErrTripClosed
	}
	if trip.AvailableCapacity <= 0 {
		return domain.DeliveryRequest{}, tripdomain.ErrCapacityExhausted
	}

	encodedItems, err := json.Marshal(items)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	now := s.clock.Now()
	request := domain.DeliveryRequest{
		ID:            s.genID.Generate(),
		TripID:        tripID,
		RequesterID:   requesterID,
		Items:         encodedItems,
		MaxItemBudget: req.MaxItemBudget,
		DeliveryFee:   req.DeliveryFee,
		Currency:      currency,
		Status:        domain.RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &request); err != nil {
		return domain.DeliveryRequest{}, err
	}
	return request, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetRequestRequest) (domain.DeliveryRequest, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if item == nil {
		return domain.DeliveryRequest{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequestsRequest) (domain.ListRequestsResponse, error) {
	filter := domain.ListRequestsFilter{
		TripID:      strings.TrimSpace(req.TripID),
		RequesterID: strings.TrimSpace(req.RequesterID),
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		requestStatus := domain.RequestStatus(status)
		if !requestStatus.Valid() {
			return domain.ListRequestsResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = requestStatus
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListRequestsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(request *domain.DeliveryRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        request.ID.String(),
			CreatedAt: request.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	requests := make([]domain.DeliveryRequest, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		requests = append(requests, *item)
	}

	resp := domain.ListRequestsResponse{Requests: requests}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Accept reserves trip capacity and moves the request to ACCEPTED in one
// transaction. If either side loses its race the whole acceptance rolls
// back, so capacity can never leak.
func (s *Service) Accept(ctx context.Context, req domain.AcceptRequestRequest) (domain.DeliveryRequest, error) {
	request, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if request.Status != domain.RequestPending {
		return domain.DeliveryRequest{}, domain.ErrInvalidStatusTransition
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reserved, err := s.tripRepo.Reserve(ctx, tx, request.TripID, 1, now)
		if err != nil {
			return err
		}
		if !reserved {
			return s.classifyReserveFailure(ctx, tx, request.TripID)
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, request.ID, domain.RequestPending, domain.RequestAccepted, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidStatusTransition
		}
		return nil
	})
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordCapacityReserved(ctx)
	}
	s.afterTransition(ctx, request, domain.RequestAccepted, now)
	request.Status = domain.RequestAccepted
	request.AcceptedAt = &now
	request.UpdatedAt = now
	return *request, nil
}

func (s *Service) MarkPurchased(ctx context.Context, req domain.MarkPurchasedRequest) (domain.DeliveryRequest, error) {
	return s.advance(ctx, req.ID, domain.RequestAccepted, domain.RequestPurchased)
}

func (s *Service) MarkDelivered(ctx context.Context, req domain.MarkDeliveredRequest) (domain.DeliveryRequest, error) {
	return s.advance(ctx, req.ID, domain.RequestPurchased, domain.RequestDelivered)
}

// Cancel unwinds a request from any non-terminal status. Reserved
// capacity goes back to the trip, and any escrowed payment is voided or
// refunded in full before the status flips, so a payment failure leaves
// the request untouched.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequestRequest) (domain.DeliveryRequest, error) {
	request, err := s.load(ctx, req.ID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if !request.Status.CanTransition(domain.RequestCancelled) {
		return domain.DeliveryRequest{}, domain.ErrInvalidStatusTransition
	}

	if err := s.unwindPayment(ctx, request); err != nil {
		return domain.DeliveryRequest{}, err
	}

	releaseCapacity := request.Status == domain.RequestAccepted || request.Status == domain.RequestPurchased
	now := s.clock.Now()
	from := request.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if releaseCapacity {
			if err := s.tripRepo.Release(ctx, tx, request.TripID, 1, now); err != nil {
				return err
			}
		}
		ok, err := s.repo.UpdateStatus(ctx, tx, request.ID, from, domain.RequestCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidStatusTransition
		}
		return nil
	})
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	s.afterTransition(ctx, request, domain.RequestCancelled, now)
	request.Status = domain.RequestCancelled
	request.CancelledAt = &now
	request.UpdatedAt = now
	return *request, nil
}

// unwindPayment voids a held authorization or refunds the remaining
// escrowed amount, depending on how far the charge got. Exactly one full
// refund results from a post-purchase cancellation.
func (s *Service) unwindPayment(ctx context.Context, request *domain.DeliveryRequest) error {
	list, err := s.paymentSvc.ListByRequest(ctx, paymentdomain.ListPaymentsByRequestRequest{
		RequestID: request.ID.String(),
	})
	if err != nil {
		return err
	}

	var charge *paymentdomain.Payment
	for i := range list.Payments {
		payment := list.Payments[i]
		if payment.Type == paymentdomain.PaymentTypeCharge && !payment.Status.Terminal() {
			charge = &list.Payments[i]
		}
	}
	if charge == nil {
		return nil
	}

	switch charge.Status {
	case paymentdomain.PaymentPending, paymentdomain.PaymentAuthorized:
		_, err := s.paymentSvc.CancelAuthorization(ctx, paymentdomain.CancelPaymentRequest{ID: charge.ID.String()})
		return err
	case paymentdomain.PaymentCaptured, paymentdomain.PaymentTransferred, paymentdomain.PaymentRefunded:
		remaining := charge.RefundableAmount()
		if remaining <= 0 {
			return nil
		}
		_, err := s.paymentSvc.Refund(ctx, paymentdomain.RefundPaymentRequest{
			ID:     charge.ID.String(),
			Amount: remaining,
			Reason: "request_cancelled",
		})
		return err
	}
	return nil
}

func (s *Service) advance(ctx context.Context, rawID string, from, to domain.RequestStatus) (domain.DeliveryRequest, error) {
	request, err := s.load(ctx, rawID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if request.Status != from {
		return domain.DeliveryRequest{}, domain.ErrInvalidStatusTransition
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateStatus(ctx, s.db, request.ID, from, to, now)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if !ok {
		return domain.DeliveryRequest{}, domain.ErrInvalidStatusTransition
	}

	s.afterTransition(ctx, request, to, now)
	request.Status = to
	request.UpdatedAt = now
	switch to {
	case domain.RequestPurchased:
		request.PurchasedAt = &now
	case domain.RequestDelivered:
		request.DeliveredAt = &now
	}
	return *request, nil
}

func (s *Service) classifyReserveFailure(ctx context.Context, tx *gorm.DB, tripID snowflake.ID) error {
	trip, err := s.tripRepo.FindByID(ctx, tx, tripID)
	if err != nil {
		return err
	}
	if trip == nil {
		return tripdomain.ErrNotFound
	}
	if !trip.Status.Open() {
		return tripdomain.ErrTripClosed
	}
	if s.metrics != nil {
		s.metrics.RecordCapacityExhausted(ctx)
	}
	return tripdomain.ErrCapacityExhausted
}

func (s *Service) afterTransition(ctx context.Context, request *domain.DeliveryRequest, to domain.RequestStatus, now time.Time) {
	s.log.Info("delivery request status updated",
		zap.String("request_id", request.ID.String()),
		zap.String("from", string(request.Status)),
		zap.String("to", string(to)),
	)
	if s.metrics != nil {
		s.metrics.RecordStatusTransition(ctx, "request", string(to))
	}
	s.publisher.Publish(ctx, events.StatusEvent{
		EntityType: "request",
		EntityID:   int64(request.ID),
		FromStatus: string(request.Status),
		ToStatus:   string(to),
		OccurredAt: now,
	})
}

func (s *Service) load(ctx context.Context, rawID string) (*domain.DeliveryRequest, error) {
	id, err := s.parseID(rawID)
	if err != nil {
		return nil, err
	}
	request, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, domain.ErrNotFound
	}
	return request, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
