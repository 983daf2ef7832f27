package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/events"
	"github.com/wandercart/wandercart/internal/observability/metrics"
	"github.com/wandercart/wandercart/internal/trip/domain"
	"github.com/wandercart/wandercart/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Clock       clock.Clock
	Publisher   events.Publisher
	Marketplace *config.MarketplaceConfigHolder `optional:"true"`
	Metrics     *metrics.Metrics                `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	clock       clock.Clock
	publisher   events.Publisher
	marketplace *config.MarketplaceConfigHolder
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("trip.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		clock:       p.Clock,
		publisher:   p.Publisher,
		marketplace: p.Marketplace,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTripRequest) (domain.Trip, error) {
	travelerID, err := snowflake.ParseString(strings.TrimSpace(req.TravelerID))
	if err != nil || travelerID == 0 {
		return domain.Trip{}, domain.ErrInvalidTraveler
	}

	origin := strings.TrimSpace(req.Origin)
	if origin == "" {
		return domain.Trip{}, domain.ErrInvalidOrigin
	}

	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return domain.Trip{}, domain.ErrInvalidDestination
	}

	if req.DepartsAt.IsZero() {
		return domain.Trip{}, domain.ErrInvalidSchedule
	}
	if req.ReturnsAt != nil && !req.ReturnsAt.After(req.DepartsAt) {
		return domain.Trip{}, domain.ErrInvalidSchedule
	}

	if req.Capacity <= 0 || req.Capacity > s.marketplace.Current().MaxTripCapacity {
		return domain.Trip{}, domain.ErrInvalidCapacity
	}

	now := s.clock.Now()
	trip := domain.Trip{
		ID:                s.genID.Generate(),
		TravelerID:        travelerID,
		Origin:            origin,
		Destination:       destination,
		DestinationSlug:   slug.Make(destination),
		DepartsAt:         req.DepartsAt.UTC(),
		ReturnsAt:         req.ReturnsAt,
		Capacity:          req.Capacity,
		AvailableCapacity: req.Capacity,
		Status:            domain.TripAnnounced,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, &trip); err != nil {
		return domain.Trip{}, err
	}

	return trip, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetTripRequest) (domain.Trip, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Trip{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Trip{}, err
	}
	if item == nil {
		return domain.Trip{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListTripRequest) (domain.ListTripResponse, error) {
	filter := domain.ListTripFilter{
		TravelerID: strings.TrimSpace(req.TravelerID),
	}
	if destination := strings.TrimSpace(req.Destination); destination != "" {
		filter.DestinationSlug = slug.Make(destination)
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		tripStatus := domain.TripStatus(status)
		if !tripStatus.Valid() {
			return domain.ListTripResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = tripStatus
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
		return domain.ListTripResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(trip *domain.Trip) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        trip.ID.String(),
			CreatedAt: trip.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	trips := make([]domain.Trip, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		trips = append(trips, *item)
	}

	resp := domain.ListTripResponse{Trips: trips}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateTripStatusRequest) (domain.Trip, error) {
	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Trip{}, err
	}

	target := domain.TripStatus(strings.TrimSpace(req.Status))
	if !target.Valid() {
		return domain.Trip{}, domain.ErrInvalidStatus
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Trip{}, err
	}
	if current == nil {
		return domain.Trip{}, domain.ErrNotFound
	}
	if !current.Status.CanTransition(target) {
		return domain.Trip{}, domain.ErrInvalidStatusTransition
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateStatus(ctx, s.db, id, current.Status, target, now)
	if err != nil {
		return domain.Trip{}, err
	}
	if !ok {
		// Lost a race with a concurrent transition.
		return domain.Trip{}, domain.ErrInvalidStatusTransition
	}

	s.log.Info("trip status updated",
		zap.String("trip_id", id.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(target)),
	)
	if s.metrics != nil {
		s.metrics.RecordStatusTransition(ctx, "trip", string(target))
	}
	s.publisher.Publish(ctx, events.StatusEvent{
		EntityType: "trip",
		EntityID:   int64(id),
		FromStatus: string(current.Status),
		ToStatus:   string(target),
		OccurredAt: now,
	})

	updated := *current
	updated.Status = target
	updated.UpdatedAt = now
	return updated, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
