package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/events"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	paymentrepo "github.com/wandercart/wandercart/internal/payment/repository"
	paymentservice "github.com/wandercart/wandercart/internal/payment/service"
	"github.com/wandercart/wandercart/internal/request/domain"
	requestrepo "github.com/wandercart/wandercart/internal/request/repository"
	requestservice "github.com/wandercart/wandercart/internal/request/service"
	tripdomain "github.com/wandercart/wandercart/internal/trip/domain"
	triprepo "github.com/wandercart/wandercart/internal/trip/repository"
	tripservice "github.com/wandercart/wandercart/internal/trip/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeProvider struct {
	errOn map[string]error
	calls []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest, key string) (paymentdomain.ProviderResult, error) {
	if err := p.record("create_intent"); err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	return paymentdomain.ProviderResult{
		ProviderRef: "pi_" + req.PaymentID.String(),
		Status:      paymentdomain.ProviderStatusAuthorized,
	}, nil
}

func (p *fakeProvider) Capture(ctx context.Context, ref string, amount int64, key string) (paymentdomain.ProviderResult, error) {
	if err := p.record("capture"); err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	return paymentdomain.ProviderResult{ProviderRef: ref, Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func (p *fakeProvider) Cancel(ctx context.Context, ref, key string) (paymentdomain.ProviderResult, error) {
	if err := p.record("cancel"); err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	return paymentdomain.ProviderResult{ProviderRef: ref, Status: "canceled"}, nil
}

func (p *fakeProvider) Refund(ctx context.Context, ref string, amount int64, key string) (paymentdomain.ProviderResult, error) {
	if err := p.record("refund"); err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	return paymentdomain.ProviderResult{ProviderRef: "re_" + ref, Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func (p *fakeProvider) Transfer(ctx context.Context, req paymentdomain.TransferRequest, key string) (paymentdomain.ProviderResult, error) {
	if err := p.record("transfer"); err != nil {
		return paymentdomain.ProviderResult{}, err
	}
	return paymentdomain.ProviderResult{ProviderRef: "tr_" + req.PaymentID.String(), Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func (p *fakeProvider) record(op string) error {
	p.calls = append(p.calls, op)
	if err, ok := p.errOn[op]; ok {
		return err
	}
	return nil
}

func (p *fakeProvider) callCount(op string) int {
	count := 0
	for _, call := range p.calls {
		if call == op {
			count++
		}
	}
	return count
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)

	accepted, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: request.ID.String()})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.RequestAccepted {
		t.Fatalf("expected status %s, got %s", domain.RequestAccepted, accepted.Status)
	}
	if accepted.AcceptedAt == nil {
		t.Fatalf("expected accepted_at to be stamped")
	}
	assertAvailable(t, env.db, trip.ID, 1)

	purchased, err := env.requestSvc.MarkPurchased(ctx, domain.MarkPurchasedRequest{ID: request.ID.String()})
	if err != nil {
		t.Fatalf("mark purchased: %v", err)
	}
	if purchased.PurchasedAt == nil {
		t.Fatalf("expected purchased_at to be stamped")
	}

	delivered, err := env.requestSvc.MarkDelivered(ctx, domain.MarkDeliveredRequest{ID: request.ID.String()})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if delivered.Status != domain.RequestDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("unexpected delivered request: %+v", delivered)
	}

	recorded := env.recorder.Events()
	if len(recorded) != 3 {
		t.Fatalf("expected 3 status events, got %d", len(recorded))
	}
	if recorded[2].EntityType != "request" || recorded[2].ToStatus != string(domain.RequestDelivered) {
		t.Fatalf("unexpected final status event: %+v", recorded[2])
	}
}

func TestCreateRequestValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	tripID := trip.ID.String()
	requesterID := env.node.Generate().String()

	cases := []struct {
		name string
		req  domain.CreateRequestRequest
		want error
	}{
		{
			name: "missing trip",
			req:  domain.CreateRequestRequest{RequesterID: requesterID, Items: []string{"matcha"}, MaxItemBudget: 2000, Currency: "USD"},
			want: domain.ErrInvalidTrip,
		},
		{
			name: "missing requester",
			req:  domain.CreateRequestRequest{TripID: tripID, Items: []string{"matcha"}, MaxItemBudget: 2000, Currency: "USD"},
			want: domain.ErrInvalidRequester,
		},
		{
			name: "no items",
			req:  domain.CreateRequestRequest{TripID: tripID, RequesterID: requesterID, MaxItemBudget: 2000, Currency: "USD"},
			want: domain.ErrInvalidItems,
		},
		{
			name: "blank item",
			req:  domain.CreateRequestRequest{TripID: tripID, RequesterID: requesterID, Items: []string{"matcha", "  "}, MaxItemBudget: 2000, Currency: "USD"},
			want: domain.ErrInvalidItems,
		},
		{
			name: "zero budget",
			req:  domain.CreateRequestRequest{TripID: tripID, RequesterID: requesterID, Items: []string{"matcha"}, Currency: "USD"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "negative delivery fee",
			req:  domain.CreateRequestRequest{TripID: tripID, RequesterID: requesterID, Items: []string{"matcha"}, MaxItemBudget: 2000, DeliveryFee: -1, Currency: "USD"},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "bad currency",
			req:  domain.CreateRequestRequest{TripID: tripID, RequesterID: requesterID, Items: []string{"matcha"}, MaxItemBudget: 2000, Currency: "usdollar"},
			want: domain.ErrInvalidCurrency,
		},
		{
			name: "unknown trip",
			req:  domain.CreateRequestRequest{TripID: env.node.Generate().String(), RequesterID: requesterID, Items: []string{"matcha"}, MaxItemBudget: 2000, Currency: "USD"},
			want: tripdomain.ErrNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.requestSvc.Create(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateRequestRejectsClosedTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	if _, err := env.tripSvc.UpdateStatus(ctx, tripdomain.UpdateTripStatusRequest{
		ID:     trip.ID.String(),
		Status: string(tripdomain.TripCancelled),
	}); err != nil {
		t.Fatalf("cancel trip: %v", err)
	}

	_, err := env.requestSvc.Create(ctx, domain.CreateRequestRequest{
		TripID:        trip.ID.String(),
		RequesterID:   env.node.Generate().String(),
		Items:         []string{"matcha"},
		MaxItemBudget: 2000,
		Currency:      "USD",
	})
	if !errors.Is(err, tripdomain.ErrTripClosed) {
		t.Fatalf("expected trip closed, got %v", err)
	}
}

func TestCreateRequestRejectsFullTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 1)
	first := seedRequest(t, ctx, env, trip.ID)
	accept(t, ctx, env, first)

	_, err := env.requestSvc.Create(ctx, domain.CreateRequestRequest{
		TripID:        trip.ID.String(),
		RequesterID:   env.node.Generate().String(),
		Items:         []string{"matcha"},
		MaxItemBudget: 2000,
		Currency:      "USD",
	})
	if !errors.Is(err, tripdomain.ErrCapacityExhausted) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}
}

func TestAcceptExhaustsCapacity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 1)
	first := seedRequest(t, ctx, env, trip.ID)
	second := seedRequest(t, ctx, env, trip.ID)

	if _, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: first.ID.String()}); err != nil {
		t.Fatalf("accept first: %v", err)
	}

	_, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: second.ID.String()})
	if !errors.Is(err, tripdomain.ErrCapacityExhausted) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}

	// The losing request stays PENDING so another trip can pick it up.
	stored, err := env.requestSvc.GetByID(ctx, domain.GetRequestRequest{ID: second.ID.String()})
	if err != nil {
		t.Fatalf("get second request: %v", err)
	}
	if stored.Status != domain.RequestPending {
		t.Fatalf("expected PENDING, got %s", stored.Status)
	}
	assertAvailable(t, env.db, trip.ID, 0)
}

func TestAcceptRejectsNonPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)

	if _, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: request.ID.String()})
	if !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	assertAvailable(t, env.db, trip.ID, 1)
}

func TestCancelPendingLeavesCapacityUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)

	cancelled, err := env.requestSvc.Cancel(ctx, domain.CancelRequestRequest{ID: request.ID.String()})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.RequestCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled request: %+v", cancelled)
	}
	assertAvailable(t, env.db, trip.ID, 2)
}

func TestCancelAcceptedReleasesCapacityAndVoidsHold(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)
	accept(t, ctx, env, request)

	charge := authorize(t, ctx, env, request)

	if _, err := env.requestSvc.Cancel(ctx, domain.CancelRequestRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	assertAvailable(t, env.db, trip.ID, 2)
	if got := env.provider.callCount("cancel"); got != 1 {
		t.Fatalf("expected 1 provider cancel, got %d", got)
	}
	stored, err := env.paymentSvc.GetByID(ctx, paymentdomain.GetPaymentRequest{ID: charge.ID.String()})
	if err != nil {
		t.Fatalf("get charge: %v", err)
	}
	if stored.Status != paymentdomain.PaymentCancelled {
		t.Fatalf("expected charge CANCELLED, got %s", stored.Status)
	}
}

func TestCancelPurchasedRefundsRemainingOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)
	accept(t, ctx, env, request)

	charge := authorize(t, ctx, env, request)
	if _, err := env.paymentSvc.Capture(ctx, paymentdomain.CapturePaymentRequest{ID: charge.ID.String()}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := env.requestSvc.MarkPurchased(ctx, domain.MarkPurchasedRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("mark purchased: %v", err)
	}

	// A partial refund already happened before the cancellation.
	if _, err := env.paymentSvc.Refund(ctx, paymentdomain.RefundPaymentRequest{
		ID:     charge.ID.String(),
		Amount: 1000,
	}); err != nil {
		t.Fatalf("partial refund: %v", err)
	}

	if _, err := env.requestSvc.Cancel(ctx, domain.CancelRequestRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	assertAvailable(t, env.db, trip.ID, 2)
	if got := env.provider.callCount("refund"); got != 2 {
		t.Fatalf("expected 2 provider refunds (partial + remainder), got %d", got)
	}

	var refunded int64
	if err := env.db.Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE parent_payment_id = ? AND type = 'refund' AND status = 'REFUNDED'`,
		charge.ID,
	).Scan(&refunded).Error; err != nil {
		t.Fatalf("sum refunds: %v", err)
	}
	if refunded != request.Total() {
		t.Fatalf("expected full amount %d refunded, got %d", request.Total(), refunded)
	}
}

func TestCancelPurchasedAbortsWhenRefundFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.provider.errOn["refund"] = errors.New("provider down")

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)
	accept(t, ctx, env, request)

	charge := authorize(t, ctx, env, request)
	if _, err := env.paymentSvc.Capture(ctx, paymentdomain.CapturePaymentRequest{ID: charge.ID.String()}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := env.requestSvc.MarkPurchased(ctx, domain.MarkPurchasedRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("mark purchased: %v", err)
	}

	_, err := env.requestSvc.Cancel(ctx, domain.CancelRequestRequest{ID: request.ID.String()})
	if !errors.Is(err, paymentdomain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}

	// Nothing moved: the request keeps its status and the capacity stays
	// reserved until the refund goes through.
	stored, err := env.requestSvc.GetByID(ctx, domain.GetRequestRequest{ID: request.ID.String()})
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.RequestPurchased {
		t.Fatalf("expected PURCHASED, got %s", stored.Status)
	}
	assertAvailable(t, env.db, trip.ID, 1)
}

func TestCancelDeliveredRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	trip := seedTrip(t, ctx, env, 2)
	request := seedRequest(t, ctx, env, trip.ID)
	accept(t, ctx, env, request)
	if _, err := env.requestSvc.MarkPurchased(ctx, domain.MarkPurchasedRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("mark purchased: %v", err)
	}
	if _, err := env.requestSvc.MarkDelivered(ctx, domain.MarkDeliveredRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	_, err := env.requestSvc.Cancel(ctx, domain.CancelRequestRequest{ID: request.ID.String()})
	if !errors.Is(err, domain.ErrInvalidStatusTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

type testEnv struct {
	db         *gorm.DB
	node       *snowflake.Node
	recorder   *events.Recorder
	provider   *fakeProvider
	tripSvc    tripdomain.Service
	requestSvc domain.Service
	paymentSvc paymentdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	recorder := events.NewRecorder()
	provider := &fakeProvider{errOn: map[string]error{}}
	systemClock := clock.NewSystemClock()
	log := zap.NewNop()

	tripSvc := tripservice.New(tripservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      triprepo.Provide(),
		Clock:     systemClock,
		Publisher: recorder,
	})
	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		Provider:    provider,
		Clock:       systemClock,
		Publisher:   events.NewNoopPublisher(),
		Marketplace: config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig()),
	})
	requestSvc := requestservice.New(requestservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       requestrepo.Provide(),
		TripRepo:   triprepo.Provide(),
		PaymentSvc: paymentSvc,
		Clock:      systemClock,
		Publisher:  recorder,
	})

	return &testEnv{
		db:         db,
		node:       node,
		recorder:   recorder,
		provider:   provider,
		tripSvc:    tripSvc,
		requestSvc: requestSvc,
		paymentSvc: paymentSvc,
	}
}

func seedTrip(t *testing.T, ctx context.Context, env *testEnv, capacity int) tripdomain.Trip {
	t.Helper()

	trip, err := env.tripSvc.Create(ctx, tripdomain.CreateTripRequest{
		TravelerID:  env.node.Generate().String(),
		Origin:      "Berlin",
		Destination: "Tokyo",
		DepartsAt:   time.Now().UTC().Add(24 * time.Hour),
		Capacity:    capacity,
	})
	if err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	return trip
}

func seedRequest(t *testing.T, ctx context.Context, env *testEnv, tripID snowflake.ID) domain.DeliveryRequest {
	t.Helper()

	request, err := env.requestSvc.Create(ctx, domain.CreateRequestRequest{
		TripID:        tripID.String(),
		RequesterID:   env.node.Generate().String(),
		Items:         []string{"ceremonial matcha, 100g tin"},
		MaxItemBudget: 4000,
		DeliveryFee:   1000,
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return request
}

func accept(t *testing.T, ctx context.Context, env *testEnv, request domain.DeliveryRequest) {
	t.Helper()

	if _, err := env.requestSvc.Accept(ctx, domain.AcceptRequestRequest{ID: request.ID.String()}); err != nil {
		t.Fatalf("accept request: %v", err)
	}
}

func authorize(t *testing.T, ctx context.Context, env *testEnv, request domain.DeliveryRequest) paymentdomain.Payment {
	t.Helper()

	charge, err := env.paymentSvc.Authorize(ctx, paymentdomain.AuthorizePaymentRequest{
		RequestID: request.ID.String(),
		Amount:    request.Total(),
		Currency:  request.Currency,
		PayerRef:  "cus_" + request.RequesterID.String(),
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if charge.Status != paymentdomain.PaymentAuthorized {
		t.Fatalf("expected AUTHORIZED charge, got %s", charge.Status)
	}
	return charge
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_request_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE trips (
			id BIGINT PRIMARY KEY,
			traveler_id BIGINT NOT NULL,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			destination_slug TEXT NOT NULL,
			departs_at TIMESTAMP NOT NULL,
			returns_at TIMESTAMP,
			capacity INT NOT NULL,
			available_capacity INT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE delivery_requests (
			id BIGINT PRIMARY KEY,
			trip_id BIGINT NOT NULL,
			requester_id BIGINT NOT NULL,
			items TEXT NOT NULL,
			max_item_budget BIGINT NOT NULL,
			delivery_fee BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			accepted_at TIMESTAMP,
			purchased_at TIMESTAMP,
			delivered_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			request_id BIGINT NOT NULL,
			parent_payment_id BIGINT,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			captured_amount BIGINT NOT NULL DEFAULT 0,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			platform_fee BIGINT NOT NULL,
			status TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_ref TEXT,
			payer_ref TEXT,
			description TEXT,
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func assertAvailable(t *testing.T, db *gorm.DB, id snowflake.ID, expected int) {
	t.Helper()

	var available int
	if err := db.Raw("SELECT available_capacity FROM trips WHERE id = ?", id).Scan(&available).Error; err != nil {
		t.Fatalf("scan available_capacity: %v", err)
	}
	if available != expected {
		t.Fatalf("expected available capacity %d, got %d", expected, available)
	}
}
