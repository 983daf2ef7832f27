package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/events"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"github.com/wandercart/wandercart/internal/payment/provider/stripe"
	paymentrepo "github.com/wandercart/wandercart/internal/payment/repository"
	paymentservice "github.com/wandercart/wandercart/internal/payment/service"
	paymentwebhook "github.com/wandercart/wandercart/internal/payment/webhook"
	requestrepo "github.com/wandercart/wandercart/internal/request/repository"
	requestservice "github.com/wandercart/wandercart/internal/request/service"
	"github.com/wandercart/wandercart/internal/server"
	triprepo "github.com/wandercart/wandercart/internal/trip/repository"
	tripservice "github.com/wandercart/wandercart/internal/trip/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) CreateIntent(ctx context.Context, req paymentdomain.CreateIntentRequest, key string) (paymentdomain.ProviderResult, error) {
	return paymentdomain.ProviderResult{
		ProviderRef: "pi_" + req.PaymentID.String(),
		Status:      paymentdomain.ProviderStatusAuthorized,
	}, nil
}

func (stubProvider) Capture(ctx context.Context, ref string, amount int64, key string) (paymentdomain.ProviderResult, error) {
	return paymentdomain.ProviderResult{ProviderRef: ref, Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func (stubProvider) Cancel(ctx context.Context, ref, key string) (paymentdomain.ProviderResult, error) {
	return paymentdomain.ProviderResult{ProviderRef: ref, Status: "canceled"}, nil
}

func (stubProvider) Refund(ctx context.Context, ref string, amount int64, key string) (paymentdomain.ProviderResult, error) {
	return paymentdomain.ProviderResult{ProviderRef: "re_" + ref, Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func (stubProvider) Transfer(ctx context.Context, req paymentdomain.TransferRequest, key string) (paymentdomain.ProviderResult, error) {
	return paymentdomain.ProviderResult{ProviderRef: "tr_" + req.PaymentID.String(), Status: paymentdomain.ProviderStatusSucceeded}, nil
}

func TestCreateAndGetTripOverHTTP(t *testing.T) {
	srv, node := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"traveler_id": node.Generate().String(),
		"origin":      "Berlin",
		"destination": "Tokyo",
		"departs_at":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"capacity":    3,
	})
	w := doRequest(srv, http.MethodPost, "/v1/trips", body)
	if w.Code != http.StatusOK {
		t.Fatalf("create trip: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Data.Status != "ANNOUNCED" {
		t.Fatalf("expected ANNOUNCED, got %s", created.Data.Status)
	}

	w = doRequest(srv, http.MethodGet, "/v1/trips/"+created.Data.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get trip: expected 200, got %d", w.Code)
	}
}

func TestCreateTripValidationOverHTTP(t *testing.T) {
	srv, node := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"traveler_id": node.Generate().String(),
		"origin":      "Berlin",
		"destination": "Tokyo",
		"departs_at":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"capacity":    0,
	})
	w := doRequest(srv, http.MethodPost, "/v1/trips", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error struct {
			Type   string `json:"type"`
			Errors []struct {
				Code string `json:"code"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Type != "validation_error" {
		t.Fatalf("expected validation_error, got %s", resp.Error.Type)
	}
	if len(resp.Error.Errors) != 1 || resp.Error.Errors[0].Code != "invalid_capacity" {
		t.Fatalf("unexpected error detail: %+v", resp.Error.Errors)
	}
}

func TestInvalidTransitionReturnsConflict(t *testing.T) {
	srv, node := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"traveler_id": node.Generate().String(),
		"origin":      "Berlin",
		"destination": "Tokyo",
		"departs_at":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"capacity":    3,
	})
	w := doRequest(srv, http.MethodPost, "/v1/trips", body)
	if w.Code != http.StatusOK {
		t.Fatalf("create trip: %d", w.Code)
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// ANNOUNCED cannot jump straight to COMPLETED.
	statusBody, _ := json.Marshal(map[string]string{"status": "COMPLETED"})
	w = doRequest(srv, http.MethodPost, "/v1/trips/"+created.Data.ID+"/status", statusBody)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateRequestAndAuthorizeOverHTTP(t *testing.T) {
	srv, node := newTestServer(t)

	tripBody, _ := json.Marshal(map[string]any{
		"traveler_id": node.Generate().String(),
		"origin":      "Berlin",
		"destination": "Tokyo",
		"departs_at":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"capacity":    3,
	})
	w := doRequest(srv, http.MethodPost, "/v1/trips", tripBody)
	if w.Code != http.StatusOK {
		t.Fatalf("create trip: %d: %s", w.Code, w.Body.String())
	}
	var trip struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &trip); err != nil {
		t.Fatalf("decode trip: %v", err)
	}

	requestBody, _ := json.Marshal(map[string]any{
		"trip_id":         trip.Data.ID,
		"requester_id":    node.Generate().String(),
		"items":           []string{"ceremonial matcha, 100g tin"},
		"max_item_budget": 4000,
		"delivery_fee":    1000,
		"currency":        "USD",
	})
	w = doRequest(srv, http.MethodPost, "/v1/requests", requestBody)
	if w.Code != http.StatusOK {
		t.Fatalf("create request: %d: %s", w.Code, w.Body.String())
	}
	var request struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &request); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if request.Data.Status != "PENDING" {
		t.Fatalf("expected PENDING, got %s", request.Data.Status)
	}

	paymentBody, _ := json.Marshal(map[string]any{
		"request_id": request.Data.ID,
		"amount":     5000,
		"currency":   "USD",
		"payer_ref":  "cus_123",
	})
	w = doRequest(srv, http.MethodPost, "/v1/payments/authorize", paymentBody)
	if w.Code != http.StatusOK {
		t.Fatalf("authorize: %d: %s", w.Code, w.Body.String())
	}
	var payment struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payment); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if payment.Data.Status != "AUTHORIZED" {
		t.Fatalf("expected AUTHORIZED, got %s", payment.Data.Status)
	}
}

func TestUnknownTripReturnsNotFound(t *testing.T) {
	srv, node := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/v1/trips/"+node.Generate().String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestWebhookBadSignatureReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func newTestServer(t *testing.T) (*server.Server, *snowflake.Node) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	log := zap.NewNop()
	systemClock := clock.NewSystemClock()
	publisher := events.NewNoopPublisher()
	cfg := config.Config{StripeWebhookSecret: "whsec_test"}

	tripSvc := tripservice.New(tripservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      triprepo.Provide(),
		Clock:     systemClock,
		Publisher: publisher,
	})
	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		Provider:    stubProvider{},
		Clock:       systemClock,
		Publisher:   publisher,
		Marketplace: config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig()),
	})
	webhookSvc := paymentwebhook.New(paymentwebhook.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      paymentrepo.Provide(),
		Adapter:   stripe.New(cfg),
		Clock:     systemClock,
		Publisher: publisher,
	})
	requestSvc := requestservice.New(requestservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       requestrepo.Provide(),
		TripRepo:   triprepo.Provide(),
		PaymentSvc: paymentSvc,
		Clock:      systemClock,
		Publisher:  publisher,
	})

	engine := gin.New()
	engine.Use(server.ErrorHandlingMiddleware())

	srv := server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		TripSvc:    tripSvc,
		RequestSvc: requestSvc,
		PaymentSvc: paymentSvc,
		WebhookSvc: webhookSvc,
	})
	return srv, node
}

func doRequest(srv *server.Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payment_id BIGINT,
			payload TEXT,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX idx_payment_events_provider_event ON payment_events (provider, provider_event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}
