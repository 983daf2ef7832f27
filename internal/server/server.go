package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/events"
	"github.com/wandercart/wandercart/internal/observability"
	obsmiddleware "github.com/wandercart/wandercart/internal/observability/logger"
	obsmetrics "github.com/wandercart/wandercart/internal/observability/metrics"
	obstracing "github.com/wandercart/wandercart/internal/observability/tracing"
	"github.com/wandercart/wandercart/internal/payment"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"github.com/wandercart/wandercart/internal/ratelimit"
	"github.com/wandercart/wandercart/internal/request"
	requestdomain "github.com/wandercart/wandercart/internal/request/domain"
	"github.com/wandercart/wandercart/internal/trip"
	tripdomain "github.com/wandercart/wandercart/internal/trip/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	events.Module,
	ratelimit.Module,
	trip.Module,
	request.Module,
	payment.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	tripSvc        tripdomain.Service
	requestSvc     requestdomain.Service
	paymentSvc     paymentdomain.Service
	webhookSvc     paymentdomain.WebhookService
	webhookLimiter *ratelimit.WebhookLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	TripSvc        tripdomain.Service
	RequestSvc     requestdomain.Service
	PaymentSvc     paymentdomain.Service
	WebhookSvc     paymentdomain.WebhookService
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		tripSvc:        p.TripSvc,
		requestSvc:     p.RequestSvc,
		paymentSvc:     p.PaymentSvc,
		webhookSvc:     p.WebhookSvc,
		webhookLimiter: p.WebhookLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Trips --------
	v1.GET("/trips", s.ListTrips)
	v1.POST("/trips", s.CreateTrip)
	v1.GET("/trips/:id", s.GetTripByID)
	v1.POST("/trips/:id/status", s.UpdateTripStatus)

	// -------- Delivery Requests --------
	v1.GET("/requests", s.ListRequests)
	v1.POST("/requests", s.CreateRequest)
	v1.GET("/requests/:id", s.GetRequestByID)
	v1.POST("/requests/:id/accept", s.AcceptRequest)
	v1.POST("/requests/:id/purchase", s.MarkRequestPurchased)
	v1.POST("/requests/:id/deliver", s.MarkRequestDelivered)
	v1.POST("/requests/:id/cancel", s.CancelRequest)

	// -------- Payments --------
	v1.GET("/payments", s.ListPayments)
	v1.POST("/payments/authorize", s.AuthorizePayment)
	v1.GET("/payments/:id", s.GetPaymentByID)
	v1.POST("/payments/:id/capture", s.CapturePayment)
	v1.POST("/payments/:id/transfer", s.TransferPayment)
	v1.POST("/payments/:id/refund", s.RefundPayment)
	v1.POST("/payments/:id/cancel", s.CancelPayment)

	// -------- Payment Webhooks --------
	v1.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}
