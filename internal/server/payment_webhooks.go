package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	if s.webhookLimiter != nil && s.webhookLimiter.Enabled() {
		allowed, err := s.webhookLimiter.AllowSource(c.Request.Context(), provider)
		if err == nil && !allowed.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "payment_webhook", "rate")
			}
			AbortWithError(c, ErrTooManyRequest)
			return
		}
		if s.obsMetrics != nil && err == nil {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), "payment_webhook")
		}
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		// A replay that already landed is a success from the provider's
		// point of view; anything else would trigger endless redelivery.
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
