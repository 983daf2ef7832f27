package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
)

type authorizePaymentRequest struct {
	RequestID   string `json:"request_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PayerRef    string `json:"payer_ref"`
	Description string `json:"description"`
}

func (s *Server) AuthorizePayment(c *gin.Context) {
	var req authorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Authorize(c.Request.Context(), paymentdomain.AuthorizePaymentRequest{
		RequestID:   strings.TrimSpace(req.RequestID),
		Amount:      req.Amount,
		Currency:    strings.TrimSpace(req.Currency),
		PayerRef:    strings.TrimSpace(req.PayerRef),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type capturePaymentRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) CapturePayment(c *gin.Context) {
	// The body is optional; an empty one captures the full hold.
	var req capturePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.paymentSvc.Capture(c.Request.Context(), paymentdomain.CapturePaymentRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Amount: req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type transferPaymentRequest struct {
	PayoutAccount string `json:"payout_account"`
}

func (s *Server) TransferPayment(c *gin.Context) {
	var req transferPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.TransferToRecipient(c.Request.Context(), paymentdomain.TransferPaymentRequest{
		ID:            strings.TrimSpace(c.Param("id")),
		PayoutAccount: strings.TrimSpace(req.PayoutAccount),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type refundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	// The body is optional; an empty one refunds the remaining hold.
	var req refundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundPaymentRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Amount: req.Amount,
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelPayment(c *gin.Context) {
	resp, err := s.paymentSvc.CancelAuthorization(c.Request.Context(), paymentdomain.CancelPaymentRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	resp, err := s.paymentSvc.GetByID(c.Request.Context(), paymentdomain.GetPaymentRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	requestID := strings.TrimSpace(c.Query("request_id"))
	if requestID == "" {
		AbortWithError(c, newValidationError("request_id", "invalid_request", "request_id is required"))
		return
	}

	resp, err := s.paymentSvc.ListByRequest(c.Request.Context(), paymentdomain.ListPaymentsByRequestRequest{
		RequestID: requestID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func isPaymentValidationError(err error) bool {
	switch err {
	case paymentdomain.ErrInvalidID,
		paymentdomain.ErrInvalidRequest,
		paymentdomain.ErrInvalidParty,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidCurrency,
		paymentdomain.ErrInvalidProvider,
		paymentdomain.ErrInvalidPayload,
		paymentdomain.ErrInvalidEvent:
		return true
	default:
		return false
	}
}
