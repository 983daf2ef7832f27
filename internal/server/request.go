package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	requestdomain "github.com/wandercart/wandercart/internal/request/domain"
	"github.com/wandercart/wandercart/pkg/db/pagination"
)

type createRequestRequest struct {
	TripID        string   `json:"trip_id"`
	RequesterID   string   `json:"requester_id"`
	Items         []string `json:"items"`
	MaxItemBudget int64    `json:"max_item_budget"`
	DeliveryFee   int64    `json:"delivery_fee"`
	Currency      string   `json:"currency"`
}

func (s *Server) CreateRequest(c *gin.Context) {
	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requestSvc.Create(c.Request.Context(), requestdomain.CreateRequestRequest{
		TripID:        strings.TrimSpace(req.TripID),
		RequesterID:   strings.TrimSpace(req.RequesterID),
		Items:         req.Items,
		MaxItemBudget: req.MaxItemBudget,
		DeliveryFee:   req.DeliveryFee,
		Currency:      strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRequests(c *gin.Context) {
	var query struct {
		pagination.Pagination
		TripID      string `form:"trip_id"`
		RequesterID string `form:"requester_id"`
		Status      string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.requestSvc.List(c.Request.Context(), requestdomain.ListRequestsRequest{
		PageToken:   query.PageToken,
		PageSize:    int32(query.PageSize),
		TripID:      strings.TrimSpace(query.TripID),
		RequesterID: strings.TrimSpace(query.RequesterID),
		Status:      strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRequestByID(c *gin.Context) {
	resp, err := s.requestSvc.GetByID(c.Request.Context(), requestdomain.GetRequestRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AcceptRequest(c *gin.Context) {
	resp, err := s.requestSvc.Accept(c.Request.Context(), requestdomain.AcceptRequestRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkRequestPurchased(c *gin.Context) {
	resp, err := s.requestSvc.MarkPurchased(c.Request.Context(), requestdomain.MarkPurchasedRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkRequestDelivered(c *gin.Context) {
	resp, err := s.requestSvc.MarkDelivered(c.Request.Context(), requestdomain.MarkDeliveredRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelRequest(c *gin.Context) {
	resp, err := s.requestSvc.Cancel(c.Request.Context(), requestdomain.CancelRequestRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func isRequestValidationError(err error) bool {
	switch err {
	case requestdomain.ErrInvalidTrip,
		requestdomain.ErrInvalidRequester,
		requestdomain.ErrInvalidItems,
		requestdomain.ErrInvalidAmount,
		requestdomain.ErrInvalidCurrency,
		requestdomain.ErrInvalidID,
		requestdomain.ErrInvalidStatus:
		return true
	default:
		return false
	}
}
