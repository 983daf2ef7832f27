package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tripdomain "github.com/wandercart/wandercart/internal/trip/domain"
	"github.com/wandercart/wandercart/pkg/db/pagination"
)

type createTripRequest struct {
	TravelerID  string     `json:"traveler_id"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	DepartsAt   time.Time  `json:"departs_at"`
	ReturnsAt   *time.Time `json:"returns_at"`
	Capacity    int        `json:"capacity"`
}

func (s *Server) CreateTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tripSvc.Create(c.Request.Context(), tripdomain.CreateTripRequest{
		TravelerID:  strings.TrimSpace(req.TravelerID),
		Origin:      strings.TrimSpace(req.Origin),
		Destination: strings.TrimSpace(req.Destination),
		DepartsAt:   req.DepartsAt,
		ReturnsAt:   req.ReturnsAt,
		Capacity:    req.Capacity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTrips(c *gin.Context) {
	var query struct {
		pagination.Pagination
		TravelerID  string `form:"traveler_id"`
		Destination string `form:"destination"`
		Status      string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tripSvc.List(c.Request.Context(), tripdomain.ListTripRequest{
		PageToken:   query.PageToken,
		PageSize:    int32(query.PageSize),
		TravelerID:  strings.TrimSpace(query.TravelerID),
		Destination: strings.TrimSpace(query.Destination),
		Status:      strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTripByID(c *gin.Context) {
	resp, err := s.tripSvc.GetByID(c.Request.Context(), tripdomain.GetTripRequest{
		ID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateTripStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) UpdateTripStatus(c *gin.Context) {
	var req updateTripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tripSvc.UpdateStatus(c.Request.Context(), tripdomain.UpdateTripStatusRequest{
		ID:     strings.TrimSpace(c.Param("id")),
		Status: strings.TrimSpace(req.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func isTripValidationError(err error) bool {
	switch err {
	case tripdomain.ErrInvalidTraveler,
		tripdomain.ErrInvalidOrigin,
		tripdomain.ErrInvalidDestination,
		tripdomain.ErrInvalidSchedule,
		tripdomain.ErrInvalidCapacity,
		tripdomain.ErrInvalidID,
		tripdomain.ErrInvalidStatus:
		return true
	default:
		return false
	}
}
