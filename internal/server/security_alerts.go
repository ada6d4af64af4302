package server

import (
	"errors"
	"io"
	"net/http"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/gin-gonic/gin"
)

type alertNotesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) ListSecurityAlerts(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	req := alertdomain.ListRequest{
		Status:         c.Query("status"),
		Severity:       c.Query("severity"),
		AlertType:      c.Query("alert_type"),
		SubscriptionID: c.Query("subscription_id"),
	}
	if limit != nil {
		req.Limit = *limit
	}

	alerts, err := s.alertSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if alerts == nil {
		alerts = []alertdomain.Alert{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) GetSecurityAlert(c *gin.Context) {
	alert, err := s.alertSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (s *Server) ReviewSecurityAlert(c *gin.Context) {
	req, ok := bindAlertReview(c)
	if !ok {
		return
	}

	alert, err := s.alertSvc.MarkReviewed(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (s *Server) IgnoreSecurityAlert(c *gin.Context) {
	req, ok := bindAlertReview(c)
	if !ok {
		return
	}

	alert, err := s.alertSvc.Ignore(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (s *Server) ResolveSecurityAlert(c *gin.Context) {
	var req alertdomain.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = c.Param("id")
	req.ReviewedBy = adminID(c)

	alert, err := s.alertSvc.Resolve(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func bindAlertReview(c *gin.Context) (alertdomain.ReviewRequest, bool) {
	var body alertNotesRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return alertdomain.ReviewRequest{}, false
	}
	return alertdomain.ReviewRequest{
		ID:         c.Param("id"),
		ReviewedBy: adminID(c),
		Notes:      body.Notes,
	}, true
}
