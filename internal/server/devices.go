package server

import (
	"net/http"

	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListPendingDevices(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	devices, err := s.deviceSvc.ListPending(c.Request.Context(), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if devices == nil {
		devices = []devicedomain.Device{}
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) ApproveDevice(c *gin.Context) {
	device, err := s.deviceSvc.ApproveDevice(c.Request.Context(), devicedomain.ReviewRequest{
		ID:         c.Param("id"),
		ReviewedBy: adminID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

func (s *Server) RejectDevice(c *gin.Context) {
	var req devicedomain.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("reason", "rejection_reason_required", "a rejection reason is required"))
		return
	}
	req.ID = c.Param("id")
	req.ReviewedBy = adminID(c)

	device, err := s.deviceSvc.RejectDevice(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

func (s *Server) ListSubscriptionDevices(c *gin.Context) {
	devices, err := s.deviceSvc.ListBySubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if devices == nil {
		devices = []devicedomain.Device{}
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// ActivateDevice registers a device for the subscription owning the API key
// in the body. New requests answer 201, repeats of a live request 200.
func (s *Server) ActivateDevice(c *gin.Context) {
	var req devicedomain.ActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = 0
	req.AutoApprove = false
	req.IPAddress = c.ClientIP()

	result, err := s.deviceSvc.RequestActivation(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// ValidateDevice checks an API key and device pair on each client launch and
// records the traffic for concurrency detection.
func (s *Server) ValidateDevice(c *gin.Context) {
	var req devicedomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.IPAddress = c.ClientIP()

	result, err := s.deviceSvc.ValidateDevice(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(contextSubscriptionKey, result.Subscription)

	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"subscription": result.Subscription,
		"device":       result.Device,
	})
}
