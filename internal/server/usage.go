package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const defaultStatisticsDays = 30

type setUsageLimitRequest struct {
	ClientID    string          `json:"client_id"`
	SystemID    string          `json:"system_id"`
	Metric      string          `json:"metric"`
	LimitValue  decimal.Decimal `json:"limit_value"`
	ResetPeriod string          `json:"reset_period"`
}

func (s *Server) SetUsageLimit(c *gin.Context) {
	var body setUsageLimitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clientID, err := parseSnowflakeID(body.ClientID)
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidClient)
		return
	}
	systemID, err := parseSnowflakeID(body.SystemID)
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidSystem)
		return
	}

	limit, err := s.usageSvc.SetUsageLimit(c.Request.Context(), usagedomain.SetLimitRequest{
		ClientID:    clientID,
		SystemID:    systemID,
		Metric:      body.Metric,
		LimitValue:  body.LimitValue,
		ResetPeriod: usagedomain.ResetPeriod(strings.TrimSpace(body.ResetPeriod)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"limit": limit})
}

func (s *Server) GetClientUsage(c *gin.Context) {
	clientID, err := parseSnowflakeID(c.Param("client_id"))
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidClient)
		return
	}
	systemID, err := parseOptionalSnowflakeID(c.Query("system_id"))
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidSystem)
		return
	}
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}

	query := usagedomain.UsageQuery{ClientID: clientID, Start: start, End: end}
	if systemID != nil {
		query.SystemID = *systemID
	}

	usage, err := s.usageSvc.GetUsage(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if usage == nil {
		usage = []usagedomain.MetricUsage{}
	}

	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

func (s *Server) GetUsageStatistics(c *gin.Context) {
	clientID, systemID, ok := parseOwnerParams(c)
	if !ok {
		return
	}

	days := defaultStatisticsDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, usagedomain.ErrInvalidDays)
			return
		}
		days = parsed
	}

	stats, err := s.usageSvc.GetUsageStatistics(c.Request.Context(), clientID, systemID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if stats == nil {
		stats = []usagedomain.DailyUsage{}
	}

	c.JSON(http.StatusOK, gin.H{"statistics": stats, "days": days})
}

// GetUsageCost prices usage between start_date and end_date, defaulting to
// the current calendar month so far.
func (s *Server) GetUsageCost(c *gin.Context) {
	clientID, systemID, ok := parseOwnerParams(c)
	if !ok {
		return
	}
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}

	now := s.clock.Now().UTC()
	req := usagedomain.CostRequest{
		ClientID: clientID,
		SystemID: systemID,
		Start:    time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		End:      now,
	}
	if start != nil {
		req.Start = *start
	}
	if end != nil {
		req.End = *end
	}

	cost, err := s.usageSvc.CalculateUsageCost(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cost":       cost,
		"start_date": req.Start,
		"end_date":   req.End,
	})
}

func parseOwnerParams(c *gin.Context) (clientID, systemID snowflake.ID, ok bool) {
	var err error
	if clientID, err = parseSnowflakeID(c.Param("client_id")); err != nil {
		AbortWithError(c, usagedomain.ErrInvalidClient)
		return 0, 0, false
	}
	if systemID, err = parseSnowflakeID(c.Param("system_id")); err != nil {
		AbortWithError(c, usagedomain.ErrInvalidSystem)
		return 0, 0, false
	}
	return clientID, systemID, true
}

func parseDateRange(c *gin.Context) (*time.Time, *time.Time, bool) {
	start, err := parseOptionalTime(c.Query("start_date"), false)
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidRange)
		return nil, nil, false
	}
	end, err := parseOptionalTime(c.Query("end_date"), true)
	if err != nil {
		AbortWithError(c, usagedomain.ErrInvalidRange)
		return nil, nil, false
	}
	return start, end, true
}
