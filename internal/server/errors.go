package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var rateErr *devicedomain.RateLimitError
		if errors.As(lastErr.Err, &rateErr) && rateErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var capErr *devicedomain.CapacityError
	if errors.As(err, &capErr) {
		return http.StatusConflict, errorPayload{
			Type:    "capacity_exceeded",
			Message: fmt.Sprintf("device limit reached: %d of %d activations in use", capErr.Active, capErr.MaxActivations),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, subscriptiondomain.ErrInvalidAPIKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, subscriptiondomain.ErrInactive):
		return http.StatusForbidden, errorPayload{
			Type:    "subscription_inactive",
			Message: "subscription is not active",
		}
	case errors.Is(err, devicedomain.ErrDeviceNotActive):
		return http.StatusForbidden, errorPayload{
			Type:    "device_not_active",
			Message: "device is not activated",
		}
	case errors.Is(err, devicedomain.ErrCapacityExceeded):
		return http.StatusConflict, errorPayload{
			Type:    "capacity_exceeded",
			Message: "device limit reached",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, devicedomain.ErrInvalidTransition),
		errors.Is(err, alertdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, devicedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isUsageValidationError(err),
		isDeviceValidationError(err),
		isAlertValidationError(err),
		isNotificationValidationError(err):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	return errors.Is(err, usagedomain.ErrInvalidClient) ||
		errors.Is(err, usagedomain.ErrInvalidSystem) ||
		errors.Is(err, usagedomain.ErrInvalidMetric) ||
		errors.Is(err, usagedomain.ErrInvalidQuantity) ||
		errors.Is(err, usagedomain.ErrInvalidLimit) ||
		errors.Is(err, usagedomain.ErrInvalidResetPeriod) ||
		errors.Is(err, usagedomain.ErrInvalidDays) ||
		errors.Is(err, usagedomain.ErrInvalidRange)
}

func isDeviceValidationError(err error) bool {
	return errors.Is(err, devicedomain.ErrInvalidID) ||
		errors.Is(err, devicedomain.ErrInvalidFingerprint) ||
		errors.Is(err, devicedomain.ErrInvalidIP) ||
		errors.Is(err, devicedomain.ErrReasonRequired)
}

func isAlertValidationError(err error) bool {
	return errors.Is(err, alertdomain.ErrInvalidID) ||
		errors.Is(err, alertdomain.ErrInvalidFilter) ||
		errors.Is(err, alertdomain.ErrInvalidDetails)
}

func isNotificationValidationError(err error) bool {
	return errors.Is(err, notificationdomain.ErrUnknownTemplate) ||
		errors.Is(err, notificationdomain.ErrMissingRecipient)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, alertdomain.ErrNotFound),
		errors.Is(err, devicedomain.ErrNotFound),
		errors.Is(err, usagedomain.ErrLimitNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrContactMissing),
		errors.Is(err, notificationdomain.ErrTemplateNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		usagedomain.ErrInvalidClient,
		usagedomain.ErrInvalidSystem,
		usagedomain.ErrInvalidMetric,
		usagedomain.ErrInvalidQuantity,
		usagedomain.ErrInvalidLimit,
		usagedomain.ErrInvalidResetPeriod,
		usagedomain.ErrInvalidDays,
		usagedomain.ErrInvalidRange,
		devicedomain.ErrInvalidID,
		devicedomain.ErrInvalidFingerprint,
		devicedomain.ErrInvalidIP,
		devicedomain.ErrReasonRequired,
		alertdomain.ErrInvalidID,
		alertdomain.ErrInvalidFilter,
		alertdomain.ErrInvalidDetails,
		notificationdomain.ErrUnknownTemplate,
		notificationdomain.ErrMissingRecipient,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "rejection_reason_required":
		return "reason"
	case "missing_recipient":
		return "recipient"
	case "unknown_template":
		return "template"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "rejection_reason_required":
		return "a rejection reason is required"
	case "invalid_reset_period":
		return "reset_period must be one of daily, weekly, monthly, yearly"
	default:
		return "invalid value"
	}
}
