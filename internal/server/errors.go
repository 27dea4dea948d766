package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/attribution/internal/attribution/domain"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	ErrNotFound        = errors.New("not_found")
	ErrRateLimited     = errors.New("rate_limited")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)

const (
	messageConfiguration = "Server configuration error"
	messageUnauthorized  = "Unauthorized"
	messageInvalid       = "Invalid payload"
	messageInternal      = "Internal server error"
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

		status, message := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	}
}

// RecoveryMiddleware answers a panicking handler with the generic 500 body.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.FromContext(c.Request.Context()).Error("panic recovered",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
		)
		_ = c.Error(fmt.Errorf("panic: %v", recovered))
		status, message := mapError(nil)
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	})
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError turns a request error into a status and a client-safe message.
// Anything unrecognised is a generic 500.
func mapError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, messageInternal
	case errors.Is(err, attributiondomain.ErrWebhookSecretMissing):
		return http.StatusInternalServerError, messageConfiguration
	case attributiondomain.IsAuthenticationError(err):
		return http.StatusUnauthorized, messageUnauthorized
	case errors.Is(err, attributiondomain.ErrInvalidPayload):
		return http.StatusBadRequest, messageInvalid
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "Payload too large"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, messageInternal
	}
}

func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, attributiondomain.ErrWebhookSecretMissing):
		return "configuration_error", attributiondomain.ErrWebhookSecretMissing.Error()
	case errors.Is(err, attributiondomain.ErrMissingSignature):
		return "authentication_error", attributiondomain.ErrMissingSignature.Error()
	case errors.Is(err, attributiondomain.ErrInvalidSignature):
		return "authentication_error", attributiondomain.ErrInvalidSignature.Error()
	case errors.Is(err, attributiondomain.ErrInvalidPayload):
		return "validation_error", attributiondomain.ErrInvalidPayload.Error()
	case errors.Is(err, ErrPayloadTooLarge):
		return "validation_error", ErrPayloadTooLarge.Error()
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", ErrRateLimited.Error()
	case errors.Is(err, ErrNotFound):
		return "not_found", ErrNotFound.Error()
	default:
		return "internal_error", "internal_error"
	}
}
