// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response helpers. Every failure goes through
// fail (or failErr for service errors) so error bodies share one envelope and
// 5xx responses are logged with the request-scoped logger.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/http/middleware"
	"github.com/tbourn/go-jobtrack-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with the error envelope. Statuses >= 500 are logged.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// serviceErrors maps service sentinels to (status, code). Messages come from
// the sentinel itself.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrJobNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrGroupNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrMessageNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrNotGroupMember, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrForbiddenMessage, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrInvalidStatus, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrInvalidWorkType, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrInvalidSort, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrMissingField, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrMissingSourceURL, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrEmptyContent, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrTooLong, http.StatusBadRequest, ErrCodeValidation},
	{services.ErrInvalidReaction, http.StatusBadRequest, ErrCodeValidation},
}

// failErr translates a service error. Unknown errors become a 500 whose
// detail stays in the log.
func failErr(c *gin.Context, err error) {
	for _, se := range serviceErrors {
		if errors.Is(err, se.err) {
			fail(c, se.status, se.code, se.err.Error())
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "request timed out")
		return
	}
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
