package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

// errorResponse is the wire shape for every non-2xx response (spec.md
// §7: "a stable error code, human-readable message, optional recovery
// block").
type errorResponse struct {
	Code     apperr.Code      `json:"code"`
	Message  string           `json:"message"`
	Recovery *apperr.Recovery `json:"recovery,omitempty"`
	RetryAfterSeconds *float64 `json:"retry_after_seconds,omitempty"`
}

// writeError maps a service-layer error to its HTTP status and writes
// the structured body, mirroring the teacher's mapServiceError.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		slog.Error("api: unexpected error", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: apperr.CodeStorageError, Message: "internal error"})
		return
	}

	resp := errorResponse{Code: appErr.Code, Message: appErr.Message, Recovery: appErr.Recovery}
	if appErr.RetryAfter > 0 {
		seconds := appErr.RetryAfter.Seconds()
		resp.RetryAfterSeconds = &seconds
		c.Header("Retry-After", appErr.RetryAfter.String())
	}
	c.JSON(statusFor(appErr.Code), resp)
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument, apperr.CodeInvalidIdentifier, apperr.CodeReservedName:
		return http.StatusBadRequest
	case apperr.CodeAuthRequired, apperr.CodeSessionMismatch:
		return http.StatusUnauthorized
	case apperr.CodeNotFound, apperr.CodeNotBound:
		return http.StatusNotFound
	case apperr.CodeBusy:
		return http.StatusTooManyRequests
	case apperr.CodeAgentPaused, apperr.CodeWrongPhase, apperr.CodeMaxRoundsExceeded:
		return http.StatusConflict
	case apperr.CodeDynamicsInstability, apperr.CodeUnsafe, apperr.CodeUnsafeConditions:
		return http.StatusUnprocessableEntity
	case apperr.CodeNoReviewerAvailable, apperr.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
