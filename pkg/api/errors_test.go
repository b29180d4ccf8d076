package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   apperr.Code
		expect int
	}{
		{"invalid argument maps to 400", apperr.CodeInvalidArgument, http.StatusBadRequest},
		{"invalid identifier maps to 400", apperr.CodeInvalidIdentifier, http.StatusBadRequest},
		{"reserved name maps to 400", apperr.CodeReservedName, http.StatusBadRequest},
		{"auth required maps to 401", apperr.CodeAuthRequired, http.StatusUnauthorized},
		{"session mismatch maps to 401", apperr.CodeSessionMismatch, http.StatusUnauthorized},
		{"not found maps to 404", apperr.CodeNotFound, http.StatusNotFound},
		{"not bound maps to 404", apperr.CodeNotBound, http.StatusNotFound},
		{"busy maps to 429", apperr.CodeBusy, http.StatusTooManyRequests},
		{"agent paused maps to 409", apperr.CodeAgentPaused, http.StatusConflict},
		{"wrong phase maps to 409", apperr.CodeWrongPhase, http.StatusConflict},
		{"max rounds exceeded maps to 409", apperr.CodeMaxRoundsExceeded, http.StatusConflict},
		{"dynamics instability maps to 422", apperr.CodeDynamicsInstability, http.StatusUnprocessableEntity},
		{"unsafe maps to 422", apperr.CodeUnsafe, http.StatusUnprocessableEntity},
		{"unsafe conditions maps to 422", apperr.CodeUnsafeConditions, http.StatusUnprocessableEntity},
		{"no reviewer available maps to 503", apperr.CodeNoReviewerAvailable, http.StatusServiceUnavailable},
		{"service unavailable maps to 503", apperr.CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"storage error maps to 500", apperr.CodeStorageError, http.StatusInternalServerError},
		{"unknown code maps to 500", apperr.Code("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, statusFor(tt.code))
		})
	}
}
