package server

import (
	"encoding/json"
	"errors"
	"espdesk/internal/orchestrator"
	"espdesk/pkg/esp"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var apiErr *esp.APIError

	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrConflict), errors.Is(err, orchestrator.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, esp.ErrUnsupported):
		return http.StatusNotImplemented
	case esp.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...}. Provider errors also carry the
// provider's own response body.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.Error(err)

	body := gin.H{"error": err.Error()}

	var apiErr *esp.APIError
	if errors.As(err, &apiErr) && json.Valid(apiErr.Body) {
		body["provider_response"] = json.RawMessage(apiErr.Body)
	}

	c.JSON(status, body)
}
