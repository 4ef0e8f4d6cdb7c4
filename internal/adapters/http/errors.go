package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// statusOf maps the error taxonomy onto HTTP status codes and wire codes.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, domain.ErrInvalidMessage),
		errors.Is(err, domain.ErrSessionIDEmpty),
		errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrIDTooLong):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusOf(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.AbortWithStatusJSON(status, gin.H{"type": "error", "error": code})
}

// invalidFields lists "field:tag" for every failed binding rule.
func invalidFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+":"+fe.Tag())
	}
	return out
}

func badPayload(c *gin.Context, err error) {
	body := gin.H{"type": "error", "error": "bad_payload"}
	if fields := invalidFields(err); fields != nil {
		body["fields"] = fields
	} else {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
