package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status, kind := http.StatusInternalServerError, "internal"

	var ce *obs.ConnectError
	var se *obs.SwitchError
	var st *store.StoreError
	switch {
	case errors.As(err, &ce):
		kind = string(ce.Kind)
		switch ce.Kind {
		case obs.ConnectInvalidInput:
			status = http.StatusBadRequest
		case obs.ConnectAuthRejected:
			status = http.StatusUnauthorized
		case obs.ConnectTimeout:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusBadGateway
		}
	case errors.As(err, &se):
		kind = string(se.Kind)
		switch se.Kind {
		case obs.SwitchNotConnected:
			status = http.StatusServiceUnavailable
		case obs.SwitchTimeout:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusUnprocessableEntity
		}
	case errors.Is(err, store.ErrInvalidEntry):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.As(err, &st):
		kind = string(st.Kind)
		switch st.Kind {
		case store.KindNotFound:
			status = http.StatusNotFound
		case store.KindConstraint:
			status = http.StatusConflict
		}
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "invalid_input"})
}
