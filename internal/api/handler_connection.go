package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetConnection returns the cached connection status.
func (h *Handler) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.obs.Status())
}

type connectRequest struct {
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	Password string      `json:"password"`
}

// Connect opens the OBS session. Omitted fields fall back to configuration.
func (h *Handler) Connect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}

	host, port, password := req.Host, req.Port.String(), req.Password
	if host == "" {
		host = h.obsCfg.Host
	}
	if port == "" && h.obsCfg.Port != 0 {
		port = strconv.Itoa(h.obsCfg.Port)
	}
	if password == "" {
		password = h.obsCfg.Password
	}

	if err := h.obs.Connect(c.Request.Context(), host, port, password); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.obs.Status())
}

// Disconnect closes the OBS session; it always succeeds.
func (h *Handler) Disconnect(c *gin.Context) {
	h.obs.Disconnect()
	c.Status(http.StatusNoContent)
}
