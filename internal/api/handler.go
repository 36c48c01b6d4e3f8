package api

import (
	"context"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"obs-control-backend/config"
	"obs-control-backend/internal/obs"
	"obs-control-backend/internal/store"
)

// Controller is the part of *obs.Controller the HTTP surface uses.
type Controller interface {
	Connect(ctx context.Context, host, port, password string) error
	Disconnect()
	ListScenes(ctx context.Context) []string
	CurrentScene(ctx context.Context) (string, bool)
	SwitchScene(ctx context.Context, name string, opts ...obs.SwitchOption) error
	Status() obs.Status
}

// Options carries the optional handler dependencies.
type Options struct {
	Webpush *webpush.Options
	// OBS supplies connection defaults for fields a connect request omits.
	OBS config.OBSConfig
	// Location interprets schedule and report times given without a zone.
	Location *time.Location
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	obs     Controller
	webpush *webpush.Options
	obsCfg  config.OBSConfig
	loc     *time.Location
	events  *Hub
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, ctrl Controller, opts Options) *Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		store:   s,
		obs:     ctrl,
		webpush: opts.Webpush,
		obsCfg:  opts.OBS,
		loc:     loc,
		events:  NewHub(),
	}
}

// Events returns the live scene-change feed; register it on the controller.
func (h *Handler) Events() *Hub {
	return h.events
}

// Health reports liveness and the OBS connection state.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "obsctld",
		"obs":     h.obs.Status().State,
	})
}
