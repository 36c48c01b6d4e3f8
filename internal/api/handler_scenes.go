package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"obs-control-backend/internal/metrics"
	"obs-control-backend/internal/obs"
)

// GetScenes returns the scene list and program scene. By default it answers
// from the cached status; refresh=true queries OBS first.
func (h *Handler) GetScenes(c *gin.Context) {
	if c.Query("refresh") == "true" {
		scenes := h.obs.ListScenes(c.Request.Context())
		current, _ := h.obs.CurrentScene(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"state":         h.obs.Status().State,
			"current_scene": current,
			"scenes":        scenes,
		})
		return
	}

	st := h.obs.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":         st.State,
		"current_scene": st.CurrentScene,
		"scenes":        st.Scenes,
	})
}

type switchSceneRequest struct {
	Scene   string `json:"scene" binding:"required"`
	MediaID *int64 `json:"media_id"`
}

// SwitchScene performs a manual switch.
func (h *Handler) SwitchScene(c *gin.Context) {
	var req switchSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "scene is required")
		return
	}

	err := h.obs.SwitchScene(c.Request.Context(), req.Scene, obs.WithMedia(req.MediaID))
	metrics.ObserveSwitch(metrics.TriggerManual, err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_scene": req.Scene})
}
