package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"obs-control-backend/internal/model"
	"obs-control-backend/internal/store"
)

// Accepted layouts for times typed without a zone; they are read in the
// configured location.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// ListSchedules returns pending entries, soonest first.
func (h *Handler) ListSchedules(c *gin.Context) {
	entries, err := h.store.ListUpcoming(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type createScheduleRequest struct {
	SceneName   string `json:"scene_name" binding:"required"`
	ScheduledAt string `json:"scheduled_at" binding:"required"`
	// RepeatDays is the number of daily occurrences including the first; 0 fires once.
	RepeatDays int    `json:"repeat_days"`
	Notes      string `json:"notes"`
	MediaID    *int64 `json:"media_id"`
}

// CreateSchedule submits a new entry. The scene is not checked against OBS,
// which may not be connected yet.
func (h *Handler) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "scene_name and scheduled_at are required")
		return
	}
	at, err := parseTime(req.ScheduledAt, h.loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	entry := &model.ScheduleEntry{
		SceneName:       req.SceneName,
		ScheduledAt:     at,
		RepeatRemaining: req.RepeatDays,
		Notes:           req.Notes,
		MediaID:         req.MediaID,
	}
	if _, err := h.store.CreateEntry(c.Request.Context(), entry); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// CancelSchedule removes an entry that has not fired yet.
func (h *Handler) CancelSchedule(c *gin.Context) {
	id := c.Param("id")
	err := h.store.CancelEntry(c.Request.Context(), id)
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if store.IsKind(err, store.KindNotFound) {
		if entry, getErr := h.store.GetEntry(c.Request.Context(), id); getErr == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("entry %s is already %s", id, entry.Status),
				"kind":  "not_pending",
			})
			return
		}
	}
	writeError(c, err)
}
