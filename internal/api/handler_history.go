package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"obs-control-backend/internal/model"
	"obs-control-backend/internal/store"
)

type historyItem struct {
	ID              int64               `json:"id"`
	SceneName       string              `json:"scene_name"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         *time.Time          `json:"end_time"`
	DurationSeconds *int64              `json:"duration_seconds"`
	Status          model.HistoryStatus `json:"status"`
	ScheduleID      *string             `json:"schedule_id,omitempty"`
	MediaID         *int64              `json:"media_id,omitempty"`
	MediaName       string              `json:"media_name,omitempty"`
	ClientName      string              `json:"client_name,omitempty"`
	AgencyName      string              `json:"agency_name,omitempty"`
}

func toHistoryItem(r model.HistoryRecord) historyItem {
	item := historyItem{
		ID:              r.ID,
		SceneName:       r.SceneName,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.DurationSeconds,
		Status:          r.Status,
		ScheduleID:      r.ScheduleID,
		MediaID:         r.MediaID,
	}
	if m := r.Media; m != nil {
		item.MediaName = m.Name
		if cl := m.Client; cl != nil {
			item.ClientName = cl.Name
			if ag := cl.Agency; ag != nil {
				item.AgencyName = ag.Name
			}
		}
	}
	return item
}

// parseBound reads a report bound. A bare date used as the upper bound
// includes that whole day.
func parseBound(s string, loc *time.Location, upper bool) (time.Time, error) {
	if d, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		if upper {
			return d.AddDate(0, 0, 1), nil
		}
		return d, nil
	}
	return parseTime(s, loc)
}

func parseIDParam(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return nil, false
	}
	return &id, true
}

// ListHistory returns aired records for a date range and optional client,
// agency or media filter.
func (h *Handler) ListHistory(c *gin.Context) {
	var filter store.HistoryFilter
	var err error

	if from := c.Query("from"); from != "" {
		if filter.From, err = parseBound(from, h.loc, false); err != nil {
			badRequest(c, "invalid from: "+err.Error())
			return
		}
	}
	if to := c.Query("to"); to != "" {
		if filter.To, err = parseBound(to, h.loc, true); err != nil {
			badRequest(c, "invalid to: "+err.Error())
			return
		}
	}

	var ok bool
	if filter.ClientID, ok = parseIDParam(c, "client_id"); !ok {
		return
	}
	if filter.AgencyID, ok = parseIDParam(c, "agency_id"); !ok {
		return
	}
	if filter.MediaID, ok = parseIDParam(c, "media_id"); !ok {
		return
	}

	records, err := h.store.ListHistory(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, r := range records {
		items = append(items, toHistoryItem(r))
	}
	c.JSON(http.StatusOK, items)
}
