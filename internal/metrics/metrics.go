// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obs-control-backend/internal/obs"
)

var (
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "obsctl_scheduler_ticks_total",
			Help: "Scheduler ticks run",
		},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "obsctl_scheduler_tick_duration_seconds",
			Help:    "Time spent processing one scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)
	// ScheduleEntries counts entry outcomes: executed, rearmed, failed, deferred.
	ScheduleEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obsctl_schedule_entries_total",
			Help: "Schedule entries processed by outcome",
		},
		[]string{"outcome"},
	)
	SceneSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obsctl_scene_switches_total",
			Help: "Scene switch attempts by trigger and result",
		},
		[]string{"trigger", "result"},
	)
	NoticesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "obsctl_notices_dropped_total",
			Help: "Push notices dropped because the queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(SchedulerTicks, TickDuration, ScheduleEntries, SceneSwitches, NoticesDropped)
}

// Switch triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// ObserveSwitch counts one switch attempt.
func ObserveSwitch(trigger string, err error) {
	SceneSwitches.WithLabelValues(trigger, SwitchResult(err)).Inc()
}

// SwitchResult maps a SwitchScene error to a label value.
func SwitchResult(err error) string {
	if err == nil {
		return "ok"
	}
	var se *obs.SwitchError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "error"
}

// RegisterConnection exports the controller's connection state as one gauge
// per state, set to 1 for the current state. Call it once per process.
func RegisterConnection(status func() obs.Status) {
	for _, state := range []obs.State{obs.StateDisconnected, obs.StateConnecting, obs.StateConnected, obs.StateFaulted} {
		state := state
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "obsctl_obs_connection_state",
				Help:        "1 for the current OBS connection state",
				ConstLabels: prometheus.Labels{"state": string(state)},
			},
			func() float64 {
				if status().State == state {
					return 1
				}
				return 0
			},
		))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
