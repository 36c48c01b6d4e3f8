package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"obs-control-backend/internal/obs"
)

func TestSwitchResult(t *testing.T) {
	assert.Equal(t, "ok", SwitchResult(nil))
	assert.Equal(t, "not_connected", SwitchResult(&obs.SwitchError{Kind: obs.SwitchNotConnected}))
	assert.Equal(t, "rejected", SwitchResult(&obs.SwitchError{Kind: obs.SwitchRejected}))
	assert.Equal(t, "error", SwitchResult(errors.New("boom")))
}

func TestObserveSwitch(t *testing.T) {
	before := testutil.ToFloat64(SceneSwitches.WithLabelValues(TriggerManual, "timeout"))
	ObserveSwitch(TriggerManual, &obs.SwitchError{Kind: obs.SwitchTimeout})
	assert.Equal(t, before+1, testutil.ToFloat64(SceneSwitches.WithLabelValues(TriggerManual, "timeout")))
}
