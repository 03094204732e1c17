package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	require.NotPanics(t, func() {
		IncStart("api")
		IncRestart("api")
		IncStop("api")
		IncCrash("api")
		SetBackoff("api", 1.0)
		SetRunningInstances("api", 1)
		RecordStateTransition("api", "Stopped", "Starting")
		SetCurrentState("api", "Running", true)
	})
}
