package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shotforge/internal/infra"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := &infra.Config{
		PollInitialDelay:       time.Second,
		PollProcessingInterval: 2 * time.Second,
		PollPendingInterval:    4 * time.Second,
		PollMaxAttempts:        10,
		BatchGroupSize:         0,
		BatchMaxInFlight:       6,
		FanOutPolicy:           "REQUIRE_ALL",
	}
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, RequireAll, opts.FanOutPolicy)
	assert.Equal(t, 10, opts.MaxPolls)
	assert.Equal(t, 6, opts.MaxInFlight)
	assert.Equal(t, 3, opts.GroupSize, "zero falls back to the default group size")
	assert.Equal(t, 8*time.Second, opts.TransientBackoff, "backoff defaults to twice the pending interval")

	_, err = OptionsFromConfig(&infra.Config{FanOutPolicy: "sometimes"})
	assert.Error(t, err)
}
