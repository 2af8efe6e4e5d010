package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 3, c.Lanes.ReportConcurrency)
	assert.Equal(t, 3, c.Lanes.ReportMaxAttempts)
	assert.Equal(t, 2, c.Lanes.FileConcurrency)
	assert.Equal(t, 2, c.Lanes.FileMaxAttempts)
	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, 50, c.Store.HeartbeatKeep)
	assert.Equal(t, []string{"static"}, c.Provider.Backends)
	assert.InDelta(t, 0.8, c.Quality.Threshold, 1e-9)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("Lane_ReportConcurrency", "5")
	t.Setenv("Lane_ReportBaseBackoff", "250ms")
	t.Setenv("Provider_Backends", "anthropic,openai")
	t.Setenv("Store_Driver", "redis")
	t.Setenv("Redis_Address", "redis:6380")

	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 5, c.Lanes.ReportConcurrency)
	assert.Equal(t, 250*time.Millisecond, c.Lanes.ReportBaseBackoff)
	assert.Equal(t, []string{"anthropic", "openai"}, c.Provider.Backends)
	assert.Equal(t, "redis", c.Store.Driver)
	assert.Equal(t, "redis:6380", c.Redis.Addr)
}
