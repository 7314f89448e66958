package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 1, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 20, cfg.MaxQueries)
	assert.Equal(t, 3, cfg.MaxQueriesPerUser)
	assert.Equal(t, 120*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 900*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 60, cfg.RateLimitMax)
}

func TestLoadServerConfigEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("COSTQ_MAX_CONNECTIONS", "250")
	t.Setenv("COSTQ_HEARTBEAT_TIMEOUT", "30")
	t.Setenv("COSTQ_IDLE_TIMEOUT", "10m")

	cfg := LoadServerConfig()

	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, 250, cfg.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout, "bare integers are seconds")
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
}

func TestLoadServerConfigInvalidValues(t *testing.T) {
	t.Setenv("ENV", "banana")
	t.Setenv("COSTQ_MAX_QUERIES", "-5")
	t.Setenv("COSTQ_REAPER_INTERVAL", "soon")

	cfg := LoadServerConfig()

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 20, cfg.MaxQueries)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval)
}
