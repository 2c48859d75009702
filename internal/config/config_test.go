package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_NoFileGivesDefaults(t *testing.T) {
	t.Setenv("AGENT_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	path := writeConfig(t, `
agent:
  backend: gateway
  max_cycles: 3
gateway:
  url: ws://localhost:9000/agent
  request_timeout: 2s
planner:
  min_iterations: 5000
executor:
  move_unit_cap: 300
cache:
  enabled: true
  redis_url: localhost:6379
  default_ttl: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGateway, cfg.Agent.Backend)
	assert.Equal(t, 3, cfg.Agent.MaxCycles)
	assert.Equal(t, 2*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 5000, cfg.Planner.MinIterations)
	assert.Equal(t, 100, cfg.Planner.IterationsPerBlock, "незаданные поля остаются по умолчанию")
	assert.Equal(t, 300, cfg.Executor.MoveUnitCap)
	assert.Equal(t, int32(2), cfg.Executor.DriftTolerance)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisURL)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 3, cfg.Physics.MaxJumps)
}

func TestLoad_FromEnv(t *testing.T) {
	path := writeConfig(t, "sim:\n  seed: 42\n")
	t.Setenv("AGENT_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Sim.Seed)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"gateway без url":    "agent:\n  backend: gateway\n",
		"неизвестный бэкенд": "agent:\n  backend: chain\n",
		"partial > 1":        "planner:\n  partial_progress: 1.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(writeConfig(t, "agent: [unclosed"))
	assert.Error(t, err)
}

func TestServerConfig_PortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("AGENT_REST_PORT", "")
	assert.Equal(t, 8088, s.GetRESTPort())

	t.Setenv("AGENT_REST_PORT", "9099")
	assert.Equal(t, 9099, s.GetRESTPort())

	s.RESTPort = 7000
	assert.Equal(t, 7000, s.GetRESTPort())
}
