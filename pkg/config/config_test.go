package config

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	keys := []string{
		"POSTGRES_URL", "ORG_ID", "WORKER_ID", "WORKER_CONCURRENCY",
		"SCHEDULER_TICK_SECONDS", "USE_DISTRIBUTED_GOVERNOR", "REDIS_ADDR",
		"UPSTREAM_BASE_URL", "UPSTREAM_TIMEOUT", "LOG_LEVEL", "LOG_ENCODING",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_RequiresUpstreamBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")

	_, err := Load(false)
	assert.ErrorContains(t, err, "UPSTREAM_BASE_URL")
}

func TestLoad_OrgRequiredWhenFlagSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test")

	_, err := Load(true)
	assert.ErrorContains(t, err, "ORG_ID")

	_, err = Load(false)
	assert.NoError(t, err)
}

func TestLoad_ParsesOrgID(t *testing.T) {
	clearEnv(t)
	orgID := uuid.New()
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test")
	t.Setenv("ORG_ID", orgID.String())

	cfg, err := Load(true)
	require.NoError(t, err)
	assert.Equal(t, orgID, cfg.OrgID)
}

func TestLoad_RejectsMalformedOrgID(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test")
	t.Setenv("ORG_ID", "not-a-uuid")

	_, err := Load(false)
	assert.ErrorContains(t, err, "ORG_ID")
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://localhost/test")
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("SCHEDULER_TICK_SECONDS", "10")
	t.Setenv("USE_DISTRIBUTED_GOVERNOR", "false")

	cfg, err := Load(false)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 10, cfg.SchedulerTickSeconds)
	assert.False(t, cfg.UseDistributedGovernor)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogEncoding)
}

func TestLoad_RequiresPostgresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("UPSTREAM_BASE_URL", "https://example.test")

	_, err := Load(false)
	assert.ErrorContains(t, err, "invalid config")
}
