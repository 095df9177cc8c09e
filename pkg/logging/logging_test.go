package logging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_DefaultsToInfoAndJSON(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_ENCODING", "")

	logger, err := New()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_DebugLevelEnablesDebugLogs(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	logger, err := New()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_WarnLevelDisablesInfoLogs(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	logger, err := New()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestForOrg_BindsOrgIDField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)
	orgID := uuid.New()

	scoped := ForOrg(base, orgID)
	scoped.Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, orgID.String(), entries[0].ContextMap()["org_id"])
}
