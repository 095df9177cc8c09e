package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnv(t *testing.T) {
	t.Setenv("FILLSYNC_TEST_ENV", "set")
	assert.Equal(t, "set", Env("FILLSYNC_TEST_ENV", "default"))

	t.Setenv("FILLSYNC_TEST_ENV_UNSET", "")
	assert.Equal(t, "default", Env("FILLSYNC_TEST_ENV_UNSET", "default"))
}

func TestEnvInt(t *testing.T) {
	t.Setenv("FILLSYNC_TEST_INT", "42")
	assert.Equal(t, 42, EnvInt("FILLSYNC_TEST_INT", 7))

	t.Setenv("FILLSYNC_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, EnvInt("FILLSYNC_TEST_INT_BAD", 7))

	t.Setenv("FILLSYNC_TEST_INT_NEG", "-1")
	assert.Equal(t, 7, EnvInt("FILLSYNC_TEST_INT_NEG", 7), "non-positive values fall back to the default")

	assert.Equal(t, 7, EnvInt("FILLSYNC_TEST_INT_MISSING", 7))
}

func TestEnvInt64(t *testing.T) {
	t.Setenv("FILLSYNC_TEST_INT64", "9000000000")
	assert.Equal(t, int64(9000000000), EnvInt64("FILLSYNC_TEST_INT64", 1))

	assert.Equal(t, int64(1), EnvInt64("FILLSYNC_TEST_INT64_MISSING", 1))
}

func TestEnvBool(t *testing.T) {
	t.Setenv("FILLSYNC_TEST_BOOL", "true")
	assert.True(t, EnvBool("FILLSYNC_TEST_BOOL", false))

	t.Setenv("FILLSYNC_TEST_BOOL_FALSE", "0")
	assert.False(t, EnvBool("FILLSYNC_TEST_BOOL_FALSE", true))

	t.Setenv("FILLSYNC_TEST_BOOL_BAD", "maybe")
	assert.True(t, EnvBool("FILLSYNC_TEST_BOOL_BAD", true))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("FILLSYNC_TEST_DURATION", "30s")
	assert.Equal(t, 30*time.Second, EnvDuration("FILLSYNC_TEST_DURATION", time.Minute))

	t.Setenv("FILLSYNC_TEST_DURATION_BAD", "soon")
	assert.Equal(t, time.Minute, EnvDuration("FILLSYNC_TEST_DURATION_BAD", time.Minute))
}
