package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergate/browsergate/internal/config"
)

func TestDefaults(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Equal(t, time.Hour, cfg.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.CommandTimeout)
	assert.Equal(t, int64(5242880), cfg.ArtifactMaxBytes)
	assert.False(t, cfg.PoolEnabled)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "chromium", cfg.Browser)
	assert.Equal(t, "omit", cfg.HARContent)
	assert.True(t, cfg.CloseOnDisconn)
	assert.True(t, cfg.EventStreamEnabled)
	assert.False(t, cfg.ConsoleStreamEnabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("WS_PORT", "4100")
	t.Setenv("WS_MAX_SESSIONS", "3")
	t.Setenv("WS_SESSION_TIMEOUT", "120")
	t.Setenv("WS_ARTIFACT_MAX_BYTES", "1024")
	t.Setenv("BROWSER_POOL_ENABLED", "true")
	t.Setenv("BROWSER_POOL_SIZE", "2")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, int64(1024), cfg.ArtifactMaxBytes)
	assert.True(t, cfg.PoolEnabled)
	assert.Equal(t, 2, cfg.PoolSize)
}

func TestAuthRequiresToken(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("ACCESS_TOKEN", "")
	t.Setenv("WS_AUTH_TOKEN", "")

	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("ACCESS_TOKEN", "secret")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.AuthToken)
}

func TestWSTokenWinsOverAccessToken(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("ACCESS_TOKEN", "shared")
	t.Setenv("WS_AUTH_TOKEN", "ws-specific")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "ws-specific", cfg.AuthToken)
}

func TestVideoRecordingDisablesPool(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("BROWSER_POOL_ENABLED", "true")
	t.Setenv("PLAYWRIGHT_VIDEO_DIR", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.PoolEnabled)
}

func TestInvalidMaxSessions(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "false")
	t.Setenv("WS_MAX_SESSIONS", "0")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestArtifactHTTPAuthFollowsGateway(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("ACCESS_TOKEN", "secret")
	t.Setenv("ARTIFACT_HTTP_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.ArtifactHTTPAuthRequired)

	t.Setenv("ARTIFACT_HTTP_AUTH_REQUIRED", "false")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.ArtifactHTTPAuthRequired)
}
