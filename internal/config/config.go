package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the gateway's runtime configuration, read from the environment
// (a .env file is loaded by cmd/server before this runs).
type Config struct {
	Host string
	Port int

	AuthRequired bool
	AuthToken    string

	MaxSessions     int
	IdleTimeout     time.Duration
	CommandTimeout  time.Duration
	SweepInterval   time.Duration
	CloseOnDisconn  bool
	ConsoleLogLimit int

	EventStreamEnabled   bool
	ConsoleStreamEnabled bool

	WorkspaceRoot    string
	ArtifactRoot     string
	ArtifactMaxBytes int64

	PoolEnabled bool
	PoolSize    int

	HAREnabled bool
	HARContent string

	ArtifactHTTPEnabled      bool
	ArtifactHTTPHost         string
	ArtifactHTTPPort         int
	ArtifactHTTPAuthRequired bool

	Browser            string
	Headless           bool
	ChromiumChannel    string
	ChromiumExecutable string
	VideoDir           string

	RateLimitPerHour int
	RateBurst        int
}

// Load reads configuration from the environment, applying the defaults the
// service has always shipped with.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                 envStr("WS_HOST", "0.0.0.0"),
		Port:                 envInt("WS_PORT", 3000),
		AuthRequired:         envBool("AUTH_REQUIRED", true),
		AuthToken:            resolveToken(),
		MaxSessions:          envInt("WS_MAX_SESSIONS", 10),
		IdleTimeout:          time.Duration(envInt("WS_SESSION_TIMEOUT", 3600)) * time.Second,
		CommandTimeout:       time.Duration(envInt("WS_COMMAND_TIMEOUT", 60)) * time.Second,
		SweepInterval:        time.Duration(envInt("WS_SWEEP_INTERVAL", 60)) * time.Second,
		CloseOnDisconn:       envBool("WS_CLOSE_ON_DISCONNECT", true),
		ConsoleLogLimit:      envInt("WS_CONSOLE_LOG_LIMIT", 1000),
		EventStreamEnabled:   envBool("WS_EVENT_STREAM_ENABLED", true),
		ConsoleStreamEnabled: envBool("WS_CONSOLE_STREAM_ENABLED", false),
		WorkspaceRoot:        envStr("WS_WORKSPACE_ROOT", "/workspaces"),
		ArtifactRoot:         envStr("WS_ARTIFACT_ROOT", "/screenshots"),
		ArtifactMaxBytes:     int64(envInt("WS_ARTIFACT_MAX_BYTES", 5242880)),
		PoolEnabled:          envBool("BROWSER_POOL_ENABLED", false),
		PoolSize:             envInt("BROWSER_POOL_SIZE", 4),
		HAREnabled:           envBool("WS_HAR_ENABLED", false),
		HARContent:           envStr("WS_HAR_CONTENT", "omit"),
		ArtifactHTTPEnabled:  envBool("ARTIFACT_HTTP_ENABLED", false),
		ArtifactHTTPHost:     envStr("ARTIFACT_HTTP_HOST", "0.0.0.0"),
		ArtifactHTTPPort:     envInt("ARTIFACT_HTTP_PORT", 8090),
		Browser:              envStr("PLAYWRIGHT_BROWSER", "chromium"),
		Headless:             envBool("PLAYWRIGHT_HEADLESS", true),
		ChromiumChannel:      envStr("PLAYWRIGHT_CHROMIUM_CHANNEL", ""),
		ChromiumExecutable:   envStr("PLAYWRIGHT_CHROMIUM_EXECUTABLE", ""),
		VideoDir:             envStr("PLAYWRIGHT_VIDEO_DIR", ""),
		RateLimitPerHour:     envInt("WS_RATE_LIMIT", 0),
		RateBurst:            envInt("WS_RATE_BURST", 10),
	}

	// Artifact HTTP auth follows the gateway's auth setting unless overridden.
	cfg.ArtifactHTTPAuthRequired = envBool("ARTIFACT_HTTP_AUTH_REQUIRED", cfg.AuthRequired)

	if cfg.AuthRequired && cfg.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_REQUIRED=true but no ACCESS_TOKEN/WS_AUTH_TOKEN provided")
	}
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("WS_MAX_SESSIONS must be at least 1")
	}

	// Video recording requires a dedicated context per session, so pooling
	// cannot be honored alongside it.
	if cfg.PoolEnabled && cfg.VideoDir != "" {
		cfg.PoolEnabled = false
	}

	return cfg, nil
}

// resolveToken prefers the WebSocket-specific token over the shared access
// token.
func resolveToken() string {
	if t := os.Getenv("WS_AUTH_TOKEN"); t != "" {
		return t
	}
	return os.Getenv("ACCESS_TOKEN")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
