package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "release", cfg.Mode)
	require.Equal(t, "ws://localhost:8080/ws/signal", cfg.RelayURL)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.STUNServers)
	require.Equal(t, 10*time.Second, cfg.DialTimeout)
	require.Equal(t, 2*time.Second, cfg.BackoffBase)
	require.Equal(t, 5, cfg.BackoffCap)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 262144, cfg.QueueBytes)
	require.Equal(t, 2*time.Second, cfg.SettleDelay)
	require.Equal(t, 3*time.Second, cfg.RetryDelay)
	require.Equal(t, "chat", cfg.ChatLabel)
	require.Equal(t, 8080, cfg.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("mode: debug\nrelay_url: ws://relay.internal/ws/signal\nsettle_delay: 500ms\nmax_attempts: 9\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.dev.yaml"), yaml, 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, "ws://relay.internal/ws/signal", cfg.RelayURL)
	require.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	require.Equal(t, 9, cfg.MaxAttempts)
	// Untouched keys keep their defaults.
	require.Equal(t, 5, cfg.BackoffCap)
	require.Equal(t, "chat", cfg.ChatLabel)
}
