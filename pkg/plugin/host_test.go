package plugin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisauth/pluginhost/internal/config"
)

func newTestHostConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Console = false
	cfg.Logging.File = filepath.Join(t.TempDir(), "host.log")
	cfg.Health.Schedule = ""
	return cfg
}

func newTestHost(t *testing.T, cfg *config.Config) *Host {
	t.Helper()
	host, err := NewHost(cfg, HostCollaborators{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Shutdown(context.Background()) })
	return host
}

func TestNewHost(t *testing.T) {
	t.Run("assembles a manager from configuration", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Plugins = map[string]map[string]any{"alpha": {"mode": "strict"}}
		host := newTestHost(t, cfg)

		require.NoError(t, host.Manager.Register(context.Background(), testDescriptor("alpha")))

		pc, ok := host.Manager.Context("alpha")
		require.True(t, ok)
		assert.Equal(t, "strict", pc.Config["mode"], "per-plugin overrides reach the context")
		assert.FileExists(t, cfg.Logging.File)
		assert.NotNil(t, host.Metrics)
	})

	t.Run("loader limits flow through to loads", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Loader.MaxSourceSize = 16
		host := newTestHost(t, cfg)

		path := writeManifest(t, "audit.json", testManifest)
		_, err := host.Manager.LoadAndRegister(context.Background(), path, LoadOptions{})
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeLoadError))
	})

	t.Run("derives the default sandbox policy", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Sandbox = config.SandboxConfig{
			Capabilities: []string{"filesystem:read", "network"},
			MemoryLimit:  64 << 20,
			CPUBudget:    50,
			Timeout:      10 * time.Second,
		}
		host := newTestHost(t, cfg)

		policy := host.DefaultPolicy()
		assert.Equal(t, []Capability{CapabilityFilesystemRead, CapabilityNetwork}, policy.Capabilities)
		assert.Equal(t, int64(64<<20), policy.MemoryLimit)
	})

	t.Run("rejects an unknown sandbox capability", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Sandbox.Capabilities = []string{"teleport"}

		_, err := NewHost(cfg, HostCollaborators{})
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeSandboxError))
	})

	t.Run("rejects an unknown storage backend", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Storage.Backend = "redis"

		_, err := NewHost(cfg, HostCollaborators{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage backend")
	})

	t.Run("sqlite backend serves context storage", func(t *testing.T) {
		cfg := newTestHostConfig(t)
		cfg.Storage.Backend = "sqlite"
		cfg.Storage.Path = filepath.Join(t.TempDir(), "plugin-storage.db")
		host := newTestHost(t, cfg)

		require.NoError(t, host.Manager.Register(context.Background(), testDescriptor("alpha")))
		pc, ok := host.Manager.Context("alpha")
		require.True(t, ok)

		pc.Storage.Set("cursor", "page-2", 0)
		value, ok := pc.Storage.Get("cursor")
		require.True(t, ok)
		assert.Equal(t, "page-2", value)
	})
}

func TestHost_Shutdown(t *testing.T) {
	cfg := newTestHostConfig(t)
	host, err := NewHost(cfg, HostCollaborators{})
	require.NoError(t, err)

	require.NoError(t, host.Manager.Register(context.Background(), testDescriptor("alpha")))

	require.NoError(t, host.Shutdown(context.Background()))
	assert.Empty(t, host.Manager.List(Filter{}))

	// A second shutdown is a no-op
	require.NoError(t, host.Shutdown(context.Background()))
}
