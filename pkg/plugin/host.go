package plugin

import (
	"context"
	"fmt"

	"github.com/aegisauth/pluginhost/internal/config"
	"github.com/aegisauth/pluginhost/internal/logger"
	"github.com/aegisauth/pluginhost/internal/metrics"
)

// Host assembles a plugin manager from host configuration: the
// redacting logger, metrics registry, storage backend, loader, and
// every component default derive from one config.Config.
type Host struct {
	Manager *Manager
	Metrics *metrics.Metrics
	Log     *logger.Logger

	policy  SecurityPolicy
	sqlite  *SQLiteBackend
	running bool
}

// HostCollaborators are the external pieces a host cannot build from
// configuration alone. All fields are optional.
type HostCollaborators struct {
	// Collaborators are injected into every plugin context.
	Collaborators Collaborators

	// Resolver materializes package and repository source references.
	Resolver SourceResolver

	// Runner executes in-process code-bearing sources.
	Runner Runner

	// Sandbox executes sources under a security policy.
	Sandbox Sandbox
}

// NewHost builds the full plugin host from configuration. The health
// sweep starts immediately when the config carries a schedule.
func NewHost(cfg *config.Config, collab HostCollaborators) (*Host, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zlog := log.GetZerolog()

	policy, err := sandboxPolicy(cfg.Sandbox)
	if err != nil {
		log.Close()
		return nil, err
	}

	var (
		backend StorageBackend
		sqlite  *SQLiteBackend
	)
	switch cfg.Storage.Backend {
	case "", "memory":
	case "sqlite":
		sqlite, err = NewSQLiteBackend(cfg.Storage.Path)
		if err != nil {
			log.Close()
			return nil, err
		}
		backend = sqlite
	default:
		log.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	loader := NewLoader(zlog, LoaderConfig{
		AllowedExtensions: cfg.Loader.AllowedExtensions,
		MaxSourceSize:     cfg.Loader.MaxSourceSize,
		HTTPTimeout:       cfg.Loader.HTTPTimeout,
		WatchStability:    cfg.Loader.WatchStability,
	}, collab.Resolver, collab.Runner, collab.Sandbox)

	m := metrics.NewMetrics()

	thresholds := HealthThresholds{
		MaxErrorCount:  cfg.Health.MaxErrorCount,
		MaxMemoryBytes: cfg.Health.MaxMemoryBytes,
		MaxCPUPercent:  cfg.Health.MaxCPUPercent,
		StaleAfter:     DefaultHealthThresholds().StaleAfter,
	}

	manager, err := NewManager(zlog, ManagerConfig{
		Loader:        loader,
		Metrics:       m,
		Collaborators: collab.Collaborators,
		Storage:       backend,
		HookDefaults: HookDefaults{
			Timeout:    cfg.Hooks.DefaultTimeout,
			MaxRetries: cfg.Hooks.MaxRetries,
			BackoffCap: cfg.Hooks.BackoffCap,
		},
		Health: HealthConfig{
			Schedule:   cfg.Health.Schedule,
			Debounce:   cfg.Health.Debounce,
			Thresholds: thresholds,
		},
		PluginConfigs: cfg.Plugins,
	})
	if err != nil {
		if sqlite != nil {
			sqlite.Close()
		}
		log.Close()
		return nil, err
	}

	return &Host{
		Manager: manager,
		Metrics: m,
		Log:     log,
		policy:  policy,
		sqlite:  sqlite,
		running: true,
	}, nil
}

// DefaultPolicy returns the sandbox policy derived from host
// configuration, for use as LoadOptions.Policy.
func (h *Host) DefaultPolicy() SecurityPolicy {
	return h.policy
}

// Shutdown destroys the manager and releases host-owned resources
func (h *Host) Shutdown(ctx context.Context) error {
	if !h.running {
		return nil
	}
	h.running = false

	err := h.Manager.Destroy(ctx)
	if h.sqlite != nil {
		if cerr := h.sqlite.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if cerr := h.Log.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// sandboxPolicy translates the config section into a validated policy
func sandboxPolicy(cfg config.SandboxConfig) (SecurityPolicy, error) {
	capabilities := make([]Capability, 0, len(cfg.Capabilities))
	for _, name := range cfg.Capabilities {
		capabilities = append(capabilities, Capability(name))
	}
	policy := SecurityPolicy{
		Capabilities: capabilities,
		MemoryLimit:  cfg.MemoryLimit,
		CPUBudget:    cfg.CPUBudget,
		Timeout:      cfg.Timeout,
	}
	if err := ValidatePolicy(policy); err != nil {
		return SecurityPolicy{}, err
	}
	return policy, nil
}
