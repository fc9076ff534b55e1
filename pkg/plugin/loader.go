package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SourceType classifies where a plugin comes from
type SourceType string

const (
	SourceLocal      SourceType = "local"
	SourcePackage    SourceType = "package"
	SourceRemote     SourceType = "remote"
	SourceRepository SourceType = "repository"
)

// ClassifySource determines the source type from its shape
func ClassifySource(source string) SourceType {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return SourceRemote
	case strings.HasPrefix(source, "git+"), strings.HasSuffix(source, ".git"),
		strings.HasPrefix(source, "github.com/"), strings.HasPrefix(source, "gitlab.com/"):
		return SourceRepository
	case strings.HasPrefix(source, "./"), strings.HasPrefix(source, "../"),
		strings.HasPrefix(source, "/"), strings.HasPrefix(source, "~"):
		return SourceLocal
	default:
		return SourcePackage
	}
}

// SourceResolver retrieves package and repository references. It is an
// external collaborator; hosts that never load those source types can
// leave it unset.
type SourceResolver func(ctx context.Context, kind SourceType, source string) (path string, raw []byte, err error)

// Runner executes a code-bearing source in-process and returns the
// descriptor it produces
type Runner func(ctx context.Context, source string, raw []byte) (*Descriptor, error)

// LoaderConfig bounds what the loader will accept
type LoaderConfig struct {
	// AllowedExtensions is the file-extension allow-list enforced
	// before any code-bearing source executes.
	AllowedExtensions []string

	// MaxSourceSize is the maximum raw source size in bytes.
	MaxSourceSize int64

	// HTTPTimeout bounds remote retrievals.
	HTTPTimeout time.Duration

	// WatchStability debounces hot-reload notifications.
	WatchStability time.Duration
}

// DefaultLoaderConfig returns the loader defaults
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		AllowedExtensions: []string{".json", ".so", ".wasm"},
		MaxSourceSize:     8 << 20,
		HTTPTimeout:       30 * time.Second,
		WatchStability:    250 * time.Millisecond,
	}
}

// LoadOptions configure one load
type LoadOptions struct {
	Config map[string]any
	Force  bool

	// Policy, when set, routes execution through the sandbox boundary
	// instead of the in-process runner.
	Policy *SecurityPolicy
}

type loadRecord struct {
	source     string
	sourceType SourceType
	path       string
	options    LoadOptions
	descriptor *Descriptor
	loadedAt   time.Time
}

// Loader resolves plugins from sources, security-gates them, and
// optionally delegates execution to a sandbox. It also owns hot-reload
// watching for file-backed sources. It never calls plugin teardown;
// that is the manager's responsibility.
type Loader struct {
	logger   zerolog.Logger
	config   LoaderConfig
	client   *http.Client
	resolver SourceResolver
	runner   Runner
	sandbox  Sandbox

	mu      sync.Mutex
	records map[string]*loadRecord
	watcher *reloadWatcher
}

// NewLoader creates a loader. resolver, runner and sandbox may be nil;
// loads that need a missing collaborator fail with LoadError.
func NewLoader(logger zerolog.Logger, config LoaderConfig, resolver SourceResolver, runner Runner, sandbox Sandbox) *Loader {
	if config.MaxSourceSize <= 0 {
		config.MaxSourceSize = DefaultLoaderConfig().MaxSourceSize
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = DefaultLoaderConfig().AllowedExtensions
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = DefaultLoaderConfig().HTTPTimeout
	}
	return &Loader{
		logger:   logger.With().Str("component", "plugin-loader").Logger(),
		config:   config,
		client:   &http.Client{Timeout: config.HTTPTimeout},
		resolver: resolver,
		runner:   runner,
		sandbox:  sandbox,
		records:  make(map[string]*loadRecord),
	}
}

// Load resolves a descriptor from a source. The security gate runs
// before any code-bearing source executes.
func (l *Loader) Load(ctx context.Context, source string, opts LoadOptions) (*Descriptor, error) {
	sourceType := ClassifySource(source)

	path, raw, err := l.fetch(ctx, sourceType, source)
	if err != nil {
		return nil, wrapError(CodeLoadError, "", "load", err)
	}

	if err := l.securityGate(path, int64(len(raw))); err != nil {
		return nil, err
	}

	descriptor, err := l.materialize(ctx, path, raw, opts)
	if err != nil {
		return nil, err
	}

	if err := checkMinimalFields(descriptor); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if _, exists := l.records[descriptor.ID]; exists && !opts.Force {
		l.mu.Unlock()
		return nil, newError(CodeLoadError, descriptor.ID, "load", "plugin already loaded (use force to replace)")
	}
	l.records[descriptor.ID] = &loadRecord{
		source:     source,
		sourceType: sourceType,
		path:       path,
		options:    opts,
		descriptor: descriptor,
		loadedAt:   time.Now(),
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("plugin", descriptor.ID).
		Str("version", descriptor.Version).
		Str("source_type", string(sourceType)).
		Msg("Plugin loaded")

	return descriptor, nil
}

// Reload re-loads a plugin from its original source with the force
// flag. The tracking record is only replaced when the re-load
// succeeds; a failed reload keeps the previous record and its watch
// subscriptions, so a later reload can still recover.
func (l *Loader) Reload(ctx context.Context, id string) (*Descriptor, error) {
	l.mu.Lock()
	record, exists := l.records[id]
	l.mu.Unlock()
	if !exists {
		return nil, newError(CodeNotFound, id, "reload", "plugin not loaded")
	}

	opts := record.options
	opts.Force = true

	return l.Load(ctx, record.source, opts)
}

// Unload stops any active watch and drops tracking state. It does not
// call the plugin's own teardown.
func (l *Loader) Unload(id string) error {
	l.mu.Lock()
	_, exists := l.records[id]
	delete(l.records, id)
	watcher := l.watcher
	l.mu.Unlock()

	if !exists {
		return newError(CodeNotFound, id, "unload", "plugin not loaded")
	}
	if watcher != nil {
		watcher.Drop(id)
	}

	l.logger.Debug().Str("plugin", id).Msg("Plugin unloaded")
	return nil
}

// Loaded reports whether a plugin id is tracked by the loader
func (l *Loader) Loaded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, exists := l.records[id]
	return exists
}

// WatchReload subscribes a callback to source changes for a
// file-backed plugin. It returns an unsubscribe function.
func (l *Loader) WatchReload(id string, callback ReloadCallback) (func(), error) {
	l.mu.Lock()
	record, exists := l.records[id]
	if !exists {
		l.mu.Unlock()
		return nil, newError(CodeNotFound, id, "watch", "plugin not loaded")
	}
	if record.sourceType != SourceLocal {
		l.mu.Unlock()
		return nil, newError(CodeLoadError, id, "watch", "only file-backed sources support hot-reload")
	}
	if l.watcher == nil {
		watcher, err := newReloadWatcher(l.logger, l.config.WatchStability)
		if err != nil {
			l.mu.Unlock()
			return nil, wrapError(CodeLoadError, id, "watch", err)
		}
		l.watcher = watcher
	}
	watcher := l.watcher
	path := record.path
	l.mu.Unlock()

	handle, err := watcher.Subscribe(id, path, callback)
	if err != nil {
		return nil, wrapError(CodeLoadError, id, "watch", err)
	}
	return func() { watcher.Unsubscribe(id, handle) }, nil
}

// Close stops the watcher, if one was started
func (l *Loader) Close() error {
	l.mu.Lock()
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if watcher != nil {
		return watcher.Stop()
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, sourceType SourceType, source string) (string, []byte, error) {
	switch sourceType {
	case SourceLocal:
		info, err := os.Stat(source)
		if err != nil {
			return "", nil, fmt.Errorf("failed to stat source: %w", err)
		}
		if info.Size() > l.config.MaxSourceSize {
			return "", nil, fmt.Errorf("source exceeds maximum size (%d > %d bytes)", info.Size(), l.config.MaxSourceSize)
		}
		raw, err := os.ReadFile(source)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read source: %w", err)
		}
		return source, raw, nil

	case SourceRemote:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return "", nil, fmt.Errorf("invalid source URL: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return "", nil, fmt.Errorf("failed to retrieve source: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", nil, fmt.Errorf("failed to retrieve source: status %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, l.config.MaxSourceSize+1))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read source body: %w", err)
		}
		if int64(len(raw)) > l.config.MaxSourceSize {
			return "", nil, fmt.Errorf("source exceeds maximum size (%d bytes)", l.config.MaxSourceSize)
		}
		parsed, err := url.Parse(source)
		if err != nil {
			return "", nil, fmt.Errorf("invalid source URL: %w", err)
		}
		return parsed.Path, raw, nil

	case SourcePackage, SourceRepository:
		if l.resolver == nil {
			return "", nil, fmt.Errorf("no resolver configured for %s sources", sourceType)
		}
		return l.resolver(ctx, sourceType, source)

	default:
		return "", nil, fmt.Errorf("unrecognized source type %q", sourceType)
	}
}

// securityGate enforces the extension allow-list and the size limit
func (l *Loader) securityGate(path string, size int64) error {
	ext := strings.ToLower(filepath.Ext(path))
	allowed := false
	for _, candidate := range l.config.AllowedExtensions {
		if strings.EqualFold(candidate, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return newError(CodeSecurityError, "", "security-gate",
			fmt.Sprintf("file extension %q is not allowed", ext))
	}
	if size > l.config.MaxSourceSize {
		return newError(CodeSecurityError, "", "security-gate",
			fmt.Sprintf("source exceeds maximum size (%d > %d bytes)", size, l.config.MaxSourceSize))
	}
	return nil
}

// materialize turns raw source bytes into a descriptor. Manifest
// sources decode directly; code-bearing sources execute through the
// sandbox when a policy is set, else the in-process runner.
func (l *Loader) materialize(ctx context.Context, path string, raw []byte, opts LoadOptions) (*Descriptor, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return decodeManifest(raw)
	}

	if opts.Policy != nil {
		if l.sandbox == nil {
			return nil, newError(CodeSandboxError, "", "load", "security policy set but no sandbox configured")
		}
		if err := ValidatePolicy(*opts.Policy); err != nil {
			return nil, err
		}
		instance, err := l.sandbox.Create(ctx, *opts.Policy)
		if err != nil {
			return nil, wrapError(CodeSandboxError, "", "load", err)
		}
		defer func() {
			if err := instance.Destroy(ctx); err != nil {
				l.logger.Warn().Err(err).Msg("Failed to destroy sandbox instance")
			}
		}()
		descriptor, err := instance.Execute(ctx, path, raw)
		if err != nil {
			return nil, wrapError(CodeSandboxError, "", "load", err)
		}
		return descriptor, nil
	}

	if l.runner == nil {
		return nil, newError(CodeLoadError, "", "load", "code-bearing source but no runner configured")
	}
	descriptor, err := l.runner(ctx, path, raw)
	if err != nil {
		return nil, wrapError(CodeLoadError, "", "load", err)
	}
	return descriptor, nil
}

// manifestDocument is the JSON shape of a descriptor manifest
type manifestDocument struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Type          string         `json:"type"`
	Priority      string         `json:"priority,omitempty"`
	Description   string         `json:"description,omitempty"`
	Author        string         `json:"author,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Categories    []string       `json:"categories,omitempty"`
	Dependencies  []struct {
		ID      string `json:"id"`
		Version string `json:"version,omitempty"`
	} `json:"dependencies,omitempty"`
	DefaultConfig map[string]any `json:"defaultConfig,omitempty"`
	ConfigSchema  map[string]any `json:"configSchema,omitempty"`
	AutoEnable    bool           `json:"autoEnable,omitempty"`
}

func decodeManifest(raw []byte) (*Descriptor, error) {
	var doc manifestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, wrapError(CodeLoadError, "", "load", fmt.Errorf("failed to parse manifest: %w", err))
	}

	d := &Descriptor{
		ID:            doc.ID,
		Name:          doc.Name,
		Version:       doc.Version,
		Type:          Type(doc.Type),
		Priority:      PriorityLevel(doc.Priority),
		Description:   doc.Description,
		Author:        doc.Author,
		Tags:          doc.Tags,
		Categories:    doc.Categories,
		DefaultConfig: doc.DefaultConfig,
		ConfigSchema:  doc.ConfigSchema,
		AutoEnable:    doc.AutoEnable,
	}
	for _, dep := range doc.Dependencies {
		d.Dependencies = append(d.Dependencies, Dependency{ID: dep.ID, Version: dep.Version})
	}
	return d, nil
}

// checkMinimalFields validates the minimum a loaded descriptor must
// carry before it can go near the registry
func checkMinimalFields(d *Descriptor) error {
	if d == nil {
		return newError(CodeLoadError, "", "load", "source produced no descriptor")
	}
	var missing []string
	if d.ID == "" {
		missing = append(missing, "id")
	}
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.Version == "" {
		missing = append(missing, "version")
	}
	if d.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return newError(CodeLoadError, d.ID, "load",
			fmt.Sprintf("descriptor missing required fields: %s", strings.Join(missing, ", ")))
	}
	return nil
}
