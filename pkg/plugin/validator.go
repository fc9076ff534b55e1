package plugin

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// pluginIDRegex validates plugin ID format (lowercase alphanumeric with hyphens)
	pluginIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// knownHooks maps each plugin type to the hook names it may register.
// Hook names are an open string-keyed namespace; this set is what gets
// enforced at registration time.
var knownHooks = map[Type]map[string]bool{
	TypeServer: hookSet(
		"server:start", "server:stop", "request:before", "request:after",
		"response:before", "response:after",
	),
	TypeClient: hookSet(
		"client:init", "client:teardown", "request:before", "request:after",
	),
	TypeAdapter: hookSet(
		"adapter:connect", "adapter:disconnect", "data:transform",
	),
	TypeMiddleware: hookSet(
		"request:before", "request:after", "response:before", "response:after",
	),
	TypeAuthProvider: hookSet(
		"auth:before-sign-in", "auth:after-sign-in", "auth:before-sign-out",
		"auth:after-sign-out", "auth:before-register", "auth:after-register",
		"session:created", "session:destroyed", "token:issued", "token:revoked",
		"mfa:challenge", "mfa:verified",
	),
	TypeDatabase: hookSet(
		"db:connect", "db:disconnect", "query:before", "query:after",
		"migration:before", "migration:after",
	),
	TypeUIComponent: hookSet(
		"ui:render", "ui:mount", "ui:unmount",
	),
	TypeExtension: hookSet(
		"extension:loaded", "extension:unloaded", "config:changed",
	),
}

func hookSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Validator performs structural, dependency and configuration
// validation of plugin descriptors
type Validator struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewValidator creates a descriptor validator
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{
		logger:       logger.With().Str("component", "plugin-validator").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(DescriptorSchema),
	}
}

// ValidateDescriptor checks the structural rules for a descriptor.
// Failures are classified as InvalidPlugin.
func (v *Validator) ValidateDescriptor(d *Descriptor) error {
	if d == nil {
		return newError(CodeInvalidPlugin, "", "validate", "descriptor is nil")
	}

	if err := v.validateSchema(d); err != nil {
		return wrapError(CodeInvalidPlugin, d.ID, "validate", err)
	}

	if !pluginIDRegex.MatchString(d.ID) {
		return newError(CodeInvalidPlugin, d.ID, "validate",
			fmt.Sprintf("invalid plugin ID %q (must be lowercase alphanumeric with hyphens)", d.ID))
	}

	if _, err := semver.NewVersion(d.Version); err != nil {
		return newError(CodeInvalidPlugin, d.ID, "validate",
			fmt.Sprintf("invalid semver version %q", d.Version))
	}

	if !ValidTypes[d.Type] {
		return newError(CodeInvalidPlugin, d.ID, "validate",
			fmt.Sprintf("unrecognized plugin type %q", d.Type))
	}

	if d.Priority != "" && !d.Priority.Valid() {
		return newError(CodeInvalidPlugin, d.ID, "validate",
			fmt.Sprintf("unrecognized priority %q", d.Priority))
	}

	if err := v.validateHooks(d); err != nil {
		return err
	}

	for i, mw := range d.Middleware {
		if mw.Name == "" {
			return newError(CodeInvalidPlugin, d.ID, "validate",
				fmt.Sprintf("middleware %d: name is required", i))
		}
		if mw.Handler == nil {
			return newError(CodeInvalidPlugin, d.ID, "validate",
				fmt.Sprintf("middleware %q: handler is required", mw.Name))
		}
	}

	for i, dep := range d.Dependencies {
		if err := v.validateDependency(d.ID, i, dep); err != nil {
			return err
		}
	}
	for i, dep := range d.PeerDependencies {
		if err := v.validateDependency(d.ID, i, dep); err != nil {
			return err
		}
	}

	v.logger.Debug().
		Str("plugin", d.ID).
		Str("version", d.Version).
		Str("type", string(d.Type)).
		Msg("Descriptor validated")

	return nil
}

// validateSchema checks the descriptor's serializable projection
// against the JSON schema
func (v *Validator) validateSchema(d *Descriptor) error {
	result, err := gojsonschema.Validate(v.schemaLoader, gojsonschema.NewGoLoader(descriptorDocument(d)))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msg string
		for i, resErr := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += resErr.String()
		}
		return fmt.Errorf("schema validation errors: %s", msg)
	}
	return nil
}

// validateHooks checks declared hook names against the known set for
// the plugin type. Universal plugins may use any known hook name.
func (v *Validator) validateHooks(d *Descriptor) error {
	for name, spec := range d.Hooks {
		if spec.Handler == nil {
			return newError(CodeInvalidPlugin, d.ID, "validate",
				fmt.Sprintf("hook %q: handler is required", name))
		}
		if !hookNameKnown(d.Type, name) {
			return newError(CodeInvalidPlugin, d.ID, "validate",
				fmt.Sprintf("hook %q is not known for plugin type %q", name, d.Type))
		}
	}
	return nil
}

func (v *Validator) validateDependency(pluginID string, index int, dep Dependency) error {
	if dep.ID == "" {
		return newError(CodeInvalidPlugin, pluginID, "validate",
			fmt.Sprintf("dependency %d: id is required", index))
	}
	if dep.Version != "" {
		if _, err := semver.NewConstraint(dep.Version); err != nil {
			return newError(CodeInvalidPlugin, pluginID, "validate",
				fmt.Sprintf("dependency %s: invalid version constraint %q", dep.ID, dep.Version))
		}
	}
	return nil
}

// ValidateConfig validates a merged plugin configuration against the
// descriptor's config schema. Failures are classified as ConfigError.
func (v *Validator) ValidateConfig(d *Descriptor, config map[string]any) error {
	if len(d.ConfigSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(d.ConfigSchema)
	documentLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return wrapError(CodeConfigError, d.ID, "validate-config", err)
	}
	if !result.Valid() {
		var msg string
		for i, resErr := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += resErr.String()
		}
		return newError(CodeConfigError, d.ID, "validate-config", msg)
	}
	return nil
}

// CheckVersionConstraint checks whether a version satisfies a semver
// constraint. An empty constraint always passes.
func CheckVersionConstraint(version, constraint string) error {
	if constraint == "" {
		return nil
	}
	ver, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	if !c.Check(ver) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}
	return nil
}

// hookNameKnown reports whether a hook name is valid for the type.
// Universal plugins accept any name known to any type.
func hookNameKnown(t Type, name string) bool {
	if t == TypeUniversal {
		for _, set := range knownHooks {
			if set[name] {
				return true
			}
		}
		return false
	}
	return knownHooks[t][name]
}

// KnownHookNames returns the sorted hook names valid for a plugin type
func KnownHookNames(t Type) []string {
	var names []string
	if t == TypeUniversal {
		seen := make(map[string]bool)
		for _, set := range knownHooks {
			for name := range set {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
	} else {
		for name := range knownHooks[t] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// descriptorDocument projects a descriptor onto a serializable map for
// schema validation (handler functions are not representable in JSON).
func descriptorDocument(d *Descriptor) map[string]any {
	doc := map[string]any{
		"id":      d.ID,
		"name":    d.Name,
		"version": d.Version,
		"type":    string(d.Type),
	}
	if d.Priority != "" {
		doc["priority"] = string(d.Priority)
	}
	if d.Description != "" {
		doc["description"] = d.Description
	}
	if d.Author != "" {
		doc["author"] = d.Author
	}
	if len(d.Tags) > 0 {
		doc["tags"] = d.Tags
	}
	if len(d.Categories) > 0 {
		doc["categories"] = d.Categories
	}
	if len(d.Dependencies) > 0 {
		doc["dependencies"] = dependencyDocs(d.Dependencies)
	}
	if len(d.PeerDependencies) > 0 {
		doc["peerDependencies"] = dependencyDocs(d.PeerDependencies)
	}
	if len(d.Hooks) > 0 {
		names := make([]any, 0, len(d.Hooks))
		for name := range d.Hooks {
			names = append(names, name)
		}
		doc["hooks"] = names
	}
	if len(d.Middleware) > 0 {
		entries := make([]any, 0, len(d.Middleware))
		for _, mw := range d.Middleware {
			entry := map[string]any{"name": mw.Name}
			if mw.Path != "" {
				entry["path"] = mw.Path
			}
			if len(mw.Methods) > 0 {
				entry["methods"] = mw.Methods
			}
			entry["priority"] = mw.Priority
			entries = append(entries, entry)
		}
		doc["middleware"] = entries
	}
	if len(d.Routes) > 0 {
		entries := make([]any, 0, len(d.Routes))
		for _, route := range d.Routes {
			entries = append(entries, map[string]any{
				"method": route.Method,
				"path":   route.Path,
			})
		}
		doc["routes"] = entries
	}
	return doc
}

func dependencyDocs(deps []Dependency) []any {
	docs := make([]any, 0, len(deps))
	for _, dep := range deps {
		doc := map[string]any{"id": dep.ID}
		if dep.Version != "" {
			doc["version"] = dep.Version
		}
		docs = append(docs, doc)
	}
	return docs
}
