package plugin

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHook(_ context.Context, data any) (any, error) {
	return data, nil
}

func noopMiddleware(ctx context.Context, _ *Request, _ *Response, next Next) error {
	return next(ctx)
}

func TestValidator_ValidateDescriptor(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	validator := NewValidator(logger)

	t.Run("accepts a complete descriptor", func(t *testing.T) {
		d := &Descriptor{
			ID:       "session-guard",
			Name:     "Session Guard",
			Version:  "1.2.3",
			Type:     TypeAuthProvider,
			Priority: PriorityHigh,
			Hooks: map[string]HookSpec{
				"auth:before-sign-in": {Handler: noopHook},
				"session:created":     {Handler: noopHook},
			},
			Middleware: []MiddlewareSpec{
				{Name: "guard", Path: "/api/**", Handler: noopMiddleware},
			},
			Dependencies: []Dependency{{ID: "token-store", Version: "^1.0.0"}},
		}

		require.NoError(t, validator.ValidateDescriptor(d))
	})

	t.Run("rejects nil descriptor", func(t *testing.T) {
		err := validator.ValidateDescriptor(nil)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
	})

	t.Run("rejects invalid plugin ids", func(t *testing.T) {
		for _, id := range []string{"", "Has-Upper", "-leading-hyphen", "under_score", "sp ace"} {
			d := testDescriptor("valid")
			d.ID = id
			err := validator.ValidateDescriptor(d)
			require.Error(t, err, "id %q should be rejected", id)
			assert.True(t, IsCode(err, CodeInvalidPlugin))
		}
	})

	t.Run("rejects non-semver version", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Version = "not-a-version"
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Type = "mystery"
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Priority = "urgent"
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
	})

	t.Run("rejects hook name unknown for the type", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Hooks = map[string]HookSpec{
			"auth:before-sign-in": {Handler: noopHook},
		}
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
		assert.Contains(t, err.Error(), "auth:before-sign-in")
	})

	t.Run("universal plugins may use any known hook name", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Type = TypeUniversal
		d.Hooks = map[string]HookSpec{
			"auth:before-sign-in": {Handler: noopHook},
			"db:connect":          {Handler: noopHook},
		}
		require.NoError(t, validator.ValidateDescriptor(d))

		d.Hooks["completely:made-up"] = HookSpec{Handler: noopHook}
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
	})

	t.Run("rejects hook without handler", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Hooks = map[string]HookSpec{"extension:loaded": {}}
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler is required")
	})

	t.Run("rejects middleware without name or handler", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Middleware = []MiddlewareSpec{{Handler: noopMiddleware}}
		require.Error(t, validator.ValidateDescriptor(d))

		d.Middleware = []MiddlewareSpec{{Name: "named"}}
		require.Error(t, validator.ValidateDescriptor(d))
	})

	t.Run("rejects malformed dependency constraint", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.Dependencies = []Dependency{{ID: "dep", Version: "not a constraint!!"}}
		err := validator.ValidateDescriptor(d)
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeInvalidPlugin))
	})
}

func TestValidator_ValidateConfig(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	validator := NewValidator(logger)

	schema := map[string]any{
		"type":     "object",
		"required": []any{"timeout"},
		"properties": map[string]any{
			"timeout": map[string]any{"type": "number", "minimum": float64(0)},
		},
	}

	t.Run("passes without a schema", func(t *testing.T) {
		d := testDescriptor("alpha")
		require.NoError(t, validator.ValidateConfig(d, map[string]any{"anything": true}))
	})

	t.Run("accepts a conforming config", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.ConfigSchema = schema
		require.NoError(t, validator.ValidateConfig(d, map[string]any{"timeout": float64(30)}))
	})

	t.Run("classifies violations as config errors", func(t *testing.T) {
		d := testDescriptor("alpha")
		d.ConfigSchema = schema
		err := validator.ValidateConfig(d, map[string]any{"timeout": "thirty"})
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeConfigError))

		err = validator.ValidateConfig(d, map[string]any{})
		require.Error(t, err)
		assert.True(t, IsCode(err, CodeConfigError))
	})
}

func TestCheckVersionConstraint(t *testing.T) {
	testCases := []struct {
		name       string
		version    string
		constraint string
		wantErr    bool
	}{
		{"empty constraint passes", "1.0.0", "", false},
		{"exact match", "1.0.0", "1.0.0", false},
		{"caret compatible", "1.2.3", "^1.0.0", false},
		{"caret incompatible major", "2.0.0", "^1.0.0", true},
		{"tilde compatible", "1.0.5", "~1.0.0", false},
		{"tilde incompatible minor", "1.1.0", "~1.0.0", true},
		{"range satisfied", "1.5.0", ">=1.0.0 <2.0.0", false},
		{"invalid version", "abc", "^1.0.0", true},
		{"invalid constraint", "1.0.0", "!!nope", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckVersionConstraint(tc.version, tc.constraint)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestKnownHookNames(t *testing.T) {
	t.Run("returns sorted names for a type", func(t *testing.T) {
		names := KnownHookNames(TypeExtension)
		assert.Equal(t, []string{"config:changed", "extension:loaded", "extension:unloaded"}, names)
	})

	t.Run("universal covers every type", func(t *testing.T) {
		names := KnownHookNames(TypeUniversal)
		assert.Contains(t, names, "auth:before-sign-in")
		assert.Contains(t, names, "db:connect")
		assert.Contains(t, names, "extension:loaded")
	})
}
