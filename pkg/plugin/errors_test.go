package plugin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Run("formats with plugin and op", func(t *testing.T) {
		err := newError(CodeNotFound, "my-plugin", "get", "plugin not registered")
		assert.Equal(t, "not_found: plugin my-plugin: get: plugin not registered", err.Error())
	})

	t.Run("formats without op", func(t *testing.T) {
		err := &Error{Code: CodeHookError, PluginID: "my-plugin", Message: "boom"}
		assert.Equal(t, "hook_error: plugin my-plugin: boom", err.Error())
	})

	t.Run("formats without plugin", func(t *testing.T) {
		err := &Error{Code: CodeLoadError, Op: "load", Message: "no runner"}
		assert.Equal(t, "load_error: load: no runner", err.Error())
	})

	t.Run("falls back to wrapped cause message", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := wrapError(CodeLoadError, "my-plugin", "load", cause)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := wrapError(CodeInitError, "my-plugin", "initialize", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestCodeOf(t *testing.T) {
	t.Run("extracts code from classified error", func(t *testing.T) {
		err := newError(CodeSecurityError, "p", "gate", "denied")
		assert.Equal(t, CodeSecurityError, CodeOf(err))
	})

	t.Run("extracts code through wrapping", func(t *testing.T) {
		inner := newError(CodeConfigError, "p", "validate-config", "bad config")
		outer := fmt.Errorf("while registering: %w", inner)
		assert.Equal(t, CodeConfigError, CodeOf(outer))
	})

	t.Run("maps unclassified errors to registry catch-all", func(t *testing.T) {
		assert.Equal(t, CodeRegistryError, CodeOf(fmt.Errorf("plain error")))
	})
}

func TestIsCode(t *testing.T) {
	err := newError(CodeCircularDependency, "a", "resolve", "cycle")

	assert.True(t, IsCode(err, CodeCircularDependency))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(fmt.Errorf("plain"), CodeNotFound))
}
