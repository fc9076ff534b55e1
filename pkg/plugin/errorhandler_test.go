package plugin

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDispatcher(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	t.Run("prefers the per-plugin handler", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		var viaPlugin, viaGlobal *Error

		dispatcher.SetPluginHandler("alpha", func(err *Error) { viaPlugin = err })
		dispatcher.SetGlobalHandler(func(err *Error) { viaGlobal = err })

		dispatcher.Dispatch(newError(CodeHookError, "alpha", "execute", "boom"))

		require.NotNil(t, viaPlugin)
		assert.Nil(t, viaGlobal)
	})

	t.Run("falls back to the global handler", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		var viaGlobal *Error

		dispatcher.SetPluginHandler("alpha", func(_ *Error) {})
		dispatcher.SetGlobalHandler(func(err *Error) { viaGlobal = err })

		dispatcher.Dispatch(newError(CodeHookError, "beta", "execute", "boom"))

		require.NotNil(t, viaGlobal)
		assert.Equal(t, "beta", viaGlobal.PluginID)
	})

	t.Run("default logging handles unrouted errors without panicking", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		dispatcher.Dispatch(newError(CodeLoadError, "", "load", "boom"))
	})

	t.Run("nil handler removes the per-plugin route", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		var viaPlugin, viaGlobal int

		dispatcher.SetPluginHandler("alpha", func(_ *Error) { viaPlugin++ })
		dispatcher.SetGlobalHandler(func(_ *Error) { viaGlobal++ })
		dispatcher.SetPluginHandler("alpha", nil)

		dispatcher.Dispatch(newError(CodeHookError, "alpha", "execute", "boom"))

		assert.Equal(t, 0, viaPlugin)
		assert.Equal(t, 1, viaGlobal)
	})

	t.Run("recovers a panicking handler", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		dispatcher.SetGlobalHandler(func(_ *Error) { panic("handler bug") })

		assert.NotPanics(t, func() {
			dispatcher.Dispatch(newError(CodeHookError, "alpha", "execute", "boom"))
		})
	})

	t.Run("observer sees every dispatched error", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		var observed []*Error

		dispatcher.SetObserver(func(err *Error) { observed = append(observed, err) })
		dispatcher.SetPluginHandler("alpha", func(_ *Error) {})

		dispatcher.Dispatch(newError(CodeHookError, "alpha", "execute", "boom"))
		dispatcher.Dispatch(newError(CodeLoadError, "beta", "load", "boom"))

		assert.Len(t, observed, 2)
	})

	t.Run("ignores nil errors", func(t *testing.T) {
		dispatcher := NewErrorDispatcher(logger)
		assert.NotPanics(t, func() { dispatcher.Dispatch(nil) })
	})
}
