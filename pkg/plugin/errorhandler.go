package plugin

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrorHandlerFunc receives a classified plugin error
type ErrorHandlerFunc func(err *Error)

// ErrorDispatcher routes classified errors to handlers in two tiers:
// a per-plugin handler if registered, else the global handler, else
// default logging. First match wins. Handler failures are caught and
// logged, never propagated.
type ErrorDispatcher struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	perPlugin map[string]ErrorHandlerFunc
	global    ErrorHandlerFunc
	observer  ErrorHandlerFunc
}

// NewErrorDispatcher creates an error dispatcher with default logging
// as the final fallback
func NewErrorDispatcher(logger zerolog.Logger) *ErrorDispatcher {
	return &ErrorDispatcher{
		logger:    logger.With().Str("component", "error-dispatcher").Logger(),
		perPlugin: make(map[string]ErrorHandlerFunc),
	}
}

// SetPluginHandler registers (or replaces) the handler for one plugin.
// A nil handler removes it.
func (d *ErrorDispatcher) SetPluginHandler(pluginID string, handler ErrorHandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if handler == nil {
		delete(d.perPlugin, pluginID)
		return
	}
	d.perPlugin[pluginID] = handler
}

// SetGlobalHandler sets the global fallback handler
func (d *ErrorDispatcher) SetGlobalHandler(handler ErrorHandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = handler
}

// SetObserver registers a callback invoked for every dispatched error
// in addition to the selected handler. Used for error accounting.
func (d *ErrorDispatcher) SetObserver(observer ErrorHandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = observer
}

// RemovePluginHandler drops the per-plugin handler, if any
func (d *ErrorDispatcher) RemovePluginHandler(pluginID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.perPlugin, pluginID)
}

// Dispatch routes one classified error
func (d *ErrorDispatcher) Dispatch(err *Error) {
	if err == nil {
		return
	}

	d.mu.RLock()
	handler := d.perPlugin[err.PluginID]
	if handler == nil {
		handler = d.global
	}
	observer := d.observer
	d.mu.RUnlock()

	if observer != nil {
		observer(err)
	}

	if handler == nil {
		d.logError(err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("plugin", err.PluginID).
				Str("code", string(err.Code)).
				Msg(fmt.Sprintf("Error handler panicked: %v", r))
		}
	}()
	handler(err)
}

func (d *ErrorDispatcher) logError(err *Error) {
	d.logger.Error().
		Str("plugin", err.PluginID).
		Str("code", string(err.Code)).
		Str("op", err.Op).
		Msg(err.Error())
}
