package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ReloadCallback is invoked after a watched plugin source changes
type ReloadCallback func(pluginID string)

// reloadWatcher watches file-backed plugin sources and fans change
// notifications out to an explicit subscription table keyed by plugin
// id. Rapid write bursts are debounced per path.
type reloadWatcher struct {
	logger    zerolog.Logger
	watcher   *fsnotify.Watcher
	stability time.Duration

	mu            sync.Mutex
	pathToPlugin  map[string]string
	subscriptions map[string]map[string]ReloadCallback
	debounce      map[string]*time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

func newReloadWatcher(logger zerolog.Logger, stability time.Duration) (*reloadWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if stability <= 0 {
		stability = 250 * time.Millisecond
	}

	w := &reloadWatcher{
		logger:        logger.With().Str("component", "reload-watcher").Logger(),
		watcher:       watcher,
		stability:     stability,
		pathToPlugin:  make(map[string]string),
		subscriptions: make(map[string]map[string]ReloadCallback),
		debounce:      make(map[string]*time.Timer),
		done:          make(chan struct{}),
	}
	go w.eventLoop()
	return w, nil
}

// Subscribe watches path for a plugin and registers a callback.
// It returns an opaque handle for Unsubscribe.
func (w *reloadWatcher) Subscribe(pluginID, path string, callback ReloadCallback) (string, error) {
	handle, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to create subscription handle: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, watched := w.pathToPlugin[path]; !watched {
		if err := w.watcher.Add(path); err != nil {
			return "", fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	w.pathToPlugin[path] = pluginID

	if w.subscriptions[pluginID] == nil {
		w.subscriptions[pluginID] = make(map[string]ReloadCallback)
	}
	w.subscriptions[pluginID][handle] = callback

	w.logger.Debug().
		Str("plugin", pluginID).
		Str("path", path).
		Msg("Reload subscription added")

	return handle, nil
}

// Unsubscribe drops one subscription by handle
func (w *reloadWatcher) Unsubscribe(pluginID, handle string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if subs, ok := w.subscriptions[pluginID]; ok {
		delete(subs, handle)
		if len(subs) == 0 {
			delete(w.subscriptions, pluginID)
		}
	}
}

// Drop removes every subscription and watch for a plugin
func (w *reloadWatcher) Drop(pluginID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.subscriptions, pluginID)
	for path, id := range w.pathToPlugin {
		if id == pluginID {
			_ = w.watcher.Remove(path)
			delete(w.pathToPlugin, path)
			if timer, ok := w.debounce[path]; ok {
				timer.Stop()
				delete(w.debounce, path)
			}
		}
	}
}

// Stop shuts the watcher down
func (w *reloadWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	for _, timer := range w.debounce {
		timer.Stop()
	}
	clear(w.debounce)
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *reloadWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.debounceChange(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *reloadWatcher) debounceChange(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(w.stability, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		pluginID, watched := w.pathToPlugin[path]
		var callbacks []ReloadCallback
		if watched {
			for _, cb := range w.subscriptions[pluginID] {
				callbacks = append(callbacks, cb)
			}
		}
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		for _, cb := range callbacks {
			cb(pluginID)
		}
	})
}
