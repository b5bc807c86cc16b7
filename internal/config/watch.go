package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/topology-simulator/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file whenever it changes on disk and
// hands every valid reload to its callbacks. Invalid reloads are logged
// and the previous configuration stays current.
type Watcher struct {
	path     string
	lookup   func(string) (string, bool)
	log      logging.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)

	reloadMu sync.Mutex
	fs       *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type WatchOption func(*Watcher)

// WithDebounce coalesces bursts of file events arriving within d.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithEnv overrides the environment lookup applied on every reload.
func WithEnv(lookup func(string) (string, bool)) WatchOption {
	return func(w *Watcher) { w.lookup = lookup }
}

func WithWatchLogger(l logging.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher starts watching the file initial was loaded from.
func NewWatcher(initial *Config, opts ...WatchOption) (*Watcher, error) {
	if initial == nil || initial.Path() == "" {
		return nil, fmt.Errorf("%w: nothing to watch without a config file", ErrInvalidConfig)
	}
	w := &Watcher{
		path:     filepath.Clean(initial.Path()),
		lookup:   os.LookupEnv,
		log:      logging.Noop(),
		debounce: defaultDebounce,
		current:  initial,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %q: %w", w.path, err)
	}
	w.fs = fsw

	go w.loop()
	w.log.Info(context.Background(), "watching configuration", logging.String("path", w.path))
	return w, nil
}

// Current returns the most recent valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn for future reloads, in registration order.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		<-w.done
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pending <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.Reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(context.Background(), "configuration watcher error", logging.Err(err))

		case <-w.stop:
			return
		}
	}
}

// Reload re-reads the file immediately. It returns the load error, in
// which case callbacks are not run.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	ctx := context.Background()
	next, err := LoadWithEnv(w.path, w.lookup)
	if err != nil {
		w.log.Warn(ctx, "configuration reload rejected", logging.Err(err))
		return err
	}

	w.mu.Lock()
	w.current = next
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(next)
	}
	w.log.Info(ctx, "configuration reloaded",
		logging.String("path", w.path),
		logging.Int("callbacks", len(callbacks)),
	)
	return nil
}
