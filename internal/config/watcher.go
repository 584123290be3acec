package config

import (
	"context"
	"fmt"
	"fragloadd/internal/logger"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file into a Store when it changes.
// A file that fails to load is reported and the previous settings are kept.
type Watcher struct {
	path     string
	store    *Store
	logger   logger.Logger
	watcher  *fsnotify.Watcher
	onReload func(s *Settings)

	// Debounce is the quiet period waited for after the last change before
	// the file is read.
	Debounce time.Duration
	// Check, if not nil, runs on reloaded settings before they are applied.
	// Settings it rejects are dropped like an invalid file.
	Check func(s *Settings) error

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the file at path. onReload, if not nil,
// is called with every newly applied settings.
func NewWatcher(log logger.Logger, path string, store *Store, onReload func(s *Settings)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors often replace the file, so the directory is watched.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   log,
		watcher:  fw,
		onReload: onReload,
		Debounce: 100 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	w.logger.Infof("Watching configuration file %s", w.path)
	go w.watchLoop()
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var pending *time.Timer
	var fire <-chan time.Time
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-fire:
			fire = nil
			w.reload()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if pending == nil {
					pending = time.NewTimer(w.Debounce)
				} else {
					pending.Reset(w.Debounce)
				}
				fire = pending.C
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Configuration watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	if fi, err := os.Stat(w.path); err == nil && fi.Size() == 0 {
		w.logger.Warnf("Ignoring empty configuration file %s", w.path)
		return
	}
	s, err := LoadConfig(w.path)
	if err == nil && w.Check != nil {
		err = w.Check(s)
	}
	if err != nil {
		w.logger.Warnf("Keeping previous configuration: %v", err)
		return
	}
	w.store.Set(s)
	w.logger.Infof("Configuration reloaded from %s", w.path)
	if w.onReload != nil {
		w.onReload(s)
	}
}
