package netproxy

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Use-Tusk/fence/internal/config"
)

// Watcher live-reloads a Filter whenever its backing config file changes on
// disk. Primary signal is fsnotify; since fsnotify misses changes on some
// network filesystems, a periodic mtime poll runs alongside it as a
// fallback, matching the "opportunistic reload" behavior described for the
// proxy's config file.
type Watcher struct {
	path    string
	filter  *Filter
	watcher *fsnotify.Watcher
	stop    chan struct{}
	lastMod time.Time
}

// NewWatcher builds a watcher over path, applying changes to filter.
func NewWatcher(path string, filter *Filter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Watcher{path: path, filter: filter, watcher: fsw, stop: make(chan struct{})}, nil
}

// Run blocks, reloading on every fsnotify event and every 2s poll tick,
// until Stop is called.
func (w *Watcher) Run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reloadIfChanged()
			}
		case <-w.watcher.Errors:
			// fsnotify delivery failed; the poll tick below still covers us.
		case <-ticker.C:
			w.reloadIfChanged()
		}
	}
}

// Stop ends Run and releases the underlying inotify/kqueue handle.
func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

// ReloadNow is the function POST /reload invokes directly, bypassing the
// mtime check since an explicit admin request should always take effect.
func (w *Watcher) ReloadNow() error {
	cfg, err := config.Load(w.path)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	w.filter.Reload(cfg)
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	return nil
}

func (w *Watcher) reloadIfChanged() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	_ = w.ReloadNow()
}
