package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"signalbot/pkg/logx"
)

// OverridesWatcher reloads the YAML overrides file on change and fans the
// parsed result out to subscribers. A missing file simply means no overrides.
type OverridesWatcher struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cur      Overrides
	lastHash uint64

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan Overrides
}

func NewOverridesWatcher(path string, log logx.Logger) *OverridesWatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OverridesWatcher{path: path, log: log}
}

// Load parses the file once and commits the result. A missing file resets to
// empty overrides without error.
func (w *OverridesWatcher) Load() (Overrides, error) {
	b, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		w.commit(Overrides{}, 0)
		return Overrides{}, nil
	}
	if err != nil {
		return Overrides{}, err
	}
	o, err := ParseOverrides(b)
	if err != nil {
		return Overrides{}, err
	}
	w.commit(o, hashBytes(b))
	return o, nil
}

func (w *OverridesWatcher) Current() Overrides {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *OverridesWatcher) commit(o Overrides, hash uint64) {
	w.mu.Lock()
	w.cur = o
	w.lastHash = hash
	w.mu.Unlock()
}

func (w *OverridesWatcher) Subscribe(buffer int) chan Overrides {
	ch := make(chan Overrides, buffer)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

func (w *OverridesWatcher) Unsubscribe(ch chan Overrides) {
	if ch == nil {
		return
	}
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for i, s := range w.subs {
		if s == ch {
			last := len(w.subs) - 1
			w.subs[i] = w.subs[last]
			w.subs[last] = nil
			w.subs = w.subs[:last]
			close(ch)
			return
		}
	}
}

func (w *OverridesWatcher) publish(o Overrides) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		if ch == nil {
			continue
		}
		// Deliver the latest; if the subscriber is slow, drop one stale item
		// and retry once.
		select {
		case ch <- o:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- o:
			default:
				w.log.Debug("overrides update dropped (subscriber slow)")
			}
		}
	}
}

// Watch blocks until ctx is done, reloading on file events. Reloads are
// debounced so editors that write in multiple steps trigger one reload, and
// unchanged content is not republished.
func (w *OverridesWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			b, err := os.ReadFile(w.path)
			if os.IsNotExist(err) {
				w.commit(Overrides{}, 0)
				w.publish(Overrides{})
				w.log.Info("overrides file removed; defaults restored")
				return
			}
			if err != nil {
				w.log.Warn("overrides read failed", logx.Err(err))
				return
			}

			h := hashBytes(b)
			w.mu.RLock()
			unchanged := h != 0 && h == w.lastHash
			w.mu.RUnlock()
			if unchanged {
				return
			}

			o, err := ParseOverrides(b)
			if err != nil {
				w.log.Warn("overrides rejected", logx.String("path", w.path), logx.Err(err))
				return
			}
			w.commit(o, h)
			w.publish(o)
			w.log.Info("overrides reloaded", logx.String("path", w.path))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("overrides watch error", logx.Err(err))
		}
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
