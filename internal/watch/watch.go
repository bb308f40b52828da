// Package watch implements the C3 watcher and event bus: a single
// fsnotify watcher over a project root, classifying raw filesystem
// events into typed change events and fanning them out to subscribers
// with per-path coalescing.
package watch

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
)

// Kind is the tagged-union discriminant for a Change event.
type Kind string

const (
	KindScript Kind = "script_change"
	KindData   Kind = "data_change"
	KindOutput Kind = "output_change"
	KindError  Kind = "watch_error"
)

// Change is the typed notification C3 emits. Action holds
// "deleted-for-safety" or is empty; nothing in this module sets it, so
// every published Change has an empty Action.
type Change struct {
	Kind     Kind
	Path     string // project-relative
	ModUnix  int64
	Action   string // "deleted-for-safety" or ""
	Message  string // populated for KindError
}

var outputExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".csv": true, ".xlsx": true, ".xls": true,
}

const coalesceWindow = 1000 * time.Millisecond

// subscriber is one registered sink. ch is bounded; a full channel drops
// the event rather than blocking the fan-out goroutine.
type subscriber struct {
	ch chan Change
}

const subscriberBufferSize = 64

// Bus is the C3 watcher + event bus. One Bus watches one project root at
// a time; Replace swaps the root without disturbing subscribers.
type Bus struct {
	policy *policy.Classifier

	mu        sync.Mutex
	root      string
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	pending   map[string]*pendingEvent
	subsMu    sync.RWMutex
	subs      map[*subscriber]struct{}
}

type pendingEvent struct {
	change Change
	timer  *time.Timer
}

// New returns a Bus with no root watched yet; call Replace to start
// watching.
func New(p *policy.Classifier) *Bus {
	return &Bus{
		policy:  p,
		pending: make(map[string]*pendingEvent),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Subscribe registers a new sink and returns it plus an unsubscribe
// function. The returned channel is closed by Unsubscribe only; readers
// should range over it until closed or stop reading and call
// unsubscribe.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	sub := &subscriber{ch: make(chan Change, subscriberBufferSize)}
	b.subsMu.Lock()
	b.subs[sub] = struct{}{}
	b.subsMu.Unlock()

	unsubscribe := func() {
		b.subsMu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.subsMu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Replace tears down any watcher on the previous root (if any) and
// starts a fresh one rooted at newRoot. Existing subscribers are left
// attached, per spec §5 ("PTY sessions are unaffected... watch
// subscribers remain attached").
func (b *Bus) Replace(newRoot string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watcher != nil {
		close(b.stopCh)
		b.watcher.Close()
		b.watcher = nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(w, newRoot, b.policy); err != nil {
		w.Close()
		return err
	}

	b.root = newRoot
	b.watcher = w
	b.stopCh = make(chan struct{})
	go b.loop(w, b.stopCh, newRoot)
	log.Printf("[WATCH] watching %s", newRoot)
	return nil
}

// addRecursive walks root and registers every non-ignored directory with
// w; fsnotify only watches the directories it is explicitly told about,
// so new subdirectories are added as Create events for them arrive (see
// handleEvent).
func addRecursive(w *fsnotify.Watcher, root string, p *policy.Classifier) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && p.IsIgnoredDir(info.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			log.Printf("[WATCH] failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (b *Bus) loop(w *fsnotify.Watcher, stop chan struct{}, root string) {
	backoff := 3 * time.Second
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			b.handleEvent(root, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCH] error: %v", err)
			b.publish(Change{Kind: KindError, Message: err.Error()})
			time.Sleep(backoff)
			if backoff < 12*time.Second {
				backoff *= 2
			}
		}
	}
}

func (b *Bus) handleEvent(root string, event fsnotify.Event) {
	relPath, err := filepath.Rel(root, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	base := filepath.Base(relPath)
	if b.policy.IsIgnoredDir(base) {
		return
	}

	// If a new directory appeared, start watching it too (fsnotify is
	// not recursive on its own).
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, statErr := statDir(event.Name); statErr == nil && info {
			b.mu.Lock()
			if b.watcher != nil {
				b.watcher.Add(event.Name)
			}
			b.mu.Unlock()
		}
	}

	kind, ok := classify(relPath, b.policy)
	if !ok {
		return
	}

	change := Change{Kind: kind, Path: relPath, ModUnix: time.Now().Unix()}
	b.coalesce(relPath, change)
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// classify implements §4.3's event classification rules.
func classify(relPath string, p *policy.Classifier) (Kind, bool) {
	subtree := p.SubtreeOf(relPath)
	switch subtree {
	case policy.SubtreeInput:
		return KindData, true
	case policy.SubtreeOutput:
		ext := strings.ToLower(filepath.Ext(relPath))
		if outputExtensions[ext] {
			return KindOutput, true
		}
		return "", false
	case policy.SubtreeApp:
		if strings.HasPrefix(relPath, "app/scripts/") || strings.HasSuffix(relPath, ".py") {
			return KindScript, true
		}
		return "", false
	default:
		return "", false
	}
}

// coalesce debounces repeated events for the same path within
// coalesceWindow, keeping only the latest, per spec §4.3 / invariant 5.
func (b *Bus) coalesce(path string, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.pending[path]; ok {
		existing.change = change
		existing.timer.Reset(coalesceWindow)
		return
	}

	pe := &pendingEvent{change: change}
	pe.timer = time.AfterFunc(coalesceWindow, func() {
		b.mu.Lock()
		cur, ok := b.pending[path]
		if ok {
			delete(b.pending, path)
		}
		b.mu.Unlock()
		if ok {
			b.publish(cur.change)
		}
	})
	b.pending[path] = pe
}

// publish fans change out to every subscriber. Slow subscribers drop the
// event instead of blocking (bounded channel, non-blocking send).
func (b *Bus) publish(change Change) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- change:
		default:
			log.Printf("[WATCH] subscriber buffer full, dropping %s event for %s", change.Kind, change.Path)
		}
	}
}

// Close stops the active watcher, if any.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watcher != nil {
		close(b.stopCh)
		b.watcher.Close()
		b.watcher = nil
	}
}
