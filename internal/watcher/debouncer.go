package watcher

import (
	"os"
	"sync"
	"time"
)

// debounceKey identifies a debounce entry.
type debounceKey struct {
	id   string
	kind FileKind
}

type pendingEntry struct {
	timer *time.Timer
	path  string
}

// Debouncer coalesces rapid file change events. It waits for a quiet
// period before firing the callback.
type Debouncer struct {
	mu             sync.Mutex
	pending        map[debounceKey]*pendingEntry
	pendingRemoves map[string]*pendingEntry // keyed by increment ID
	interval       time.Duration
	removeInterval time.Duration
	callback       func(id string, kind FileKind, path string)
	removeCallback func(id string)
	stopped        bool
}

// NewDebouncer creates a debouncer that fires callback once per increment
// and file kind after interval without further triggers.
func NewDebouncer(interval time.Duration, callback func(id string, kind FileKind, path string)) *Debouncer {
	return &Debouncer{
		pending:        make(map[debounceKey]*pendingEntry),
		pendingRemoves: make(map[string]*pendingEntry),
		interval:       interval,
		removeInterval: 100 * time.Millisecond, // catches rename and atomic save
		callback:       callback,
	}
}

// SetRemoveCallback sets the callback for verified removals.
func (d *Debouncer) SetRemoveCallback(callback func(id string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeCallback = callback
}

// Trigger registers a change. A pending event for the same increment and
// kind has its timer reset.
func (d *Debouncer) Trigger(id string, kind FileKind, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	key := debounceKey{id: id, kind: kind}
	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		entry.path = path
		entry.timer = time.AfterFunc(d.interval, func() { d.fire(key) })
		return
	}
	d.pending[key] = &pendingEntry{
		path:  path,
		timer: time.AfterFunc(d.interval, func() { d.fire(key) }),
	}
}

func (d *Debouncer) fire(key debounceKey) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	path := entry.path
	delete(d.pending, key)
	d.mu.Unlock()

	d.callback(key.id, key.kind, path)
}

// TriggerRemove schedules a check that path is really gone. Renames and
// atomic saves produce a Remove immediately followed by a Create.
func (d *Debouncer) TriggerRemove(id, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if entry, ok := d.pendingRemoves[id]; ok {
		entry.timer.Stop()
		entry.path = path
		entry.timer = time.AfterFunc(d.removeInterval, func() { d.fireRemove(id) })
		return
	}
	d.pendingRemoves[id] = &pendingEntry{
		path:  path,
		timer: time.AfterFunc(d.removeInterval, func() { d.fireRemove(id) }),
	}
}

// CancelRemove drops a pending removal check.
func (d *Debouncer) CancelRemove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.pendingRemoves[id]; ok {
		entry.timer.Stop()
		delete(d.pendingRemoves, id)
	}
}

func (d *Debouncer) fireRemove(id string) {
	d.mu.Lock()
	entry, ok := d.pendingRemoves[id]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	path := entry.path
	callback := d.removeCallback
	delete(d.pendingRemoves, id)
	d.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return
	}
	if callback != nil {
		callback(id)
	}
}

// Stop cancels all pending timers and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
	for id, entry := range d.pendingRemoves {
		entry.timer.Stop()
		delete(d.pendingRemoves, id)
	}
}

// PendingCount returns the number of pending change events.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
