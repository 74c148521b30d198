// Package watcher monitors the increments directory and reports debounced
// changes to tasks.md, spec.md and metadata.yaml.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/incsync/internal/increment"
)

// FileKind is the role of a watched file inside an increment.
type FileKind int

const (
	FileTasks FileKind = iota
	FileSpec
	FileMetadata
	FileUnknown
)

func (k FileKind) String() string {
	switch k {
	case FileTasks:
		return increment.TasksFile
	case FileSpec:
		return increment.SpecFile
	case FileMetadata:
		return increment.MetadataFile
	}
	return "unknown"
}

// Event is a settled change to one increment.
type Event struct {
	IncrementID string
	Kind        FileKind
	Path        string
	// Removed is set when the increment directory is gone.
	Removed bool
}

// HandlerFunc receives events. Calls for different increments may run
// concurrently.
type HandlerFunc func(ctx context.Context, ev Event)

// Config configures the watcher.
type Config struct {
	Root     string
	Handler  HandlerFunc
	Logger   *slog.Logger
	Debounce time.Duration // default 500ms
}

// Watcher monitors .incsync/increments.
type Watcher struct {
	incrementsDir string
	handler       HandlerFunc
	logger        *slog.Logger

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	hashes   map[string]string
	hashesMu sync.Mutex

	ctx    context.Context
	ctxMu  sync.RWMutex
	done   chan struct{}
	stopMu sync.Mutex
}

// New creates a watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		incrementsDir: filepath.Join(root, increment.StateDir, increment.IncrementsDir),
		handler:       cfg.Handler,
		logger:        logger,
		fsWatcher:     fsWatcher,
		hashes:        make(map[string]string),
		ctx:           context.Background(),
		done:          make(chan struct{}),
	}
	w.debouncer = NewDebouncer(debounce, w.handleDebounced)
	w.debouncer.SetRemoveCallback(w.handleRemoved)
	return w, nil
}

// Start watches until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctxMu.Lock()
	w.ctx = ctx
	w.ctxMu.Unlock()

	if _, err := os.Stat(w.incrementsDir); err != nil {
		w.Stop()
		return fmt.Errorf("increments directory: %w", err)
	}
	if err := w.fsWatcher.Add(w.incrementsDir); err != nil {
		w.Stop()
		return fmt.Errorf("watch %s: %w", w.incrementsDir, err)
	}
	entries, _ := os.ReadDir(w.incrementsDir)
	for _, e := range entries {
		if e.IsDir() && isIncrementDir(e.Name()) {
			w.watchIncrement(filepath.Join(w.incrementsDir, e.Name()))
		}
	}
	w.logger.Info("file watcher started", "dir", w.incrementsDir)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopping", "reason", "context canceled")
			w.Stop()
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Stop shuts the watcher down. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	w.debouncer.Stop()
	if err := w.fsWatcher.Close(); err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	w.logger.Info("file watcher stopped")
	return nil
}

// Done is closed once the watcher stops.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) watchIncrement(dir string) {
	if err := w.fsWatcher.Add(dir); err != nil {
		w.logger.Debug("failed to watch increment", "path", dir, "error", err)
		return
	}
	// Seed hashes so the first event reflects a real edit.
	for _, name := range []string{increment.TasksFile, increment.SpecFile, increment.MetadataFile} {
		path := filepath.Join(dir, name)
		if h, err := hashFile(path); err == nil {
			w.hashesMu.Lock()
			w.hashes[path] = h
			w.hashesMu.Unlock()
		}
	}
	w.logger.Debug("watching increment", "path", dir)
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	id := w.incrementID(path)
	if id == "" {
		return
	}

	if filepath.Dir(path) == w.incrementsDir {
		switch {
		case event.Has(fsnotify.Create):
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.logger.Debug("new increment directory", "path", path)
				w.debouncer.CancelRemove(id)
				w.watchIncrement(path)
			}
		case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
			w.debouncer.TriggerRemove(id, path)
		}
		return
	}

	kind := classify(path)
	if kind == FileUnknown {
		return
	}
	w.logger.Debug("increment fs event", "op", event.Op.String(), "path", path, "increment", id, "file", kind)

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.removeHash(path)
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.debouncer.Trigger(id, kind, path)
	}
}

func (w *Watcher) context() context.Context {
	w.ctxMu.RLock()
	defer w.ctxMu.RUnlock()
	return w.ctx
}

func (w *Watcher) handleDebounced(id string, kind FileKind, path string) {
	changed, err := w.hasContentChanged(path)
	if err != nil {
		w.logger.Debug("failed to check content change", "path", path, "error", err)
		return
	}
	if !changed {
		w.logger.Debug("content unchanged, skipping event", "path", path)
		return
	}
	w.handler(w.context(), Event{IncrementID: id, Kind: kind, Path: path})
}

func (w *Watcher) handleRemoved(id string) {
	prefix := filepath.Join(w.incrementsDir, id) + string(filepath.Separator)
	w.hashesMu.Lock()
	for p := range w.hashes {
		if strings.HasPrefix(p, prefix) {
			delete(w.hashes, p)
		}
	}
	w.hashesMu.Unlock()
	w.handler(w.context(), Event{IncrementID: id, Removed: true, Path: filepath.Join(w.incrementsDir, id)})
}

// incrementID returns the increment directory name path lies under, or ""
// for the archive areas and anything without a number prefix.
func (w *Watcher) incrementID(path string) string {
	rel, err := filepath.Rel(w.incrementsDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	id, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if !isIncrementDir(id) {
		return ""
	}
	return id
}

func isIncrementDir(name string) bool {
	if strings.HasPrefix(name, "_") {
		return false
	}
	_, ok := increment.Number(name)
	return ok
}

func classify(path string) FileKind {
	switch filepath.Base(path) {
	case increment.TasksFile:
		return FileTasks
	case increment.SpecFile:
		return FileSpec
	case increment.MetadataFile:
		return FileMetadata
	}
	return FileUnknown
}

// hasContentChanged records the file's hash and reports whether it differs
// from the last one seen.
func (w *Watcher) hasContentChanged(path string) (bool, error) {
	h, err := hashFile(path)
	if err != nil {
		return false, err
	}
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	if old, ok := w.hashes[path]; ok && old == h {
		return false, nil
	}
	w.hashes[path] = h
	return true, nil
}

func (w *Watcher) removeHash(path string) {
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	delete(w.hashes, path)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
