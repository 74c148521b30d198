package increment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/incsync/internal/document"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/util"
)

// Workspace layout.
const (
	StateDir      = ".incsync"
	IncrementsDir = "increments"
	ArchiveDir    = "_archive"
	AbandonedDir  = "_abandoned"

	SpecFile   = "spec.md"
	TasksFile  = "tasks.md"
	ReportsDir = "reports"
)

// Increment is one increment directory with its metadata.
type Increment struct {
	ID     string
	Number string
	Dir    string
	Meta   *Metadata

	// HasMetadataFile is false when Meta was derived from spec.md or defaults.
	HasMetadataFile bool
}

// SpecPath returns the path of spec.md.
func (i *Increment) SpecPath() string { return filepath.Join(i.Dir, SpecFile) }

// TasksPath returns the path of tasks.md.
func (i *Increment) TasksPath() string { return filepath.Join(i.Dir, TasksFile) }

// ReportsPath returns the reports directory.
func (i *Increment) ReportsPath() string { return filepath.Join(i.Dir, ReportsDir) }

var numberPattern = regexp.MustCompile(`^(\d{4})-`)

// Number returns the four-digit number prefix of an increment directory name.
func Number(name string) (string, bool) {
	m := numberPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Workspace gives access to the increments under a project root.
type Workspace struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) { w.now = now }
}

// NewWorkspace returns a workspace rooted at the project directory root.
func NewWorkspace(root string, opts ...Option) *Workspace {
	w := &Workspace{root: root, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the project root.
func (w *Workspace) Root() string { return w.root }

// StatePath returns the .incsync directory.
func (w *Workspace) StatePath() string { return filepath.Join(w.root, StateDir) }

// IncrementsPath returns the directory holding active increments.
func (w *Workspace) IncrementsPath() string {
	return filepath.Join(w.root, StateDir, IncrementsDir)
}

// Now returns the workspace clock's current time.
func (w *Workspace) Now() time.Time { return w.now() }

// CheckInitialized returns NOT_INITIALIZED when the increments directory is missing.
func (w *Workspace) CheckInitialized() error {
	info, err := os.Stat(w.IncrementsPath())
	if err != nil || !info.IsDir() {
		return syncerrors.ErrNotInitialized(w.root)
	}
	return nil
}

// List returns every increment in the increments directory, sorted by ID.
// Directories starting with "_" and names without a number prefix are
// skipped. Increments whose metadata cannot be read are logged and skipped.
func (w *Workspace) List() ([]*Increment, error) {
	entries, err := os.ReadDir(w.IncrementsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read increments directory: %w", err)
	}

	var incs []*Increment
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		if _, ok := Number(entry.Name()); !ok {
			continue
		}
		inc, err := w.load(filepath.Join(w.IncrementsPath(), entry.Name()))
		if err != nil {
			w.logger.Warn("skipping unreadable increment", "increment", entry.Name(), "error", err)
			continue
		}
		incs = append(incs, inc)
	}

	sort.Slice(incs, func(i, j int) bool { return incs[i].ID < incs[j].ID })
	return incs, nil
}

// Get resolves id to an increment. id may be the full directory name or its
// number ("0007" or "7").
func (w *Workspace) Get(id string) (*Increment, error) {
	dir := filepath.Join(w.IncrementsPath(), id)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return w.load(dir)
	}

	want := id
	if n, err := strconv.Atoi(id); err == nil {
		want = fmt.Sprintf("%04d", n)
	}
	entries, err := os.ReadDir(w.IncrementsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syncerrors.ErrNotInitialized(w.root)
		}
		return nil, fmt.Errorf("read increments directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if num, ok := Number(entry.Name()); ok && num == want {
			return w.load(filepath.Join(w.IncrementsPath(), entry.Name()))
		}
	}
	return nil, syncerrors.NewIncrementNotFound(id)
}

func (w *Workspace) load(dir string) (*Increment, error) {
	name := filepath.Base(dir)
	num, _ := Number(name)
	inc := &Increment{ID: name, Number: num, Dir: dir}

	meta, found, err := LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	if !found {
		meta = w.derivedMetadata(dir)
	}
	meta.ID = name
	if meta.Type == "" {
		meta.Type = TypeFeature
	}
	if meta.Status == "" {
		meta.Status = StatusPlanning
	}
	if !IsValidStatus(meta.Status) {
		return nil, fmt.Errorf("increment %s has unknown status %q", name, meta.Status)
	}

	inc.Meta = meta
	inc.HasMetadataFile = found
	return inc, nil
}

// derivedMetadata builds metadata for increments that predate metadata.yaml,
// reading status, type and created from the spec.md header when present.
func (w *Workspace) derivedMetadata(dir string) *Metadata {
	meta := &Metadata{Type: TypeFeature, Status: StatusPlanning}
	if info, err := os.Stat(dir); err == nil {
		meta.CreatedAt = info.ModTime().UTC()
	}

	data, err := os.ReadFile(filepath.Join(dir, SpecFile))
	if err != nil {
		return meta
	}
	var hdr specHeader
	if ok, err := document.DecodeHeader(string(data), &hdr); !ok || err != nil {
		if err != nil {
			w.logger.Debug("ignoring spec header", "dir", dir, "error", err)
		}
		return meta
	}
	if hdr.Status != "" {
		meta.Status = hdr.Status
	}
	if hdr.Type != "" {
		meta.Type = hdr.Type
	}
	if !hdr.Created.IsZero() {
		meta.CreatedAt = hdr.Created
	}
	return meta
}

// Transition moves an increment to a new status. Illegal transitions return
// INVALID_TRANSITION and leave metadata untouched. reason is recorded for
// pause and abandon.
func (w *Workspace) Transition(id string, to Status, reason string) (*Metadata, error) {
	inc, err := w.Get(id)
	if err != nil {
		return nil, err
	}
	from := inc.Meta.Status
	if err := CheckTransition(inc.ID, from, to); err != nil {
		return nil, err
	}

	meta := inc.Meta.Clone()
	now := w.now().UTC()
	meta.Status = to
	meta.StatusChangedAt = &now
	meta.LastActivity = &now
	meta.StatusReason = ""
	if to == StatusPaused || to == StatusAbandoned {
		meta.StatusReason = reason
	}

	if err := SaveMetadata(inc.Dir, meta); err != nil {
		return nil, err
	}
	if _, err := SyncSpecStatus(inc.SpecPath(), to); err != nil {
		return nil, fmt.Errorf("mirror status into spec.md: %w", err)
	}
	w.logger.Info("increment transitioned", "increment", inc.ID, "from", from, "to", to)
	return meta, nil
}

// Touch records activity on an increment without changing its status.
func (w *Workspace) Touch(inc *Increment) error {
	meta := inc.Meta.Clone()
	now := w.now().UTC()
	meta.LastActivity = &now
	if err := SaveMetadata(inc.Dir, meta); err != nil {
		return err
	}
	inc.Meta = meta
	inc.HasMetadataFile = true
	return nil
}

// SaveMetadata persists inc.Meta.
func (w *Workspace) SaveMetadata(inc *Increment) error {
	if err := SaveMetadata(inc.Dir, inc.Meta); err != nil {
		return err
	}
	inc.HasMetadataFile = true
	return nil
}

// NextNumber returns the next free increment number across the active,
// archived and abandoned areas.
func (w *Workspace) NextNumber() (int, error) {
	highest := 0
	for _, dir := range []string{
		w.IncrementsPath(),
		filepath.Join(w.IncrementsPath(), ArchiveDir),
		filepath.Join(w.IncrementsPath(), AbandonedDir),
	} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			num, ok := Number(entry.Name())
			if !ok {
				continue
			}
			if n, _ := strconv.Atoi(num); n > highest {
				highest = n
			}
		}
	}
	return highest + 1, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Create makes a new increment in planning status with empty documents and
// zeroed counters.
func (w *Workspace) Create(name string, typ Type) (*Increment, error) {
	if !IsValidType(typ) {
		return nil, syncerrors.NewConfigInvalid("type", fmt.Sprintf("unknown increment type %q", typ))
	}
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return nil, fmt.Errorf("increment name %q has no usable characters", name)
	}
	n, err := w.NextNumber()
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%04d-%s", n, slug)
	dir := filepath.Join(w.IncrementsPath(), id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create increment directory: %w", err)
	}

	now := w.now().UTC()
	meta := &Metadata{
		ID:           id,
		Type:         typ,
		Status:       StatusPlanning,
		CreatedAt:    now,
		LastActivity: &now,
	}
	if err := SaveMetadata(dir, meta); err != nil {
		return nil, err
	}

	spec := fmt.Sprintf("# %s\n\n## Acceptance Criteria\n", name)
	tasks := fmt.Sprintf("---\n%s: 0\n%s: 0\n---\n\n# Tasks\n", document.KeyTotalTasks, document.KeyCompleted)
	if err := util.AtomicWriteFile(filepath.Join(dir, SpecFile), []byte(spec), 0644); err != nil {
		return nil, fmt.Errorf("write spec: %w", err)
	}
	if err := util.AtomicWriteFile(filepath.Join(dir, TasksFile), []byte(tasks), 0644); err != nil {
		return nil, fmt.Errorf("write tasks: %w", err)
	}

	w.logger.Info("increment created", "increment", id, "type", typ)
	return &Increment{ID: id, Number: fmt.Sprintf("%04d", n), Dir: dir, Meta: meta, HasMetadataFile: true}, nil
}
