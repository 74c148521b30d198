// Package syncer mirrors increments to an external tracker in batches.
//
// Items run concurrently up to a limit, each with its own sequential retry
// sequence. Provider calls share one rate limiter. Cancellation is checked
// between items: items not yet started are reported as skipped and the
// partial result is returned with Canceled set instead of an error.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/randalmurphal/incsync/internal/cache"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"
	"github.com/randalmurphal/incsync/internal/retry"
	"github.com/randalmurphal/incsync/internal/tracker"
)

// DefaultConcurrency is the number of items synced at once.
const DefaultConcurrency = 4

// Status is the outcome of one item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Skip reasons.
const (
	ReasonUnchanged = "unchanged since last sync"
	ReasonCanceled  = "canceled"
	ReasonDryRun    = "dry run"
)

// Item is the outcome of syncing one increment.
type Item struct {
	IncrementID string            `json:"increment_id"`
	Status      Status            `json:"status"`
	Issue       *tracker.IssueRef `json:"issue,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	History     []retry.Attempt   `json:"history,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
}

// Result is the outcome of a batch.
type Result struct {
	RunID      string            `json:"run_id"`
	Tracker    tracker.Type      `json:"tracker"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Items      []Item            `json:"items"`
	Succeeded  []string          `json:"succeeded"`
	Failed     []string          `json:"failed"`
	Skipped    []string          `json:"skipped"`
	Errors     map[string]string `json:"errors,omitempty"`
	Canceled   bool              `json:"canceled"`
}

// OK reports whether no item failed and the batch ran to completion.
func (r *Result) OK() bool {
	return len(r.Failed) == 0 && !r.Canceled
}

// Entry is the cached record of the last successful sync of an increment.
type Entry struct {
	IssueID     string    `json:"issue_id"`
	URL         string    `json:"url,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Options controls one batch.
type Options struct {
	// Force syncs items whose content has not changed.
	Force bool
	// DryRun renders requests without calling the tracker.
	DryRun bool
	// Comment posts Comment on every synced issue when non-empty.
	Comment string
}

// Syncer pushes increments to one tracker.
type Syncer struct {
	ws          *increment.Workspace
	provider    tracker.Provider
	store       *cache.Store
	retry       *retry.Handler
	limiter     *rate.Limiter
	concurrency int
	labels      []string
	logger      *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithStore records sync entries in store. Without a store every run
// resyncs every item.
func WithStore(store *cache.Store) Option {
	return func(s *Syncer) { s.store = store }
}

// WithRetry sets the retry handler.
func WithRetry(h *retry.Handler) Option {
	return func(s *Syncer) { s.retry = h }
}

// WithConcurrency limits the items in flight. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(s *Syncer) { s.concurrency = max(n, 1) }
}

// WithRate limits provider calls to perSecond with the given burst.
// perSecond <= 0 disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(s *Syncer) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithLabels sets labels added to every issue.
func WithLabels(labels ...string) Option {
	return func(s *Syncer) { s.labels = labels }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// New creates a Syncer.
func New(ws *increment.Workspace, provider tracker.Provider, opts ...Option) *Syncer {
	s := &Syncer{
		ws:          ws,
		provider:    provider,
		retry:       retry.New(retry.DefaultPolicy()),
		limiter:     rate.NewLimiter(rate.Inf, 0),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey is the cache key of the sync entry of id.
func (s *Syncer) CacheKey(id string) string {
	return cache.Key(id, string(s.provider.Name()))
}

// SyncAll syncs every increment that is not abandoned.
func (s *Syncer) SyncAll(ctx context.Context, opts Options) (*Result, error) {
	incs, err := s.ws.List()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, inc := range incs {
		if inc.Meta.Status != increment.StatusAbandoned {
			ids = append(ids, inc.ID)
		}
	}
	return s.Sync(ctx, ids, opts)
}

// Sync mirrors each of ids. Per-item failures are recorded in the result;
// the error return is reserved for setup failures.
func (s *Syncer) Sync(ctx context.Context, ids []string, opts Options) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Tracker:   s.provider.Name(),
		StartedAt: s.ws.Now(),
		Items:     make([]Item, len(ids)),
	}
	logger := s.logger.With("run_id", res.RunID, "tracker", res.Tracker)
	logger.Info("sync started", "items", len(ids), "concurrency", s.concurrency)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		if ctx.Err() != nil {
			res.Items[i] = Item{IncrementID: id, Status: StatusSkipped, Reason: ReasonCanceled}
			continue
		}
		g.Go(func() error {
			res.Items[i] = s.syncOne(ctx, logger, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	res.FinishedAt = s.ws.Now()
	res.Canceled = ctx.Err() != nil
	s.summarize(res)
	logger.Info("sync finished",
		"succeeded", len(res.Succeeded),
		"failed", len(res.Failed),
		"skipped", len(res.Skipped),
		"canceled", res.Canceled,
	)
	return res, nil
}

func (s *Syncer) summarize(res *Result) {
	for _, it := range res.Items {
		metrics.SyncItem(string(res.Tracker), string(it.Status))
		switch it.Status {
		case StatusSucceeded:
			res.Succeeded = append(res.Succeeded, it.IncrementID)
		case StatusFailed:
			res.Failed = append(res.Failed, it.IncrementID)
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[it.IncrementID] = it.Error
		case StatusSkipped:
			res.Skipped = append(res.Skipped, it.IncrementID)
		}
	}
}

func (s *Syncer) syncOne(ctx context.Context, logger *slog.Logger, id string, opts Options) Item {
	item := Item{IncrementID: id}
	fail := func(err error) Item {
		if errors.Is(err, context.Canceled) {
			item.Status, item.Reason = StatusSkipped, ReasonCanceled
			return item
		}
		item.Status, item.Err, item.Error = StatusFailed, err, err.Error()
		logger.Warn("sync item failed", "increment", id, "attempts", item.Attempts, "error", err)
		return item
	}

	if ctx.Err() != nil {
		item.Status, item.Reason = StatusSkipped, ReasonCanceled
		return item
	}

	inc, err := s.ws.Get(id)
	if err != nil {
		return fail(err)
	}
	item.IncrementID = inc.ID

	req, err := BuildRequest(inc, s.provider.Name(), s.labels)
	if err != nil {
		return fail(err)
	}
	fp := Fingerprint(req)

	prev := s.lastSync(ctx, inc.ID)
	if req.ExistingID == "" && prev != nil {
		req.ExistingID = prev.IssueID
	}
	if !opts.Force && prev != nil && prev.Fingerprint == fp && prev.IssueID == req.ExistingID {
		item.Status, item.Reason = StatusSkipped, ReasonUnchanged
		item.Issue = &tracker.IssueRef{ID: prev.IssueID, URL: prev.URL}
		return item
	}
	if opts.DryRun {
		item.Status, item.Reason = StatusSkipped, ReasonDryRun
		return item
	}

	out := retry.Do(ctx, s.retry, func(ctx context.Context) (*tracker.IssueRef, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return s.provider.CreateOrUpdateIssue(ctx, req)
	})
	item.Attempts = out.Attempts
	item.History = out.History
	if !out.Success {
		return fail(out.Err)
	}
	ref := out.Value
	item.Issue = ref

	if opts.Comment != "" {
		c := retry.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, s.provider.AddComment(ctx, ref.ID, opts.Comment)
		})
		if !c.Success {
			// The issue itself is in sync; a lost comment is not worth a resync.
			logger.Warn("sync comment failed", "increment", inc.ID, "issue", ref.ID, "error", c.Err)
		}
	}

	now := s.ws.Now().UTC()
	s.persistLink(logger, inc, ref, now)
	s.recordSync(ctx, logger, inc.ID, Entry{IssueID: ref.ID, URL: ref.URL, Fingerprint: fp, SyncedAt: now})

	item.Status = StatusSucceeded
	logger.Info("synced increment", "increment", inc.ID, "issue", ref.ID, "created", ref.Created, "attempts", item.Attempts)
	return item
}

// lastSync returns the previous sync entry, expired or not.
func (s *Syncer) lastSync(ctx context.Context, id string) *Entry {
	if s.store == nil {
		return nil
	}
	var e Entry
	meta, err := s.store.Peek(ctx, s.CacheKey(id), &e)
	if err != nil || meta == nil {
		return nil
	}
	return &e
}

func (s *Syncer) persistLink(logger *slog.Logger, inc *increment.Increment, ref *tracker.IssueRef, at time.Time) {
	tr := string(s.provider.Name())
	if cur, ok := inc.Meta.External[tr]; ok && cur.ID == ref.ID && cur.URL == ref.URL && !ref.Created {
		return
	}
	meta := inc.Meta.Clone()
	meta.Link(tr, increment.IssueLink{ID: ref.ID, URL: ref.URL, SyncedAt: &at})
	inc.Meta = meta
	if err := s.ws.SaveMetadata(inc); err != nil {
		// The cache entry still carries the issue id, so the next run edits
		// instead of creating a duplicate.
		logger.Warn("failed to record issue link", "increment", inc.ID, "error", fmt.Errorf("save metadata: %w", err))
	}
}

func (s *Syncer) recordSync(ctx context.Context, logger *slog.Logger, id string, e Entry) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, s.CacheKey(id), e, e.SyncedAt); err != nil {
		logger.Warn("failed to cache sync entry", "increment", id, "error", err)
	}
}
