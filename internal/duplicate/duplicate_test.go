package duplicate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
)

var fixedNow = time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)

type copySpec struct {
	area     string // "", increment.ArchiveDir or increment.AbandonedDir
	name     string
	status   increment.Status
	activity time.Time
	external map[string]increment.IssueLink
	files    map[string]string
}

func mkCopy(t *testing.T, root string, c copySpec) string {
	t.Helper()
	dir := filepath.Join(root, increment.StateDir, increment.IncrementsDir, c.area, c.name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	at := c.activity
	require.NoError(t, increment.SaveMetadata(dir, &increment.Metadata{
		ID:           c.name,
		Type:         increment.TypeFeature,
		Status:       c.status,
		LastActivity: &at,
		External:     c.external,
	}))
	for rel, content := range c.files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func day(n int) time.Time { return time.Date(2025, 11, n, 10, 0, 0, 0, time.UTC) }

func TestDetect(t *testing.T) {
	root := t.TempDir()
	mkCopy(t, root, copySpec{name: "0001-auth", status: increment.StatusActive, activity: day(10)})
	mkCopy(t, root, copySpec{name: "0002-billing", status: increment.StatusActive, activity: day(14),
		files: map[string]string{"spec.md": "x", "tasks.md": "y"}})
	mkCopy(t, root, copySpec{area: increment.ArchiveDir, name: "0002-billing", status: increment.StatusCompleted, activity: day(12)})
	mkCopy(t, root, copySpec{area: increment.AbandonedDir, name: "0002-billing-v2", status: increment.StatusAbandoned, activity: day(13)})
	require.NoError(t, os.MkdirAll(filepath.Join(root, increment.StateDir, increment.IncrementsDir, "notes"), 0755))

	report, err := Detect(root)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalChecked)
	require.Len(t, report.Duplicates, 1)

	d := report.Duplicates[0]
	assert.Equal(t, "0002", d.Number)
	assert.Len(t, d.Candidates, 3)
	assert.Equal(t, LocationActive, d.Winner.Location)
	assert.Equal(t, 3, d.Winner.FileCount, "metadata.yaml plus two documents")
	require.Len(t, d.Losers, 2)
	assert.Equal(t, LocationAbandoned, d.Losers[0].Location, "more recent activity ranks first")
	assert.Equal(t, LocationArchive, d.Losers[1].Location)
	assert.Contains(t, d.Reason, "most recent activity (2025-11-14)")
}

func TestDetect_MissingDirectory(t *testing.T) {
	report, err := Detect(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Duplicates)
	assert.Zero(t, report.TotalChecked)
}

func TestDetectNumber(t *testing.T) {
	root := t.TempDir()
	mkCopy(t, root, copySpec{name: "0007-search", status: increment.StatusActive, activity: day(1)})

	cands, err := DetectNumber(root, "7")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "0007-search", cands[0].Name)
}

func TestRank_ComparatorPriority(t *testing.T) {
	linked := &increment.Metadata{External: map[string]increment.IssueLink{"github": {ID: "1"}}}
	tests := []struct {
		name    string
		better  *Candidate
		worse   *Candidate
		explain string
	}{
		{
			name:    "external link beats everything below it",
			better:  &Candidate{Path: "b", Meta: linked, LastActivity: day(1), Location: LocationAbandoned},
			worse:   &Candidate{Path: "a", HasReports: true, LastActivity: day(9), FileCount: 50, Location: LocationActive},
			explain: "linked to an external tracker issue",
		},
		{
			name:    "reports beat activity",
			better:  &Candidate{Path: "b", HasReports: true, LastActivity: day(1)},
			worse:   &Candidate{Path: "a", LastActivity: day(9), FileCount: 50},
			explain: "has recorded reports",
		},
		{
			name:    "activity beats file count",
			better:  &Candidate{Path: "b", LastActivity: day(9), FileCount: 1},
			worse:   &Candidate{Path: "a", LastActivity: day(1), FileCount: 50},
			explain: "most recent activity (2025-11-09)",
		},
		{
			name:    "file count beats location",
			better:  &Candidate{Path: "b", LastActivity: day(1), FileCount: 5, Location: LocationArchive},
			worse:   &Candidate{Path: "a", LastActivity: day(1), FileCount: 4, Location: LocationActive},
			explain: "most complete (5 files)",
		},
		{
			name:    "location breaks ties",
			better:  &Candidate{Path: "b", LastActivity: day(1), Location: LocationActive},
			worse:   &Candidate{Path: "a", LastActivity: day(1), Location: LocationArchive},
			explain: "in active location",
		},
		{
			name:    "path is the final tie-break",
			better:  &Candidate{Path: "a", LastActivity: day(1)},
			worse:   &Candidate{Path: "b", LastActivity: day(1)},
			explain: "default selection",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := []*Candidate{tt.worse, tt.better}
			ranked := Rank(all, DefaultComparators)
			assert.Same(t, tt.better, ranked[0])
			assert.Same(t, tt.worse, all[0], "input is not reordered")
			assert.Equal(t, tt.explain, Explain(tt.better, all, DefaultComparators))
		})
	}
}

type fixture struct {
	root   string
	winner string
	loser  string
	dup    *Duplicate
}

func newDuplicateFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{root: root}
	f.winner = mkCopy(t, root, copySpec{
		name: "0005-winner", status: increment.StatusActive, activity: day(14),
		external: map[string]increment.IssueLink{"github": {ID: "12"}},
		files: map[string]string{
			"spec.md":                "# Winner",
			"reports/same-report.md": "# Winner Report",
		},
	})
	f.loser = mkCopy(t, root, copySpec{
		area: increment.ArchiveDir, name: "0005-loser", status: increment.StatusCompleted, activity: day(13),
		external: map[string]increment.IssueLink{"github": {ID: "99"}, "jira": {ID: "PROJ-123"}},
		files: map[string]string{
			"reports/same-report.md":  "# Loser Report",
			"reports/extra-report.md": "# Extra",
		},
	})

	report, err := Detect(root)
	require.NoError(t, err)
	require.Len(t, report.Duplicates, 1)
	f.dup = report.Duplicates[0]
	require.Equal(t, f.winner, f.dup.Winner.Path)
	return f
}

func newResolver(c Confirmer) *Resolver {
	return NewResolver(WithConfirmer(c), WithClock(func() time.Time { return fixedNow }))
}

func TestResolve_MergeAndForce(t *testing.T) {
	f := newDuplicateFixture(t)

	res, err := newResolver(nil).Resolve(context.Background(), f.dup, Options{Merge: true, Force: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"reports/extra-report.md", "reports/same-report-MERGED-0005-loser.md"}, res.Merged)
	assert.Equal(t, []string{"jira"}, res.LinksMerged)
	assert.Equal(t, []string{f.loser}, res.Deleted)
	assert.NoDirExists(t, f.loser)

	data, err := os.ReadFile(filepath.Join(f.winner, "reports", "same-report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Winner Report", string(data), "winner file is never overwritten")
	data, err = os.ReadFile(filepath.Join(f.winner, "reports", "same-report-MERGED-0005-loser.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Loser Report", string(data))

	meta, _, err := increment.LoadMetadata(f.winner)
	require.NoError(t, err)
	assert.Equal(t, "12", meta.External["github"].ID, "winner link takes precedence")
	assert.Equal(t, "PROJ-123", meta.External["jira"].ID)

	assert.Equal(t, filepath.Join(f.winner, "reports", "DUPLICATE-RESOLUTION-20251120-100000.md"), res.ReportPath)
	report, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	for _, want := range []string{"# Duplicate Resolution Report", "0005", "0005-winner", "0005-loser", "most recent activity (2025-11-14)", "## Deleted"} {
		assert.Contains(t, string(report), want)
	}
}

func TestResolve_DryRunTouchesNothing(t *testing.T) {
	f := newDuplicateFixture(t)
	confirm := ConfirmFunc(func(context.Context, string) (bool, error) {
		t.Fatal("dry run must not prompt")
		return false, nil
	})

	res, err := newResolver(confirm).Resolve(context.Background(), f.dup, Options{Merge: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Merged, 2)
	assert.Equal(t, []string{"jira"}, res.LinksMerged)
	assert.Equal(t, []string{f.loser}, res.Deleted)

	assert.DirExists(t, f.loser)
	assert.NoFileExists(t, filepath.Join(f.winner, "reports", "extra-report.md"))
	assert.NoFileExists(t, res.ReportPath)
	meta, _, err := increment.LoadMetadata(f.winner)
	require.NoError(t, err)
	assert.NotContains(t, meta.External, "jira")
}

func TestResolve_MergedNamesNeverCollide(t *testing.T) {
	root := t.TempDir()
	winner := mkCopy(t, root, copySpec{
		name: "0005-loser", status: increment.StatusActive, activity: day(14),
		files: map[string]string{
			"reports/same-report.md":                  "# Winner Report",
			"reports/same-report-MERGED-0005-loser.md": "# Earlier Merge",
		},
	})
	for i, area := range []string{increment.ArchiveDir, increment.AbandonedDir} {
		mkCopy(t, root, copySpec{
			area: area, name: "0005-loser", status: increment.StatusCompleted, activity: day(13 - i),
			files: map[string]string{
				"reports/same-report.md": "# " + area,
				"reports/new.md":         "# New " + area,
			},
		})
	}
	report, err := Detect(root)
	require.NoError(t, err)
	require.Len(t, report.Duplicates, 1)
	dup := report.Duplicates[0]
	require.Equal(t, winner, dup.Winner.Path)

	want := []string{
		"reports/same-report-MERGED-0005-loser-2.md",
		"reports/new.md",
		"reports/same-report-MERGED-0005-loser-3.md",
		"reports/new-MERGED-0005-loser.md",
	}
	dry, err := newResolver(nil).Resolve(context.Background(), dup, Options{Merge: true, DryRun: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, want, dry.Merged)

	res, err := newResolver(nil).Resolve(context.Background(), dup, Options{Merge: true, Force: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, dry.Merged, res.Merged, "dry run predicts the real names")

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(winner, filepath.FromSlash(rel)))
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "# Earlier Merge", read("reports/same-report-MERGED-0005-loser.md"))
	assert.Equal(t, "# "+increment.ArchiveDir, read("reports/same-report-MERGED-0005-loser-2.md"))
	assert.Equal(t, "# "+increment.AbandonedDir, read("reports/same-report-MERGED-0005-loser-3.md"))
	assert.Equal(t, "# New "+increment.ArchiveDir, read("reports/new.md"))
	assert.Equal(t, "# New "+increment.AbandonedDir, read("reports/new-MERGED-0005-loser.md"))
}

func TestResolve_DeclinedDeletionKeepsLosers(t *testing.T) {
	f := newDuplicateFixture(t)
	var prompt string
	confirm := ConfirmFunc(func(_ context.Context, p string) (bool, error) {
		prompt = p
		return false, nil
	})

	res, err := newResolver(confirm).Resolve(context.Background(), f.dup, Options{})
	require.NoError(t, err)
	assert.Contains(t, prompt, "0005")
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{f.loser}, res.Kept)
	assert.Empty(t, res.Merged)
	assert.DirExists(t, f.loser)
	assert.FileExists(t, res.ReportPath)
}

func TestResolve_ConfirmedDeletion(t *testing.T) {
	f := newDuplicateFixture(t)
	confirm := ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

	res, err := newResolver(confirm).Resolve(context.Background(), f.dup, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{f.loser}, res.Deleted)
	assert.NoDirExists(t, f.loser)
}

func TestResolve_NoConfirmerRequiresForce(t *testing.T) {
	f := newDuplicateFixture(t)

	res, err := newResolver(nil).Resolve(context.Background(), f.dup, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{f.loser}, res.Kept)
	assert.DirExists(t, f.loser)
}

func TestResolveAll_ContinuesPastFailures(t *testing.T) {
	f := newDuplicateFixture(t)
	broken := &Duplicate{
		Number: "0009",
		Winner: &Candidate{Name: "0009-gone", Path: filepath.Join(f.root, "missing")},
		Losers: []*Candidate{{Name: "0009-other", Path: filepath.Join(f.root, "other")}},
	}

	out, errs := newResolver(nil).ResolveAll(context.Background(), []*Duplicate{broken, f.dup}, Options{Force: true})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], syncerrors.ErrConflict)
	assert.Equal(t, syncerrors.CodeConflictResolution, syncerrors.CodeOf(errs[0]))
	require.Len(t, out, 1)
	assert.Equal(t, "0005", out[0].Number)
	assert.NoDirExists(t, f.loser)
}
