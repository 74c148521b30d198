package propagate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
)

const specText = `---
status: active
---

# User Auth

## US-001: Login

- [ ] AC-US1-01: User can log in
- [ ] **AC-US1-02**: Bad password is rejected

## US-002: Sessions

- [x] AC-US2-01: Sessions expire
- [x] AC-US2-02: Verified manually
`

const tasksText = `---
total_tasks: 3
completed: 2
---

### T-001: Login endpoint
**AC**: AC-US1-01, AC-US1-02
**Status**: [x] completed

### T-002: Password check
**AC**: AC-US1-02
**Completed**: 2025-11-18

### T-003: Session expiry
**AC**: AC-US2-01
**Status**: [ ] pending
`

func setup(t *testing.T, spec, tasks string) (*Propagator, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, increment.StateDir, increment.IncrementsDir, "0001-auth")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, increment.SpecFile), []byte(spec), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, increment.TasksFile), []byte(tasks), 0644))
	return New(increment.NewWorkspace(root), nil), dir
}

func readSpec(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, increment.SpecFile))
	require.NoError(t, err)
	return string(data)
}

func TestCompute(t *testing.T) {
	plan := Compute(specText, tasksText)

	require.Len(t, plan.Changes, 3)
	assert.Equal(t, "AC-US1-01", plan.Changes[0].ACID)
	assert.True(t, plan.Changes[0].To)
	assert.Equal(t, "AC-US1-02", plan.Changes[1].ACID)
	assert.True(t, plan.Changes[1].To)
	assert.Equal(t, 2, plan.Changes[1].Total)
	assert.Equal(t, "AC-US2-01", plan.Changes[2].ACID)
	assert.False(t, plan.Changes[2].To, "an incomplete supporting task unchecks the AC")

	assert.Equal(t, []StoryStatus{
		{ID: "US-001", Completed: 2, Total: 2, Complete: true},
		{ID: "US-002", Completed: 1, Total: 2, Complete: false},
	}, plan.Stories)
	assert.False(t, plan.IncrementComplete)
	assert.Equal(t, 1, plan.StoriesComplete())

	// AC-US2-02 has no tasks: authored value stands
	ac := plan.ACs[3]
	assert.Equal(t, "AC-US2-02", ac.ID)
	assert.True(t, ac.Completed)
	assert.Contains(t, plan.Warnings, "AC-US2-02: [x] but no tasks found (manual verification?)")
}

func TestCompute_SingleLineDiffs(t *testing.T) {
	plan := Compute(specText, tasksText)

	before := strings.Split(specText, "\n")
	after := strings.Split(plan.SpecText, "\n")
	require.Equal(t, len(before), len(after))

	var diff []int
	for i := range before {
		if before[i] != after[i] {
			diff = append(diff, i+1)
		}
	}
	assert.Equal(t, []int{9, 10, 14}, diff)
	assert.Equal(t, "- [x] **AC-US1-02**: Bad password is rejected", after[9])
}

func TestCompute_Idempotent(t *testing.T) {
	first := Compute(specText, tasksText)
	second := Compute(first.SpecText, tasksText)

	assert.Empty(t, second.Changes)
	assert.Equal(t, first.SpecText, second.SpecText)
}

func TestCompute_IncrementComplete(t *testing.T) {
	spec := "- [ ] AC-US1-01: a\n- [ ] AC-US1E-01: b\n"
	tasks := "### T-001: A\n**AC**: AC-US1-01\n**Status**: done\n\n### T-002E: B\n**AC**: AC-US1E-01\n✅ **Status**: done\n- [x] Done\n"

	plan := Compute(spec, tasks)
	assert.Len(t, plan.Changes, 2)
	assert.True(t, plan.IncrementComplete)
	require.Len(t, plan.Stories, 2)
	assert.Equal(t, "US-001E", plan.Stories[1].ID)

	empty := Compute("# no ACs\n", tasks)
	assert.False(t, empty.IncrementComplete, "an increment without ACs is never complete")
}

func TestCompute_SubStepChecklist(t *testing.T) {
	spec := "- [ ] AC-US1-01: Login works\n- [ ] AC-US1-02: Logout works\n"
	tasks := `#### T-001: Login endpoint
**AC**: AC-US1-01
- [x] Implement handler
- [x] Write tests

#### T-002: Logout endpoint
**AC**: AC-US1-02
- [x] Implement handler
- [ ] Write tests
`
	plan := Compute(spec, tasks)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "AC-US1-01", plan.Changes[0].ACID)
	assert.True(t, plan.Changes[0].To)
	assert.Equal(t, "- [x] AC-US1-01: Login works\n- [ ] AC-US1-02: Logout works\n", plan.SpecText)
	assert.False(t, plan.IncrementComplete)
}

func TestCompute_UnlinkedTasksIgnored(t *testing.T) {
	spec := "- [ ] AC-US1-01: a\n"
	tasks := "### T-001: A\n**Status**: done\n"

	plan := Compute(spec, tasks)
	assert.Empty(t, plan.Changes)
	assert.Equal(t, spec, plan.SpecText)
	assert.Contains(t, plan.Warnings, "AC-US1-01: has no tasks mapped")
}

func TestRun_WritesOnceAndIsIdempotent(t *testing.T) {
	p, dir := setup(t, specText, tasksText)
	ctx := context.Background()

	res, err := p.Run(ctx, "0001", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ACsChanged)
	assert.Equal(t, 1, res.UserStoriesNowComplete)
	assert.False(t, res.IncrementNowComplete)
	assert.True(t, res.Written)

	spec := readSpec(t, dir)
	assert.Contains(t, spec, "- [x] AC-US1-01: User can log in")
	assert.Contains(t, spec, "- [ ] AC-US2-01: Sessions expire")

	again, err := p.Run(ctx, "0001-auth", Options{})
	require.NoError(t, err)
	assert.Zero(t, again.ACsChanged)
	assert.False(t, again.Written)
	assert.Equal(t, spec, readSpec(t, dir))

	tasks, err := os.ReadFile(filepath.Join(dir, increment.TasksFile))
	require.NoError(t, err)
	assert.Equal(t, tasksText, string(tasks), "tasks.md is never written")
}

func TestRun_NonMonotonic(t *testing.T) {
	spec := "- [ ] AC-US1-01: a\n"
	done := "### T-001: A\n**AC**: AC-US1-01\n**Status**: [x] completed\n"
	reopened := "### T-001: A\n**AC**: AC-US1-01\n**Status**: [ ] pending\n"

	p, dir := setup(t, spec, done)
	ctx := context.Background()

	res, err := p.Run(ctx, "0001", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ACsChanged)
	assert.True(t, res.IncrementNowComplete)
	assert.Equal(t, "- [x] AC-US1-01: a\n", readSpec(t, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, increment.TasksFile), []byte(reopened), 0644))
	res, err = p.Run(ctx, "0001", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ACsChanged)
	assert.False(t, res.IncrementNowComplete)
	assert.Equal(t, "- [ ] AC-US1-01: a\n", readSpec(t, dir))
}

func TestRun_DryRun(t *testing.T) {
	p, dir := setup(t, specText, tasksText)

	res, err := p.Run(context.Background(), "0001", Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ACsChanged)
	assert.False(t, res.Written)
	assert.Equal(t, specText, readSpec(t, dir))
}

func TestRun_MissingDocuments(t *testing.T) {
	p, dir := setup(t, specText, tasksText)
	require.NoError(t, os.Remove(filepath.Join(dir, increment.TasksFile)))

	_, err := p.Run(context.Background(), "0001", Options{})
	assert.True(t, errors.Is(err, syncerrors.ErrDocumentMissing))

	_, err = p.Run(context.Background(), "0099", Options{})
	assert.True(t, errors.Is(err, syncerrors.ErrIncrementNotFound))
}

func TestRun_CanceledContext(t *testing.T) {
	p, _ := setup(t, specText, tasksText)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "0001", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAll_OnlyWIPIncrements(t *testing.T) {
	p, _ := setup(t, specText, tasksText)
	root := p.ws.Root()

	planning := filepath.Join(root, increment.StateDir, increment.IncrementsDir, "0002-later")
	require.NoError(t, os.MkdirAll(planning, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(planning, increment.SpecFile), []byte(specText), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(planning, increment.TasksFile), []byte(tasksText), 0644))
	require.NoError(t, increment.SaveMetadata(planning, &increment.Metadata{Status: increment.StatusPlanning}))

	results, err := p.RunAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "0001-auth", results[0].IncrementID)
}

func TestMapping(t *testing.T) {
	spec := "- [ ] AC-US1-01: a\n- [ ] AC-US1-02: b\n"
	tasks := "### T-001: A\n**AC**: AC-US1-01, AC-US9-01\n"

	report := Mapping(spec, tasks)
	assert.False(t, report.Valid)
	assert.Equal(t, []string{"AC-US1-02"}, report.OrphanedACs)
	assert.Equal(t, []string{"AC-US9-01"}, report.InvalidReferences)

	plan := Compute(spec, tasks)
	assert.Contains(t, plan.Warnings, "AC-US9-01 referenced in tasks.md but not found in spec.md")
}

func TestSummarize(t *testing.T) {
	s := Summarize(tasksText)
	assert.Equal(t, 3, s.TotalACs)
	assert.Equal(t, 2, s.CompleteACs)
	assert.Equal(t, 1, s.IncompleteACs)
	assert.Equal(t, 67, s.Percentage)
	assert.Equal(t, []string{"T-001", "T-002"}, s.Coverage["AC-US1-02"].Tasks)
}
