package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixedMarkersTasks = `---
increment: 0001-auth
total_tasks: 4
completed: 1
---

# Tasks

## Phase 1

### T-001: Set up schema
**AC**: AC-US1-01
**Status**: [x] completed

### T-002: Login endpoint
**AC**: AC-US1-01, AC-US1-02
- [x] Completed
**Status**: [x] completed
**Completed**: 2025-11-18

### T-003: Session refresh ✅ COMPLETE
**AC**: AC-US2-01
**Status**: done

### T-004: Logout
**AC**: AC-US2-01
**Status**: [ ] pending
- [x] Write handler
`

func TestParseTasks_NoOvercount(t *testing.T) {
	doc := ParseTasksDocument(mixedMarkersTasks)

	require.Empty(t, doc.Errors)
	require.Len(t, doc.Tasks, 4)

	counts := doc.Counts()
	assert.Equal(t, 4, counts.Total)
	assert.Equal(t, 3, counts.Completed, "a section with several markers counts once")
	assert.Equal(t, 75, counts.Percentage())

	assert.Equal(t, []string{"T-001", "T-002", "T-003", "T-004"}, []string{
		doc.Tasks[0].ID, doc.Tasks[1].ID, doc.Tasks[2].ID, doc.Tasks[3].ID,
	})
	assert.False(t, doc.Tasks[3].Completed, "a checked sub-step does not complete the task")
	assert.Equal(t, "Session refresh", doc.Tasks[2].Title)
}

func TestParseTasks_Fields(t *testing.T) {
	tasks, errs := ParseTasks(mixedMarkersTasks)
	require.Empty(t, errs)

	t2 := tasks[1]
	assert.Equal(t, "Login endpoint", t2.Title)
	assert.Equal(t, []string{"AC-US1-01", "AC-US1-02"}, t2.ACIDs)
	require.NotNil(t, t2.CompletedDate)
	assert.Equal(t, time.Date(2025, 11, 18, 0, 0, 0, 0, time.UTC), *t2.CompletedDate)
	assert.Equal(t, 15, t2.Line)
}

func TestParseTasks_MarkerStyles(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"checkbox status", "### T-001: A\n**Status**: [x] completed\n", true},
		{"open checkbox status", "### T-001: A\n**Status**: [ ] pending\n", false},
		{"plain status word", "### T-001: A\nStatus: Done\n", true},
		{"status in progress", "### T-001: A\n**Status**: in progress\n", false},
		{"completion date", "### T-001: A\n**Completed**: 2025-01-02\n", true},
		{"completion date invalid", "### T-001: A\n**Completed**: soon\n", false},
		{"checked completed item", "### T-001: A\n- [x] Completed\n", true},
		{"checked id item", "### T-001: A\n- [x] **T-001**\n", true},
		{"checked other id item with open step", "### T-001: A\n- [x] T-002\n- [ ] Tests\n", false},
		{"indented checked item", "### T-001: A\n  - [x] Done\n", false},
		{"all sub-steps checked", "#### T-001: A\n**AC**: AC-US1-01\n- [x] Implement handler\n- [x] Write tests\n", true},
		{"some sub-steps open", "#### T-001: A\n- [x] Implement handler\n- [ ] Write tests\n", false},
		{"sub-steps checked but status open", "### T-001: A\n**Status**: [ ] pending\n- [x] Write handler\n", false},
		{"completion item beside open step", "### T-001: A\n- [x] Done\n- [ ] Follow-up\n", true},
		{"heading checkbox prefix", "### [x] T-001: A\n", true},
		{"heading checkbox suffix", "### T-001: A [x]\n", true},
		{"heading emoji", "## T-001: A ✅\n", true},
		{"status after blank lines", "### T-001: A\n\nSome text.\n\n**Status:** [x] completed\n", true},
		{"marker in code fence", "### T-001: A\n```\n**Status**: [x] completed\n```\n", false},
		{"no marker", "### T-001: A\nDescription only.\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, errs := ParseTasks(tt.text)
			require.Empty(t, errs)
			require.Len(t, tasks, 1)
			assert.Equal(t, tt.want, tasks[0].Completed)
		})
	}
}

func TestParseTasks_HeadingVariants(t *testing.T) {
	text := `## T-001: Two marker heading
# T-002: One marker heading
### **T-003**: Emphasized id
### **T-004:** Colon inside emphasis
#### Task T-005: Prefixed
### T-006E: Imported from tracker
`
	tasks, errs := ParseTasks(text)
	require.Empty(t, errs)
	require.Len(t, tasks, 6)

	for i, want := range []string{"T-001", "T-002", "T-003", "T-004", "T-005", "T-006E"} {
		assert.Equal(t, want, tasks[i].ID)
	}
	assert.Equal(t, "Colon inside emphasis", tasks[3].Title)
	assert.True(t, tasks[5].External)
	assert.False(t, tasks[0].External)
	assert.Equal(t, "Imported from tracker", tasks[5].Title)
}

func TestParseTasks_ExternalParsesLikeNative(t *testing.T) {
	native, _ := ParseTasks("### T-010: Work\n**AC**: AC-US1-01\n**Status**: [x] completed\n")
	external, _ := ParseTasks("### T-010E: Work\n**AC**: AC-US1E-01\n**Status**: [x] completed\n")
	require.Len(t, native, 1)
	require.Len(t, external, 1)

	assert.Equal(t, native[0].Completed, external[0].Completed)
	assert.Equal(t, native[0].Title, external[0].Title)
	assert.Equal(t, []string{"AC-US1E-01"}, external[0].ACIDs)
	assert.True(t, external[0].External)
}

func TestParseTasks_MalformedExcluded(t *testing.T) {
	text := `### T-001: Good
**Status**: [x] completed

### T-: No number
**Status**: [x] completed

### T-003 Missing separator
**Status**: [x] completed

### T-004: Also good

### T-001: Duplicate
**Status**: [x] completed
`
	tasks, errs := ParseTasks(text)

	require.Len(t, tasks, 2)
	assert.Equal(t, "T-001", tasks[0].ID)
	assert.Equal(t, "T-004", tasks[1].ID)
	assert.False(t, tasks[1].Completed, "markers under malformed headings must not leak")

	require.Len(t, errs, 3)
	assert.Equal(t, 4, errs[0].Line)
	assert.Contains(t, errs[1].Reason, "separator")
	assert.Contains(t, errs[2].Reason, "duplicate task id T-001")
}

func TestParseTasks_SectionBoundaries(t *testing.T) {
	text := `## Phase 1
### T-001: First
**AC**: AC-US1-01

## Notes
- [x] Done
**Status**: completed
`
	tasks, errs := ParseTasks(text)
	require.Empty(t, errs)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Completed, "markers after a shallower heading belong to no task")
}

func TestParseTasks_EmptyACList(t *testing.T) {
	tasks, _ := ParseTasks("### T-001: Unlinked\n**Status**: [x] completed\n")
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].ACIDs)
}

func TestParseACs(t *testing.T) {
	text := `# Spec

## US-001: Login

- [x] AC-US1-01: User can log in
- [ ] **AC-US1-02**: Invalid password is rejected
  - [ ] AC-US1-03: Nested criterion

## US-002E: Imported story

- [ ] AC-US2E-01: Synced from tracker
- [ ] AC-US2E-01: duplicate
- [x] AC-X: malformed
- [ ] AC-US3-01 missing separator
- [x] Not an AC at all
`
	acs, errs := ParseACs(text)

	require.Len(t, acs, 4)
	assert.Equal(t, "AC-US1-01", acs[0].ID)
	assert.True(t, acs[0].Completed)
	assert.Equal(t, "US-001", acs[0].UserStoryID)
	assert.Equal(t, "User can log in", acs[0].Description)
	assert.Equal(t, "- [x] AC-US1-01: User can log in", acs[0].Raw)

	assert.Equal(t, "AC-US1-02", acs[1].ID)
	assert.False(t, acs[1].Completed)
	assert.Equal(t, "Invalid password is rejected", acs[1].Description)

	assert.Equal(t, "AC-US1-03", acs[2].ID)

	assert.Equal(t, "US-002E", acs[3].UserStoryID)
	assert.True(t, acs[3].External)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Reason, "duplicate")
	assert.Contains(t, errs[1].Reason, "valid id")
	assert.Contains(t, errs[2].Reason, "separator")
}

func TestSetCheckbox(t *testing.T) {
	tests := []struct {
		raw     string
		checked bool
		want    string
	}{
		{"- [ ] AC-US1-01: a", true, "- [x] AC-US1-01: a"},
		{"- [x] AC-US1-01: a", false, "- [ ] AC-US1-01: a"},
		{"- [X] AC-US1-01: a", true, "- [x] AC-US1-01: a"},
		{"  * [ ] **AC-US1-01**: a", true, "  * [x] **AC-US1-01**: a"},
		{"plain text", true, "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SetCheckbox(tt.raw, tt.checked), tt.raw)
	}
}

func TestSplitACList(t *testing.T) {
	assert.Equal(t, []string{"AC-US1-01", "AC-US2-03"}, SplitACList("AC-US1-01, **AC-US2-03**, AC-US1-01"))
	assert.Equal(t, []string{"AC-US1E-02"}, SplitACList("(AC-US1E-02)"))
	assert.Empty(t, SplitACList("none yet"))
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 8, 13},
		{3, 4, 75},
		{4, 4, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percentage(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}
