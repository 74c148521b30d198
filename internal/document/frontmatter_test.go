package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontmatter(t *testing.T) {
	fm, err := ParseFrontmatter("---\nincrement: 0001-auth\ntotal_tasks: 5\ncompleted: 2\n---\n\n# Tasks\n")
	require.NoError(t, err)
	require.NotNil(t, fm)
	assert.True(t, fm.HasCounts())
	assert.Equal(t, Counts{Completed: 2, Total: 5}, fm.Counts())
	assert.Equal(t, 1, fm.Open)
	assert.Equal(t, 5, fm.Close)
}

func TestParseFrontmatter_Absent(t *testing.T) {
	fm, err := ParseFrontmatter("# Tasks\n")
	require.NoError(t, err)
	assert.Nil(t, fm)
	assert.False(t, fm.HasCounts())
	assert.Equal(t, Counts{}, fm.Counts())
}

func TestParseFrontmatter_MissingCounter(t *testing.T) {
	fm, err := ParseFrontmatter("---\ntotal_tasks: 3\n---\n")
	require.NoError(t, err)
	assert.False(t, fm.HasCounts())
	assert.Equal(t, Counts{Total: 3}, fm.Counts())
}

func TestParseFrontmatter_Errors(t *testing.T) {
	_, err := ParseFrontmatter("---\ntotal_tasks: 3\n")
	assert.Error(t, err)

	fm, err := ParseFrontmatter("---\ntotal_tasks: many\n---\n")
	assert.Error(t, err)
	require.NotNil(t, fm)
	assert.False(t, fm.HasCounts())
}

func TestWriteCounts_UpdatesOnlyCounterLines(t *testing.T) {
	in := "---\nincrement: 0001-auth\ntotal_tasks: 4\ncompleted: 1 # stale\n---\n\n### T-001: A\n**Status**: [x] completed\n"
	out, err := WriteCounts(in, Counts{Completed: 3, Total: 4})
	require.NoError(t, err)

	want := "---\nincrement: 0001-auth\ntotal_tasks: 4\ncompleted: 3\n---\n\n### T-001: A\n**Status**: [x] completed\n"
	assert.Equal(t, want, out)

	fm, err := ParseFrontmatter(out)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 3, Total: 4}, fm.Counts())
}

func TestWriteCounts_AppendsMissingKeys(t *testing.T) {
	in := "---\r\nincrement: 0002\r\n---\r\nbody\r\n"
	out, err := WriteCounts(in, Counts{Completed: 1, Total: 2})
	require.NoError(t, err)
	assert.Equal(t, "---\r\nincrement: 0002\r\ntotal_tasks: 2\r\ncompleted: 1\r\n---\r\nbody\r\n", out)
}

func TestWriteCounts_CreatesHeader(t *testing.T) {
	out, err := WriteCounts("# Tasks\n", Counts{Completed: 0, Total: 0})
	require.NoError(t, err)
	assert.Equal(t, "---\ntotal_tasks: 0\ncompleted: 0\n---\n\n# Tasks\n", out)
}

func TestWriteCounts_IgnoresNestedKeys(t *testing.T) {
	in := "---\nsummary:\n  completed: 9\n---\n"
	out, err := WriteCounts(in, Counts{Completed: 1, Total: 1})
	require.NoError(t, err)
	assert.Equal(t, "---\nsummary:\n  completed: 9\ntotal_tasks: 1\ncompleted: 1\n---\n", out)
}

func TestWriteCounts_Unterminated(t *testing.T) {
	in := "---\ntotal_tasks: 1\n"
	out, err := WriteCounts(in, Counts{Completed: 1, Total: 1})
	assert.ErrorIs(t, err, ErrUnterminatedFrontmatter)
	assert.Equal(t, in, out)
}

func TestWriteFields_RewritesStatusOnly(t *testing.T) {
	in := "---\nstatus: active\ntype: feature\n---\n\n# Auth\nstatus: active\n"
	out, err := WriteFields(in, Field{Key: "status", Value: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "---\nstatus: completed\ntype: feature\n---\n\n# Auth\nstatus: active\n", out)
}
