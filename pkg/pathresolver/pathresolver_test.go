package pathresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectDir(t *testing.T) {
	r := New("/data")
	dir, err := r.ProjectDir("p1")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1", dir)
}

func TestBranchDir(t *testing.T) {
	r := New("/data")
	dir, err := r.BranchDir("p1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1_branch_b1", dir)
}

func TestEffectiveDir(t *testing.T) {
	r := New("/data")

	main, err := r.EffectiveDir("p1", "")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1", main)

	branch, err := r.EffectiveDir("p1", "b1")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1_branch_b1", branch)
}

func TestTablePath(t *testing.T) {
	r := New("/data")

	path, err := r.TablePath("p1", "", "in_c", "users")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1/in_c/users.duckdb", path)

	branchPath, err := r.TablePath("p1", "b1", "in_c", "users")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1_branch_b1/in_c/users.duckdb", branchPath)
}

func TestMainTablePath(t *testing.T) {
	r := New("/data")
	path, err := r.MainTablePath("p1", "in_c", "users")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1/in_c/users.duckdb", path)
}

func TestWorkspacePath(t *testing.T) {
	r := New("/data")
	path, err := r.WorkspacePath("p1", "", "ws_abc123")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1/_workspaces/ws_abc123.duckdb", path)
}

func TestSnapshotPath(t *testing.T) {
	r := New("/data")
	path, err := r.SnapshotPath("snap1")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/_snapshots/snap1.duckdb", path)
}

func TestCatalogPath(t *testing.T) {
	r := New("/data")
	path, err := r.CatalogPath("p1")
	require.NoError(t, err)
	assert.Equal(t, "/data/duckdb/project_p1/_catalog.duckdb", path)
}

func TestValidateSegmentRejectsTraversal(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "empty", id: ""},
		{name: "slash", id: "a/b"},
		{name: "backslash", id: "a\\b"},
		{name: "dotdot", id: ".."},
		{name: "dot", id: "."},
		{name: "nul byte", id: "a\x00b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegment("table", tt.id)
			assert.Error(t, err)
		})
	}
}

func TestTablePathRejectsInvalidSegments(t *testing.T) {
	r := New("/data")

	_, err := r.TablePath("../escape", "", "bucket", "table")
	assert.Error(t, err)

	_, err = r.TablePath("p1", "", "bucket", "../../etc/passwd")
	assert.Error(t, err)
}
