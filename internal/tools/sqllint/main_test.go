package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGo(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestLintAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\n"+
		"const cols = `id, name`\n\n"+
		"const QOne = `--sql 19a2a569-ad6d-43bf-b951-629a30c6e3d8\nselect ` + cols + ` from t;`\n\n"+
		"const QTwo = \"--sql 88ea64d2-3390-4aec-992d-1a2b72440b70\\ndelete from t where id = $1\"\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestLintFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QBad = `select 1 + ` + `1`\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "QBad", vs[0].name)
	assert.Equal(t, 3, vs[0].line)
}

func TestLintFlagsDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QA = `--sql 19a2a569-ad6d-43bf-b951-629a30c6e3d8\nselect 1`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QB = `--sql 19a2a569-ad6d-43bf-b951-629a30c6e3d8\nselect 2`\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "QB", vs[0].name)
	assert.Contains(t, vs[0].message, "QA")
}

func TestLintSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q_test.go", "package q\n\nconst fixture = `select 1`\n")

	vs, err := lint([]string{dir})
	require.NoError(t, err)
	assert.Empty(t, vs)
}
