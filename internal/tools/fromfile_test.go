package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeImportFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func callFromFile(t *testing.T, f *fixture, path string) toolError {
	t.Helper()
	res, err := f.reg.Call(context.Background(), "mcp-tasks-from-file", map[string]any{"filePath": path})
	require.NoError(t, err)
	return errorOf(t, res)
}

func TestFromFileImportsTasks(t *testing.T) {
	dir := t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{dir})
	path := writeImportFile(t, dir, "import.json",
		`[{"title":"from file 1","status":"TODO"},{"title":"from file 2","status":"DONE","dueDate":"2026-09-01"}]`)

	res, err := f.reg.Call(context.Background(), "mcp-tasks-from-file", map[string]any{"filePath": path})
	require.NoError(t, err)
	p := jsonOf(t, res)
	require.Equal(t, "PENDING", p["status"])
	require.Equal(t, float64(2), p["totalTasks"])

	waitCompleted(t, f, p["jobId"].(string))
	all, err := f.store.FindAll(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFromFileAcceptsUppercaseExtension(t *testing.T) {
	dir := t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{dir})
	path := writeImportFile(t, dir, "UPPER.JSON", `[{"title":"shouty","status":"TODO"}]`)

	res, err := f.reg.Call(context.Background(), "mcp-tasks-from-file", map[string]any{"filePath": path})
	require.NoError(t, err)
	p := jsonOf(t, res)
	waitCompleted(t, f, p["jobId"].(string))
}

func TestFromFileRejectsHomePaths(t *testing.T) {
	f := newFixture(t)
	// the home gate runs before every other check
	for _, path := range []string{"~/tasks.json", "~", "~user/data.json"} {
		te := callFromFile(t, f, path)
		require.Equal(t, CodeValidation, te.Code, path)
		require.Equal(t, "Home directory paths are not allowed", te.Error, path)
	}
}

func TestFromFileRejectsNonJSONExtension(t *testing.T) {
	f := newFixture(t)
	// extension is checked before containment, so traversal without .json
	// gets the extension message
	for _, path := range []string{"/etc/passwd", "tasks.txt", "../../escape", "tasks.json.bak"} {
		te := callFromFile(t, f, path)
		require.Equal(t, CodeValidation, te.Code, path)
		require.Equal(t, "Only .json files are allowed", te.Error, path)
	}
}

func TestFromFileRejectsPathsOutsideRoots(t *testing.T) {
	dir := t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{dir})

	for _, path := range []string{
		"/etc/shadow.json",
		filepath.Join(dir, "..", "escape.json"),
		"../relative-escape.json",
	} {
		te := callFromFile(t, f, path)
		require.Equal(t, CodeValidation, te.Code, path)
		require.Equal(t, "File path is outside of allowed directories", te.Error, path)
	}
}

func TestFromFileRejectsSymlinkEscape(t *testing.T) {
	allowed, outside := t.TempDir(), t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{allowed})
	target := writeImportFile(t, outside, "real.json", `[{"title":"sneaky","status":"TODO"}]`)
	link := filepath.Join(allowed, "link.json")
	require.NoError(t, os.Symlink(target, link))

	te := callFromFile(t, f, link)
	require.Equal(t, CodeValidation, te.Code)
	require.Equal(t, "File path is outside of allowed directories", te.Error)
}

func TestFromFileUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{dir})

	te := callFromFile(t, f, filepath.Join(dir, "missing.json"))
	require.Equal(t, CodeValidation, te.Code)
	require.Equal(t, "Could not read file", te.Error)
}

func TestFromFileContentGates(t *testing.T) {
	dir := t.TempDir()
	f := newTunedFixture(t, defaultPool(), nil, []string{dir})

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"not-array.json", `{"title":"obj"}`, "input is not a JSON array of task objects"},
		{"garbage.json", `{not json`, "input is not a JSON array of task objects"},
		{"empty.json", `[]`, "tasks array must not be empty"},
		{"bad-item.json", `[{"title":"ok","status":"TODO"},{"status":"TODO"}]`, "task at index 1 is invalid: title is required"},
		{"bad-type.json", `[{"title":42,"status":"TODO"}]`, "task at index 0 is invalid: field 'title' has the wrong type"},
	}
	for _, tc := range tests {
		path := writeImportFile(t, dir, tc.name, tc.content)
		te := callFromFile(t, f, path)
		require.Equal(t, CodeValidation, te.Code, tc.name)
		require.Equal(t, tc.want, te.Error, tc.name)
	}
}
