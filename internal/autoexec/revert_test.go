package autoexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
)

func TestRevertDeletesCreatedFileAndDirs(t *testing.T) {
	e, log, ws := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "new/dir/a.txt", "content", "x"), "c1", true)

	state := e.State("c1")
	require.NotNil(t, state)
	require.NoError(t, e.Revert(state))

	_, err := os.Stat(filepath.Join(ws, "new", "dir", "a.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ws, "new"))
	assert.True(t, os.IsNotExist(err), "empty created dirs must be pruned")

	reverts := log.ofKind(ports.EventCoderFileRevert)
	require.Len(t, reverts, 1)
	assert.Equal(t, "deleted", reverts[0].Payload["reverted_to"])
}

func TestRevertKeepsDirsThatBecameNonEmpty(t *testing.T) {
	e, _, ws := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "new/a.txt", "content", "x"), "c1", true)

	// Concurrent user activity drops another file into the created dir.
	require.NoError(t, os.WriteFile(filepath.Join(ws, "new", "user.txt"), []byte("keep"), 0o644))

	require.NoError(t, e.Revert(e.State("c1")))
	_, err := os.Stat(filepath.Join(ws, "new", "a.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ws, "new", "user.txt"))
	assert.NoError(t, err, "user file must survive")
}

func TestRevertRestoresOverwrittenFile(t *testing.T) {
	e, log, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("original"), 0o644))

	e.AutoExec("file.write", params("file_path", "a.txt", "content", "replaced"), "c1", true)
	require.NoError(t, e.Revert(e.State("c1")))

	data, _ := os.ReadFile(filepath.Join(ws, "a.txt"))
	assert.Equal(t, "original", string(data))

	reverts := log.ofKind(ports.EventCoderFileRevert)
	require.Len(t, reverts, 1)
	assert.Equal(t, "content", reverts[0].Payload["reverted_to"])
	assert.Equal(t, "original", reverts[0].Payload["content"])
}

func TestRevertFindReplacePreservesUserEdits(t *testing.T) {
	e, _, ws := newTestEngine(t)
	path := filepath.Join(ws, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("keep\nfoo\nkeep"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "find_replace",
		"find_text", "foo",
		"replace_text", "bar",
	), "c1", true)

	// User edits an unrelated line before the decision arrives.
	require.NoError(t, os.WriteFile(path, []byte("EDITED\nbar\nkeep"), 0o644))

	require.NoError(t, e.Revert(e.State("c1")))
	data, _ := os.ReadFile(path)
	assert.Equal(t, "EDITED\nfoo\nkeep", string(data))
}

func TestRevertFindReplaceFallsBackWhenReplacementGone(t *testing.T) {
	e, _, ws := newTestEngine(t)
	path := filepath.Join(ws, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "find_replace",
		"find_text", "foo",
		"replace_text", "bar",
	), "c1", true)

	// User deletes the replacement entirely.
	require.NoError(t, os.WriteFile(path, []byte("something else"), 0o644))

	require.NoError(t, e.Revert(e.State("c1")))
	data, _ := os.ReadFile(path)
	assert.Equal(t, "foo", string(data), "fallback restores the original")
}

func TestRevertLineRangePreservesSurroundingEdits(t *testing.T) {
	e, _, ws := newTestEngine(t)
	path := filepath.Join(ws, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "line_range",
		"start_line", "2",
		"end_line", "3",
		"new_content", "TWO\nTHREE",
	), "c1", true)

	// User edits the last line while the tool awaits approval.
	require.NoError(t, os.WriteFile(path, []byte("one\nTWO\nTHREE\nFOUR-edited"), 0o644))

	require.NoError(t, e.Revert(e.State("c1")))
	data, _ := os.ReadFile(path)
	assert.Equal(t, "one\ntwo\nthree\nFOUR-edited", string(data))
}

func TestRevertNilState(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Error(t, e.Revert(nil))
}
