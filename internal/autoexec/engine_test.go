package autoexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
	"loom/internal/toolregistry"
)

type eventLog struct {
	events []ports.Event
}

func (l *eventLog) emit(e ports.Event) {
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(kind ports.EventKind) []ports.Event {
	var out []ports.Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func params(pairs ...string) []toolregistry.RawParam {
	var out []toolregistry.RawParam
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, toolregistry.RawParam{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *eventLog, string) {
	t.Helper()
	ws := t.TempDir()
	var log eventLog
	return NewEngine("task-1", "coder", ws, log.emit, nil), &log, ws
}

func TestWriteNewFile(t *testing.T) {
	e, log, ws := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "a.txt", "content", "x"), "auto_exec_iter1_tool0", true)

	data, err := os.ReadFile(filepath.Join(ws, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	state := e.State("auto_exec_iter1_tool0")
	require.NotNil(t, state)
	assert.False(t, state.FileExisted)
	assert.Equal(t, "a.txt", state.FilePath)

	ops := log.ofKind(ports.EventCoderFileOp)
	require.Len(t, ops, 1)
	assert.Equal(t, "full", ops[0].Payload["update_type"])
	assert.Equal(t, "x", ops[0].Payload["content"])

	result := e.Result("auto_exec_iter1_tool0")
	require.NotNil(t, result)
	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Ops, 1)
	assert.Equal(t, "file_write", result.Ops[0].Type)
	assert.True(t, result.Ops[0].PreExecuted)
}

func TestWriteStreamsDeltaForGrowingContent(t *testing.T) {
	e, log, _ := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "a.txt", "content", "hello"), "c1", false)
	e.AutoExec("file.write", params("file_path", "a.txt", "content", "hello world"), "c1", true)

	ops := log.ofKind(ports.EventCoderFileOp)
	require.Len(t, ops, 2)
	assert.Equal(t, "full", ops[0].Payload["update_type"])
	assert.Equal(t, "delta", ops[1].Payload["update_type"])
	assert.Equal(t, " world", ops[1].Payload["delta"])
	assert.Equal(t, 5, ops[1].Payload["offset"])
	// Full content rides along for redundancy.
	assert.Equal(t, "hello world", ops[1].Payload["content"])
}

func TestWriteKeepsInitialPreStateAcrossReinvocations(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("original"), 0o644))

	e.AutoExec("file.write", params("file_path", "a.txt", "content", "new"), "c1", false)
	e.AutoExec("file.write", params("file_path", "a.txt", "content", "newer"), "c1", true)

	state := e.State("c1")
	require.NotNil(t, state)
	assert.True(t, state.FileExisted)
	assert.Equal(t, "original", state.OriginalContent)
}

func TestWriteRecordsCreatedDirs(t *testing.T) {
	e, _, ws := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "deep/nested/a.txt", "content", "x"), "c1", true)

	_, err := os.Stat(filepath.Join(ws, "deep", "nested", "a.txt"))
	require.NoError(t, err)

	state := e.State("c1")
	require.NotNil(t, state)
	assert.Equal(t, []string{"deep", "deep/nested"}, state.CreatedDirs)
}

func TestWriteRefusesEscapingPath(t *testing.T) {
	e, log, _ := newTestEngine(t)
	e.AutoExec("file.write", params("file_path", "../outside.txt", "content", "x"), "c1", true)

	assert.Nil(t, e.State("c1"))
	result := e.Result("c1")
	require.NotNil(t, result)
	assert.Equal(t, "error", result.Status)
	assert.Empty(t, log.ofKind(ports.EventCoderFileOp))
}

func TestEditFindReplace(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("foo bar foo"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "find_replace",
		"find_text", "foo",
		"replace_text", "baz",
		"replace_all", "true",
	), "c1", true)

	data, err := os.ReadFile(filepath.Join(ws, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "baz bar baz", string(data))

	result := e.Result("c1")
	require.NotNil(t, result)
	// Same summary the live tool produces for the identical edit.
	assert.Equal(t, "Successfully edited a.txt (find_replace, lines_affected=2)", result.Content)
	assert.Equal(t, "find_replace", result.Metadata["edit_mode"])
	assert.Equal(t, 2, result.Metadata["lines_affected"])
}

func TestEditFindReplaceFirstOnly(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("foo foo"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "find_replace",
		"find_text", "foo",
		"replace_text", "bar",
	), "c1", true)

	data, _ := os.ReadFile(filepath.Join(ws, "a.txt"))
	assert.Equal(t, "bar foo", string(data))
}

func TestEditLineRange(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("one\ntwo\nthree\nfour"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "line_range",
		"start_line", "2",
		"end_line", "3",
		"new_content", "TWO\nTHREE",
	), "c1", true)

	data, _ := os.ReadFile(filepath.Join(ws, "a.txt"))
	assert.Equal(t, "one\nTWO\nTHREE\nfour", string(data))
}

func TestEditLineRangeValidatesBounds(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("one\ntwo"), 0o644))

	e.AutoExec("file.edit", params(
		"file_path", "a.txt",
		"edit_mode", "line_range",
		"start_line", "1",
		"end_line", "9",
		"new_content", "X",
	), "c1", true)

	data, _ := os.ReadFile(filepath.Join(ws, "a.txt"))
	assert.Equal(t, "one\ntwo", string(data), "file must be untouched")
	result := e.Result("c1")
	require.NotNil(t, result)
	assert.Equal(t, "error", result.Status)
}

func TestEditReinvocationDoesNotCompound(t *testing.T) {
	e, _, ws := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("aaa"), 0o644))

	p := params(
		"file_path", "a.txt",
		"edit_mode", "find_replace",
		"find_text", "aaa",
		"replace_text", "aaa-x",
	)
	e.AutoExec("file.edit", p, "c1", false)
	e.AutoExec("file.edit", p, "c1", true)

	data, _ := os.ReadFile(filepath.Join(ws, "a.txt"))
	assert.Equal(t, "aaa-x", string(data))
}

func TestEditMissingFile(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.AutoExec("file.edit", params(
		"file_path", "missing.txt",
		"edit_mode", "find_replace",
		"find_text", "a",
		"replace_text", "b",
	), "c1", true)

	result := e.Result("c1")
	require.NotNil(t, result)
	assert.Equal(t, "error", result.Status)
}
