package toolregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
)

func stringSpec(name string) ports.ParamSpec {
	return ports.ParamSpec{Name: name, Type: "string"}
}

func TestCoerceStringKeepsWhitespaceVerbatim(t *testing.T) {
	raw := "\n\tfunc main() {\n\t\tfmt.Println(\"hi\")\n\t}\n"
	got, err := CoerceValue(stringSpec("content"), raw)
	require.NoError(t, err)
	assert.Equal(t, ports.KindString, got.Kind)
	assert.Equal(t, raw, got.Str)
}

func TestCoerceInteger(t *testing.T) {
	got, err := CoerceValue(ports.ParamSpec{Name: "n", Type: "integer"}, "  42\n")
	require.NoError(t, err)
	n, ok := got.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, err = CoerceValue(ports.ParamSpec{Name: "n", Type: "integer"}, "forty-two")
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "n", typeErr.Param)
}

func TestCoerceBoolean(t *testing.T) {
	for raw, want := range map[string]bool{
		"true": true, "TRUE": true, "1": true, "Yes": true,
		"false": false, "0": false, "no": false,
	} {
		got, err := CoerceValue(ports.ParamSpec{Name: "b", Type: "boolean"}, raw)
		require.NoError(t, err, raw)
		b, ok := got.AsBool()
		require.True(t, ok)
		assert.Equal(t, want, b, raw)
	}

	_, err := CoerceValue(ports.ParamSpec{Name: "b", Type: "boolean"}, "maybe")
	require.Error(t, err)
}

func TestCoerceArrayFromNestedTags(t *testing.T) {
	raw := "<item>alpha</item><item>beta</item><item>3</item>"
	got, err := CoerceValue(ports.ParamSpec{Name: "steps", Type: "array"}, raw)
	require.NoError(t, err)
	require.Equal(t, ports.KindArray, got.Kind)
	require.Len(t, got.Array, 3)
	assert.Equal(t, "alpha", got.Array[0].Str)
	n, _ := got.Array[2].AsInt()
	assert.Equal(t, int64(3), n)
}

func TestCoerceObjectFromNestedTags(t *testing.T) {
	raw := `
		<task_description>refactor parser</task_description>
		<count>2</count>
		<flag>true</flag>
	`
	got, err := CoerceValue(ports.ParamSpec{Name: "updates", Type: "object"}, raw)
	require.NoError(t, err)
	require.Equal(t, ports.KindObject, got.Kind)
	assert.Equal(t, "refactor parser", got.Object["task_description"].Str)
	n, _ := got.Object["count"].AsInt()
	assert.Equal(t, int64(2), n)
	b, _ := got.Object["flag"].AsBool()
	assert.True(t, b)
}

func TestCoerceSingleItemUnwrapsToScalar(t *testing.T) {
	got, err := CoerceValue(ports.ParamSpec{Name: "q", Type: "array"}, "<item>only one</item>")
	require.NoError(t, err)
	assert.Equal(t, ports.KindString, got.Kind)
	assert.Equal(t, "only one", got.Str)
}

func TestCoerceNestedTagsRecurse(t *testing.T) {
	raw := `<steps><item>one</item><item>two</item></steps><name>plan</name>`
	got, err := CoerceValue(ports.ParamSpec{Name: "u", Type: "object"}, raw)
	require.NoError(t, err)
	require.Equal(t, ports.KindObject, got.Kind)
	steps := got.Object["steps"]
	require.Equal(t, ports.KindArray, steps.Kind)
	assert.Len(t, steps.Array, 2)
}

func TestCoerceObjectFromJSON(t *testing.T) {
	got, err := CoerceValue(ports.ParamSpec{Name: "u", Type: "object"}, `{"a": 1, "b": ["x"]}`)
	require.NoError(t, err)
	require.Equal(t, ports.KindObject, got.Kind)
	n, _ := got.Object["a"].AsInt()
	assert.Equal(t, int64(1), n)
}

func TestCoerceObjectRepairsSloppyJSON(t *testing.T) {
	got, err := CoerceValue(ports.ParamSpec{Name: "u", Type: "object"}, `{'a': 'x', 'b': 2,}`)
	require.NoError(t, err)
	require.Equal(t, ports.KindObject, got.Kind)
	assert.Equal(t, "x", got.Object["a"].Str)
}

func TestCoerceStructuredFallsBackToText(t *testing.T) {
	got, err := CoerceValue(ports.ParamSpec{Name: "u", Type: "object"}, "  not structured at all  ")
	require.NoError(t, err)
	assert.Equal(t, ports.KindString, got.Kind)
	assert.Equal(t, "not structured at all", got.Str)
}

func TestRegistryOverwriteWarnsAndUnknownToolErrors(t *testing.T) {
	reg := New(nil)
	reg.Register(&fakeTool{name: "file.read"})
	reg.Register(&fakeTool{name: "file.read"})

	_, err := reg.Get("no.such")
	var unknown *ErrUnknownTool
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no.such", unknown.Name)

	defs := reg.List()
	require.Len(t, defs, 1)
}

type fakeTool struct {
	name string
}

func (f *fakeTool) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	return &ports.ToolResult{CallID: call.CallID, Status: "success"}, nil
}

func (f *fakeTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: f.name}
}
