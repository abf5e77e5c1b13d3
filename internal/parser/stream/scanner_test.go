package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/toolregistry"
)

type capture struct {
	events []Event
	execs  []execCall
}

type execCall struct {
	tool   string
	params map[string]string
	callID string
	final  bool
}

func (c *capture) sink(e Event) {
	c.events = append(c.events, e)
}

func (c *capture) autoExec(tool string, params []toolregistry.RawParam, callID string, final bool) {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Name] = p.Value
	}
	c.execs = append(c.execs, execCall{tool: tool, params: m, callID: callID, final: final})
}

func feedInChunks(s *Scanner, text string, size int) {
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		s.FeedAnswer(text[:n])
		text = text[n:]
	}
	s.Close()
}

const sampleResponse = `<MESSAGE>Creating the file.</MESSAGE>
<TOOL_CALL>
  <TOOL>file.write</TOOL>
  <REASON>initial version</REASON>
  <PARAM name="file_path">a.txt</PARAM>
  <PARAM name="content">hello world</PARAM>
</TOOL_CALL>
<AGENT_STATUS>AWAIT_TOOL</AGENT_STATUS>`

func TestScannerEmitsMessageAppends(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 7, 1024} {
		var c capture
		s := NewScanner(1, c.sink, nil, nil)
		feedInChunks(s, sampleResponse, chunkSize)

		var message strings.Builder
		for _, e := range c.events {
			if e.Segment == "message" && e.Action == "append" {
				message.WriteString(e.Text)
			}
		}
		assert.Equal(t, "Creating the file.", message.String(), "chunk size %d", chunkSize)
	}
}

func TestScannerEmitsToolCallEvents(t *testing.T) {
	var c capture
	s := NewScanner(1, c.sink, nil, nil)
	feedInChunks(s, sampleResponse, 5)

	var fields, params, completes []Event
	for _, e := range c.events {
		if e.Segment != "tool_call" {
			continue
		}
		switch e.Action {
		case "field":
			fields = append(fields, e)
		case "param":
			params = append(params, e)
		case "complete":
			completes = append(completes, e)
		}
	}

	require.Len(t, fields, 2)
	assert.Equal(t, "TOOL", fields[0].Field)
	assert.Equal(t, "file.write", fields[0].Value)
	assert.Equal(t, "REASON", fields[1].Field)

	require.Len(t, params, 2)
	assert.Equal(t, "file_path", params[0].Name)
	assert.Equal(t, "a.txt", params[0].Value)
	assert.Equal(t, "content", params[1].Name)
	assert.Equal(t, "hello world", params[1].Value)

	require.Len(t, completes, 1)
	assert.Equal(t, "auto_exec_iter1_tool0", completes[0].CallID)
}

func TestScannerFiresAutoExecOnCompletion(t *testing.T) {
	var c capture
	s := NewScanner(2, c.sink, c.autoExec, nil)
	feedInChunks(s, sampleResponse, 4)

	require.NotEmpty(t, c.execs)
	last := c.execs[len(c.execs)-1]
	assert.True(t, last.final)
	assert.Equal(t, "file.write", last.tool)
	assert.Equal(t, "auto_exec_iter2_tool0", last.callID)
	assert.Equal(t, "a.txt", last.params["file_path"])
	assert.Equal(t, "hello world", last.params["content"])

	// Partial invocations carry growing prefixes of the final content.
	for _, ec := range c.execs[:len(c.execs)-1] {
		assert.False(t, ec.final)
		assert.True(t, strings.HasPrefix("hello world", ec.params["content"]) || ec.params["content"] == "",
			"partial content %q is not a prefix", ec.params["content"])
	}
}

func TestScannerDeterministicIDsPerToolIndex(t *testing.T) {
	response := `<TOOL_CALL><TOOL>file.write</TOOL><PARAM name="file_path">a</PARAM><PARAM name="content">1</PARAM></TOOL_CALL>` +
		`<TOOL_CALL><TOOL>file.write</TOOL><PARAM name="file_path">b</PARAM><PARAM name="content">2</PARAM></TOOL_CALL>`
	var c capture
	s := NewScanner(3, c.sink, c.autoExec, nil)
	feedInChunks(s, response, 9)

	var completes []Event
	for _, e := range c.events {
		if e.Segment == "tool_call" && e.Action == "complete" {
			completes = append(completes, e)
		}
	}
	require.Len(t, completes, 2)
	assert.Equal(t, "auto_exec_iter3_tool0", completes[0].CallID)
	assert.Equal(t, "auto_exec_iter3_tool1", completes[1].CallID)
}

func TestScannerIgnoresNonEligibleTools(t *testing.T) {
	response := `<TOOL_CALL><TOOL>file.read</TOOL><PARAM name="file_path">a</PARAM></TOOL_CALL>`
	var c capture
	s := NewScanner(1, c.sink, c.autoExec, nil)
	feedInChunks(s, response, 6)

	assert.Empty(t, c.execs)
	var completes int
	for _, e := range c.events {
		if e.Segment == "tool_call" && e.Action == "complete" {
			completes++
			assert.Empty(t, e.CallID)
		}
	}
	assert.Equal(t, 1, completes)
}

func TestScannerSwallowsStatusAndCodeSpec(t *testing.T) {
	var c capture
	s := NewScanner(1, c.sink, nil, nil)
	feedInChunks(s, `<MESSAGE>hi</MESSAGE><AGENT_STATUS>COMPLETE</AGENT_STATUS><CODE_SPEC>spec</CODE_SPEC>`, 2)

	for _, e := range c.events {
		if e.Segment == "message" {
			assert.NotContains(t, e.Text, "COMPLETE")
			assert.NotContains(t, e.Text, "spec")
		}
	}
}

func TestScannerPreservesCaseLengthChangingRunes(t *testing.T) {
	// Runes whose upper-case form has a different UTF-8 length must not skew
	// tag offsets: U+026B grows from two bytes to three, U+0131 shrinks.
	body := "aɫbɫc ı done"
	response := `<MESSAGE>` + body + `</MESSAGE><TOOL_CALL><TOOL>file.write</TOOL><PARAM name="file_path">a.txt</PARAM><PARAM name="content">` + body + `</PARAM></TOOL_CALL>`

	for _, chunkSize := range []int{1, 4, 1024} {
		var c capture
		s := NewScanner(1, c.sink, c.autoExec, nil)
		feedInChunks(s, response, chunkSize)

		var message strings.Builder
		for _, e := range c.events {
			if e.Segment == "message" && e.Action == "append" {
				message.WriteString(e.Text)
			}
		}
		assert.Equal(t, body, message.String(), "chunk size %d", chunkSize)

		require.NotEmpty(t, c.execs, "chunk size %d", chunkSize)
		last := c.execs[len(c.execs)-1]
		assert.True(t, last.final)
		assert.Equal(t, body, last.params["content"], "chunk size %d", chunkSize)
	}
}

func TestScannerThoughtChannel(t *testing.T) {
	var c capture
	s := NewScanner(1, c.sink, nil, nil)
	s.FeedThought("considering the layout")
	require.Len(t, c.events, 1)
	assert.Equal(t, "thinking", c.events[0].Segment)
}

func TestScannerHoldsBackPartialClosingTag(t *testing.T) {
	var c capture
	s := NewScanner(1, c.sink, nil, nil)
	s.FeedAnswer("<MESSAGE>abc</MESS")
	var got strings.Builder
	for _, e := range c.events {
		if e.Segment == "message" {
			got.WriteString(e.Text)
		}
	}
	// The partial closing tag must not leak into the message.
	assert.Equal(t, "abc", got.String())

	s.FeedAnswer("AGE>")
	s.Close()
	got.Reset()
	for _, e := range c.events {
		if e.Segment == "message" {
			got.WriteString(e.Text)
		}
	}
	assert.Equal(t, "abc", got.String())
}
