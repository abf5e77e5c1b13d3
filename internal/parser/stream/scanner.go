// Package stream couples the model output stream to the response protocol:
// it scans answer text incrementally, emits UI events for message and
// tool-call fragments, and triggers speculative execution of file tools as
// soon as their blocks complete.
package stream

import (
	"fmt"
	"regexp"
	"strings"

	"loom/internal/shared/logging"
	"loom/internal/toolregistry"
)

// Event is one UI fragment emitted while the answer streams.
type Event struct {
	Segment string `json:"segment"`          // message, thinking, tool_call
	Action  string `json:"action"`           // append, field, param, complete
	Field   string `json:"field,omitempty"`  // TOOL or REASON for action=field
	Name    string `json:"name,omitempty"`   // param name for action=param
	Value   string `json:"value,omitempty"`  // field/param value
	Text    string `json:"text,omitempty"`   // appended text for action=append
	CallID  string `json:"call_id,omitempty"`
}

// Sink receives scanner events.
type Sink func(Event)

// AutoExecFunc speculatively applies an eligible file tool. final is false
// for partial invocations fired while a content parameter is still growing.
type AutoExecFunc func(toolName string, params []toolregistry.RawParam, callID string, final bool)

// AutoExecTools is the allowlist of tools eligible for speculative execution.
var AutoExecTools = map[string]bool{
	"file.write": true,
	"file.edit":  true,
}

// DeterministicCallID builds the call id that couples a streaming-time side
// effect to the post-parse proposal for the same tool call.
func DeterministicCallID(iteration, toolIndex int) string {
	return fmt.Sprintf("auto_exec_iter%d_tool%d", iteration, toolIndex)
}

// growingParams are the parameters flushed to disk while still streaming.
var growingParams = map[string]bool{
	"content":     true,
	"new_content": true,
}

type mode int

const (
	modeTop mode = iota
	modeMessage
	modeToolCall
	modeParam
	modeSwallow // AGENT_STATUS / CODE_SPEC bodies, not streamed
)

var paramOpenPattern = regexp.MustCompile(`(?is)^<PARAM\s+name\s*=\s*["']([^"']+)["']\s*>`)

// Scanner is the incremental tag scanner for one iteration's answer stream.
type Scanner struct {
	sink     Sink
	autoExec AutoExecFunc
	logger   logging.Logger

	iteration int
	buf       string
	mode      mode
	swallowEnd string

	toolIndex  int // index of the current/last tool call within the iteration
	inToolCall bool
	toolName   string
	toolParams []toolregistry.RawParam
	paramName  string
	paramBody  strings.Builder
}

// NewScanner creates a scanner for the given iteration index.
func NewScanner(iteration int, sink Sink, autoExec AutoExecFunc, logger logging.Logger) *Scanner {
	return &Scanner{
		sink:      sink,
		autoExec:  autoExec,
		logger:    logging.OrNop(logger),
		iteration: iteration,
		toolIndex: -1,
	}
}

// FeedThought forwards a reasoning delta to the UI.
func (s *Scanner) FeedThought(delta string) {
	if delta == "" {
		return
	}
	s.emit(Event{Segment: "thinking", Action: "append", Text: delta})
}

// FeedAnswer consumes one answer delta, advancing the tag state machine.
func (s *Scanner) FeedAnswer(delta string) {
	if delta == "" {
		return
	}
	s.buf += delta
	s.advance(false)
}

// Close flushes trailing content once the stream ends.
func (s *Scanner) Close() {
	s.advance(true)
	if s.mode == modeMessage && s.buf != "" {
		// Unterminated MESSAGE: surface what we have.
		s.emit(Event{Segment: "message", Action: "append", Text: s.buf})
		s.buf = ""
	}
}

func (s *Scanner) emit(event Event) {
	if s.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream sink panicked: %v", r)
		}
	}()
	s.sink(event)
}

// advance consumes as much of buf as can be decided. When eof is true no
// more input will arrive, so partial-tag holdbacks are released.
func (s *Scanner) advance(eof bool) {
	for {
		switch s.mode {
		case modeTop:
			if !s.advanceTop(eof) {
				return
			}
		case modeMessage:
			if !s.advanceText(eof, "</MESSAGE>", s.appendMessage, modeTop) {
				return
			}
		case modeToolCall:
			if !s.advanceToolCall(eof) {
				return
			}
		case modeParam:
			if !s.advanceText(eof, "</PARAM>", s.appendParam, modeToolCall) {
				return
			}
		case modeSwallow:
			if !s.advanceText(eof, s.swallowEnd, func(string) {}, modeTop) {
				return
			}
		}
	}
}

// advanceTop looks for the next recognized open tag, discarding free text.
func (s *Scanner) advanceTop(eof bool) bool {
	lt := strings.Index(s.buf, "<")
	if lt < 0 {
		s.buf = ""
		return false
	}
	s.buf = s.buf[lt:]

	gt := strings.Index(s.buf, ">")
	if gt < 0 {
		if eof {
			s.buf = ""
		}
		return false
	}

	tag := strings.ToUpper(s.buf[:gt+1])
	switch {
	case tag == "<MESSAGE>":
		s.buf = s.buf[gt+1:]
		s.mode = modeMessage
	case tag == "<TOOL_CALL>":
		s.buf = s.buf[gt+1:]
		s.mode = modeToolCall
		s.inToolCall = true
		s.toolIndex++
		s.toolName = ""
		s.toolParams = nil
	case tag == "<AGENT_STATUS>":
		s.buf = s.buf[gt+1:]
		s.mode = modeSwallow
		s.swallowEnd = "</AGENT_STATUS>"
	case tag == "<CODE_SPEC>":
		s.buf = s.buf[gt+1:]
		s.mode = modeSwallow
		s.swallowEnd = "</CODE_SPEC>"
	default:
		// Unknown top-level tag: skip it.
		s.buf = s.buf[gt+1:]
	}
	return true
}

// advanceText streams body text until the closing tag, holding back any
// suffix that could still turn into the closing tag.
func (s *Scanner) advanceText(eof bool, closing string, deliver func(string), next mode) bool {
	idx := indexFold(s.buf, closing)
	if idx >= 0 {
		deliver(s.buf[:idx])
		s.buf = s.buf[idx+len(closing):]
		s.finishText(next)
		return true
	}

	hold := holdbackLen(s.buf, closing)
	if flushable := len(s.buf) - hold; flushable > 0 {
		deliver(s.buf[:flushable])
		s.buf = s.buf[flushable:]
	}
	if eof {
		deliver(s.buf)
		s.buf = ""
	}
	return false
}

func (s *Scanner) finishText(next mode) {
	switch s.mode {
	case modeParam:
		s.completeParam()
	}
	s.mode = next
}

func (s *Scanner) appendMessage(text string) {
	if text == "" {
		return
	}
	s.emit(Event{Segment: "message", Action: "append", Text: text})
}

func (s *Scanner) appendParam(text string) {
	if text == "" {
		return
	}
	s.paramBody.WriteString(text)
	// Growing-prefix flush: content-bearing params of eligible tools hit the
	// disk on every chunk so the UI diff tracks the stream.
	if AutoExecTools[s.toolName] && growingParams[s.paramName] {
		s.fireAutoExec(false, s.partialParams())
	}
}

func (s *Scanner) partialParams() []toolregistry.RawParam {
	params := make([]toolregistry.RawParam, len(s.toolParams), len(s.toolParams)+1)
	copy(params, s.toolParams)
	return append(params, toolregistry.RawParam{Name: s.paramName, Value: s.paramBody.String()})
}

func (s *Scanner) completeParam() {
	value := s.paramBody.String()
	s.toolParams = append(s.toolParams, toolregistry.RawParam{Name: s.paramName, Value: value})
	s.emit(Event{Segment: "tool_call", Action: "param", Name: s.paramName, Value: value})
	if AutoExecTools[s.toolName] {
		s.fireAutoExec(false, s.toolParams)
	}
	s.paramName = ""
	s.paramBody.Reset()
}

// advanceToolCall recognizes field tags inside a TOOL_CALL block.
func (s *Scanner) advanceToolCall(eof bool) bool {
	lt := strings.Index(s.buf, "<")
	if lt < 0 {
		s.buf = ""
		return false
	}
	s.buf = s.buf[lt:]

	gt := strings.Index(s.buf, ">")
	if gt < 0 {
		if eof {
			s.buf = ""
		}
		return false
	}

	head := s.buf[:gt+1]
	upper := strings.ToUpper(head)

	switch {
	case upper == "</TOOL_CALL>":
		s.buf = s.buf[gt+1:]
		s.completeToolCall()
		s.mode = modeTop
		return true

	case strings.HasPrefix(upper, "<PARAM"):
		if m := paramOpenPattern.FindStringSubmatch(s.buf); m != nil {
			s.paramName = m[1]
			s.paramBody.Reset()
			s.buf = s.buf[len(m[0]):]
			s.mode = modeParam
			return true
		}
		// PARAM open tag still incomplete; wait for more input.
		if eof {
			s.buf = ""
		}
		return false

	case upper == "<TOOL>":
		return s.captureField(eof, gt+1, "</TOOL>", func(value string) {
			s.toolName = strings.TrimSpace(value)
			s.emit(Event{Segment: "tool_call", Action: "field", Field: "TOOL", Value: s.toolName})
		})

	case upper == "<REASON>":
		return s.captureField(eof, gt+1, "</REASON>", func(value string) {
			s.emit(Event{Segment: "tool_call", Action: "field", Field: "REASON", Value: strings.TrimSpace(value)})
		})

	default:
		// Unknown tag inside the block: skip it.
		s.buf = s.buf[gt+1:]
		return true
	}
}

// captureField waits for a complete <TAG>…</TAG> pair and delivers its body.
func (s *Scanner) captureField(eof bool, bodyStart int, closing string, deliver func(string)) bool {
	idx := indexFold(s.buf[bodyStart:], closing)
	if idx < 0 {
		if eof {
			s.buf = ""
		}
		return false
	}
	deliver(s.buf[bodyStart : bodyStart+idx])
	s.buf = s.buf[bodyStart+idx+len(closing):]
	return true
}

func (s *Scanner) completeToolCall() {
	callID := ""
	if AutoExecTools[s.toolName] {
		callID = DeterministicCallID(s.iteration, s.toolIndex)
		s.fireAutoExec(true, s.toolParams)
	}
	s.emit(Event{Segment: "tool_call", Action: "complete", CallID: callID})
	s.inToolCall = false
	s.toolName = ""
	s.toolParams = nil
}

func (s *Scanner) fireAutoExec(final bool, params []toolregistry.RawParam) {
	if s.autoExec == nil {
		return
	}
	callID := DeterministicCallID(s.iteration, s.toolIndex)
	s.autoExec(s.toolName, params, callID, final)
}

// holdbackLen returns how many trailing bytes of buf could be the start of
// closing (case-insensitive) and must not be flushed yet.
func holdbackLen(buf, closing string) int {
	max := len(closing) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if asciiEqualFold(buf[len(buf)-n:], closing[:n]) {
			return n
		}
	}
	return 0
}

// indexFold is a case-insensitive strings.Index for ASCII needles. It walks
// the original haystack so the returned offset is a valid byte position in
// it; uppercasing the whole haystack first would skew offsets whenever a
// case pair changes UTF-8 length (U+0131 shrinks, U+026B grows).
func indexFold(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if asciiEqualFold(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func asciiEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
