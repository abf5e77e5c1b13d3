// Package parser extracts the structured response protocol from raw model
// output: <MESSAGE>, <TOOL_CALL>, <AGENT_STATUS> and <CODE_SPEC> blocks.
//
// The parser is deliberately tolerant: tags are matched independently and
// case-insensitively, unknown top-level tags are ignored, and a missing
// status with tool calls present is inferred as AWAIT_TOOL.
package parser

import (
	"regexp"
	"strings"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/toolregistry"
)

var (
	messagePattern   = regexp.MustCompile(`(?is)<MESSAGE>(.*?)</MESSAGE>`)
	toolCallPattern  = regexp.MustCompile(`(?is)<TOOL_CALL>(.*?)</TOOL_CALL>`)
	toolNamePattern  = regexp.MustCompile(`(?is)<TOOL>(.*?)</TOOL>`)
	reasonPattern    = regexp.MustCompile(`(?is)<REASON>(.*?)</REASON>`)
	paramPattern     = regexp.MustCompile(`(?is)<PARAM\s+name\s*=\s*["']([^"']+)["']\s*>(.*?)</PARAM>`)
	statusPattern    = regexp.MustCompile(`(?is)<AGENT_STATUS>(.*?)</AGENT_STATUS>`)
	codeSpecPattern  = regexp.MustCompile(`(?is)<CODE_SPEC>(.*?)</CODE_SPEC>`)
	anyTagPattern    = regexp.MustCompile(`<[A-Za-z_][\w]*[\s>]`)
)

// SchemaLookup resolves a tool name to its declared schema for param typing.
type SchemaLookup interface {
	Definition(name string) (ports.ToolDefinition, error)
}

// Parser turns complete response text into a ParsedResponse.
type Parser struct {
	schemas SchemaLookup
}

// New creates a parser that types parameters against the given schemas.
func New(schemas SchemaLookup) *Parser {
	return &Parser{schemas: schemas}
}

// Parse extracts message, status, tool calls and code spec from response.
// Coercion failures on a single parameter do not drop the whole call; the
// offending parameter keeps its raw text as a string so the tool can report
// a usable error.
func (p *Parser) Parse(response string) *ports.ParsedResponse {
	parsed := &ports.ParsedResponse{Raw: response}

	if m := messagePattern.FindStringSubmatch(response); m != nil {
		parsed.Message = strings.TrimSpace(m[1])
	} else {
		parsed.Message = messageFallback(response)
	}

	if m := codeSpecPattern.FindStringSubmatch(response); m != nil {
		parsed.CodeSpec = strings.TrimSpace(m[1])
	}

	for _, block := range toolCallPattern.FindAllStringSubmatch(response, -1) {
		if call := p.parseToolCall(block[1]); call != nil {
			parsed.ToolCalls = append(parsed.ToolCalls, call)
		}
	}

	if m := statusPattern.FindStringSubmatch(response); m != nil {
		parsed.Status = ports.AgentStatus(strings.ToUpper(strings.TrimSpace(m[1])))
		parsed.StatusExplicit = true
	} else if len(parsed.ToolCalls) > 0 {
		parsed.Status = ports.StatusAwaitTool
	} else {
		parsed.Status = ports.StatusParseError
	}

	parsed.FormatValid = parsed.StatusExplicit || len(parsed.ToolCalls) > 0
	return parsed
}

// parseToolCall decodes one TOOL_CALL block body. Blocks without a TOOL tag
// are dropped; the caller treats an explicit AWAIT_TOOL with zero surviving
// calls as a parse error.
func (p *Parser) parseToolCall(body string) *ports.ToolCall {
	nameMatch := toolNamePattern.FindStringSubmatch(body)
	if nameMatch == nil {
		return nil
	}
	name := strings.TrimSpace(nameMatch[1])
	if name == "" {
		return nil
	}

	call := &ports.ToolCall{
		Name:      name,
		CreatedAt: time.Now(),
	}
	if m := reasonPattern.FindStringSubmatch(body); m != nil {
		call.Reason = strings.TrimSpace(m[1])
	}

	var def ports.ToolDefinition
	if p.schemas != nil {
		if d, err := p.schemas.Definition(name); err == nil {
			def = d
			call.Description = d.Description
		}
	}

	for _, param := range paramPattern.FindAllStringSubmatch(body, -1) {
		paramName, rawValue := param[1], param[2]
		spec, ok := def.ParamSpecFor(paramName)
		if !ok {
			spec = ports.ParamSpec{Name: paramName, Type: "string"}
		}
		value, err := toolregistry.CoerceValue(spec, rawValue)
		if err != nil {
			value = ports.StringValue(strings.TrimSpace(rawValue))
		}
		call.Params = append(call.Params, ports.ParamEntry{Name: paramName, Value: value})
	}

	return call
}

// messageFallback returns the response prefix up to the first XML-like tag,
// or the whole response when no tag is present.
func messageFallback(response string) string {
	if loc := anyTagPattern.FindStringIndex(response); loc != nil {
		return strings.TrimSpace(response[:loc[0]])
	}
	return strings.TrimSpace(response)
}

// RenderToolCall renders a proposal back into protocol form. Used by tests
// and by the prompt builder's format examples.
func RenderToolCall(call *ports.ToolCall) string {
	var b strings.Builder
	b.WriteString("<TOOL_CALL>\n")
	b.WriteString("  <TOOL>" + call.Name + "</TOOL>\n")
	if call.Reason != "" {
		b.WriteString("  <REASON>" + call.Reason + "</REASON>\n")
	}
	for _, entry := range call.Params {
		b.WriteString(`  <PARAM name="` + entry.Name + `">` + entry.Value.AsString() + "</PARAM>\n")
	}
	b.WriteString("</TOOL_CALL>")
	return b.String()
}
