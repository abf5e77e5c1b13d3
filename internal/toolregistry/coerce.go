package toolregistry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"loom/internal/agent/ports"
)

// TypeError reports a parameter whose raw text does not match its declared type.
type TypeError struct {
	Param string
	Type  string
	Raw   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("parameter %q: cannot parse %q as %s", e.Param, e.Raw, e.Type)
}

// CoerceValue materializes raw extracted text according to the declared
// parameter type. String-typed parameters keep the text verbatim; this is
// what lets the protocol carry source code unescaped.
func CoerceValue(spec ports.ParamSpec, raw string) (ports.ParamValue, error) {
	switch spec.Type {
	case "", "string":
		return ports.StringValue(raw), nil

	case "integer":
		trimmed := strings.TrimSpace(raw)
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return ports.ParamValue{}, &TypeError{Param: spec.Name, Type: spec.Type, Raw: trimmed}
		}
		return ports.IntValue(n), nil

	case "number":
		trimmed := strings.TrimSpace(raw)
		x, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return ports.ParamValue{}, &TypeError{Param: spec.Name, Type: spec.Type, Raw: trimmed}
		}
		if x == float64(int64(x)) && !strings.ContainsAny(trimmed, ".eE") {
			return ports.IntValue(int64(x)), nil
		}
		return ports.FloatValue(x), nil

	case "boolean":
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes":
			return ports.BoolValue(true), nil
		case "false", "0", "no":
			return ports.BoolValue(false), nil
		default:
			return ports.ParamValue{}, &TypeError{Param: spec.Name, Type: spec.Type, Raw: strings.TrimSpace(raw)}
		}

	case "object", "array":
		return coerceStructured(raw), nil

	default:
		return ports.StringValue(raw), nil
	}
}

// coerceStructured tries, in order: the nested-tag micro-format, strict JSON,
// repaired JSON, and finally falls back to the stripped text.
func coerceStructured(raw string) ports.ParamValue {
	if value, ok := DecodeNestedTags(raw); ok {
		return value
	}

	trimmed := strings.TrimSpace(raw)

	var native any
	if err := json.Unmarshal([]byte(trimmed), &native); err == nil {
		return ports.FromNative(native)
	}

	// Models frequently emit almost-JSON: single quotes, trailing commas,
	// python literals. jsonrepair turns those into valid JSON.
	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil {
		if err := json.Unmarshal([]byte(repaired), &native); err == nil {
			return ports.FromNative(native)
		}
	}

	return ports.StringValue(trimmed)
}

var tagOpenPattern = regexp.MustCompile(`(?s)^<([A-Za-z_][\w.-]*)>`)

// DecodeNestedTags decodes the nested-tag micro-format: a block whose
// top-level children are all <item> decodes to an array, a block with named
// children decodes to a mapping, and a single outermost <item> unwraps to its
// scalar value.
func DecodeNestedTags(raw string) (ports.ParamValue, bool) {
	children, ok := splitTopLevelTags(raw)
	if !ok || len(children) == 0 {
		return ports.ParamValue{}, false
	}

	allItems := true
	for _, child := range children {
		if child.name != "item" {
			allItems = false
			break
		}
	}

	if allItems {
		if len(children) == 1 {
			return nestedValue(children[0].body), true
		}
		items := make([]ports.ParamValue, len(children))
		for i, child := range children {
			items[i] = nestedValue(child.body)
		}
		return ports.ArrayValue(items), true
	}

	object := make(map[string]ports.ParamValue, len(children))
	for _, child := range children {
		object[child.name] = nestedValue(child.body)
	}
	return ports.ObjectValue(object), true
}

// nestedValue recursively parses a tag body: nested tags when present,
// trimmed scalar text otherwise.
func nestedValue(body string) ports.ParamValue {
	if value, ok := DecodeNestedTags(body); ok {
		return value
	}
	return scalarFromText(strings.TrimSpace(body))
}

func scalarFromText(text string) ports.ParamValue {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return ports.IntValue(n)
	}
	if x, err := strconv.ParseFloat(text, 64); err == nil {
		return ports.FloatValue(x)
	}
	switch strings.ToLower(text) {
	case "true":
		return ports.BoolValue(true)
	case "false":
		return ports.BoolValue(false)
	}
	return ports.StringValue(text)
}

type tagChild struct {
	name string
	body string
}

// splitTopLevelTags splits raw into its top-level <tag>…</tag> children.
// It fails (ok=false) when raw has leading non-whitespace text, an unclosed
// tag, or trailing garbage, so callers can fall back to other formats.
func splitTopLevelTags(raw string) ([]tagChild, bool) {
	rest := strings.TrimSpace(raw)
	if rest == "" || !strings.HasPrefix(rest, "<") {
		return nil, false
	}

	var children []tagChild
	for rest != "" {
		match := tagOpenPattern.FindStringSubmatch(rest)
		if match == nil {
			return nil, false
		}
		name := match[1]
		closing := "</" + name + ">"
		bodyStart := len(match[0])
		closeIdx := findMatchingClose(rest[bodyStart:], name)
		if closeIdx < 0 {
			return nil, false
		}
		children = append(children, tagChild{
			name: name,
			body: rest[bodyStart : bodyStart+closeIdx],
		})
		rest = strings.TrimSpace(rest[bodyStart+closeIdx+len(closing):])
	}
	return children, true
}

// findMatchingClose locates the closing tag for name in body, honoring
// same-name nesting. Returns the byte offset of the closing tag, or -1.
func findMatchingClose(body, name string) int {
	open := "<" + name + ">"
	closing := "</" + name + ">"
	depth := 1
	i := 0
	for i < len(body) {
		nextOpen := strings.Index(body[i:], open)
		nextClose := strings.Index(body[i:], closing)
		if nextClose < 0 {
			return -1
		}
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(open)
			continue
		}
		depth--
		if depth == 0 {
			return i + nextClose
		}
		i += nextClose + len(closing)
	}
	return -1
}

// CoerceParams materializes raw name→text pairs against a tool definition,
// preserving the given order. Unknown parameters coerce as strings.
func CoerceParams(def ports.ToolDefinition, rawParams []RawParam) (ports.Params, error) {
	params := make(ports.Params, 0, len(rawParams))
	for _, raw := range rawParams {
		spec, ok := def.ParamSpecFor(raw.Name)
		if !ok {
			spec = ports.ParamSpec{Name: raw.Name, Type: "string"}
		}
		value, err := CoerceValue(spec, raw.Value)
		if err != nil {
			return nil, err
		}
		params = append(params, ports.ParamEntry{Name: raw.Name, Value: value})
	}
	return params, nil
}

// RawParam is one extracted but untyped parameter.
type RawParam struct {
	Name  string
	Value string
}
