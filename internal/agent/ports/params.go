package ports

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParamKind tags the runtime shape of a parameter value.
type ParamKind int

const (
	KindString ParamKind = iota
	KindInt
	KindFloat
	KindBool
	KindObject
	KindArray
)

// ParamValue is the tagged variant for tool parameter values. Coercion is
// driven by the declared schema type, never inferred from content.
type ParamValue struct {
	Kind   ParamKind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Object map[string]ParamValue
	Array  []ParamValue
}

// StringValue wraps a literal string, whitespace preserved.
func StringValue(s string) ParamValue { return ParamValue{Kind: KindString, Str: s} }

// IntValue wraps an integer.
func IntValue(n int64) ParamValue { return ParamValue{Kind: KindInt, Int: n} }

// FloatValue wraps a float.
func FloatValue(x float64) ParamValue { return ParamValue{Kind: KindFloat, Float: x} }

// BoolValue wraps a boolean.
func BoolValue(b bool) ParamValue { return ParamValue{Kind: KindBool, Bool: b} }

// ObjectValue wraps a mapping.
func ObjectValue(m map[string]ParamValue) ParamValue {
	return ParamValue{Kind: KindObject, Object: m}
}

// ArrayValue wraps a list.
func ArrayValue(items []ParamValue) ParamValue { return ParamValue{Kind: KindArray, Array: items} }

// AsString renders the value for display and for string-typed consumers.
func (v ParamValue) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		data, err := json.Marshal(v.ToNative())
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// AsInt returns the integer value, converting floats with exact truncation.
func (v ParamValue) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		return int64(v.Float), true
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// AsBool returns the boolean value when the kind allows it.
func (v ParamValue) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

// ToNative converts the value to plain Go types for JSON encoding.
func (v ParamValue) ToNative() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindObject:
		m := make(map[string]any, len(v.Object))
		for k, item := range v.Object {
			m[k] = item.ToNative()
		}
		return m
	case KindArray:
		items := make([]any, len(v.Array))
		for i, item := range v.Array {
			items[i] = item.ToNative()
		}
		return items
	default:
		return nil
	}
}

// FromNative converts plain Go values (typically decoded JSON) to ParamValue.
func FromNative(value any) ParamValue {
	switch typed := value.(type) {
	case nil:
		return StringValue("")
	case string:
		return StringValue(typed)
	case bool:
		return BoolValue(typed)
	case int:
		return IntValue(int64(typed))
	case int64:
		return IntValue(typed)
	case float64:
		if typed == float64(int64(typed)) {
			return IntValue(int64(typed))
		}
		return FloatValue(typed)
	case map[string]any:
		m := make(map[string]ParamValue, len(typed))
		for k, item := range typed {
			m[k] = FromNative(item)
		}
		return ObjectValue(m)
	case []any:
		items := make([]ParamValue, len(typed))
		for i, item := range typed {
			items[i] = FromNative(item)
		}
		return ArrayValue(items)
	default:
		return StringValue(fmt.Sprintf("%v", typed))
	}
}

// MarshalJSON encodes the native representation.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToNative())
}

// UnmarshalJSON decodes from the native representation.
func (v *ParamValue) UnmarshalJSON(data []byte) error {
	var native any
	if err := json.Unmarshal(data, &native); err != nil {
		return err
	}
	*v = FromNative(native)
	return nil
}

// ParamEntry is one named parameter of a tool call, order preserving.
type ParamEntry struct {
	Name  string     `json:"name"`
	Value ParamValue `json:"value"`
}

// Params is an ordered parameter list with map-style lookups.
type Params []ParamEntry

// Get returns the value for name.
func (p Params) Get(name string) (ParamValue, bool) {
	for _, entry := range p {
		if entry.Name == name {
			return entry.Value, true
		}
	}
	return ParamValue{}, false
}

// GetString returns the string rendering of a parameter, or fallback.
func (p Params) GetString(name, fallback string) string {
	if v, ok := p.Get(name); ok {
		return v.AsString()
	}
	return fallback
}

// GetInt returns an integer parameter, or fallback.
func (p Params) GetInt(name string, fallback int64) int64 {
	if v, ok := p.Get(name); ok {
		if n, ok := v.AsInt(); ok {
			return n
		}
	}
	return fallback
}

// GetBool returns a boolean parameter, or fallback.
func (p Params) GetBool(name string, fallback bool) bool {
	if v, ok := p.Get(name); ok {
		if b, ok := v.AsBool(); ok {
			return b
		}
	}
	return fallback
}

// Set replaces or appends a parameter value.
func (p Params) Set(name string, value ParamValue) Params {
	for i, entry := range p {
		if entry.Name == name {
			p[i].Value = value
			return p
		}
	}
	return append(p, ParamEntry{Name: name, Value: value})
}

// ToMap flattens the ordered list into a native map.
func (p Params) ToMap() map[string]any {
	m := make(map[string]any, len(p))
	for _, entry := range p {
		m[entry.Name] = entry.Value.ToNative()
	}
	return m
}
