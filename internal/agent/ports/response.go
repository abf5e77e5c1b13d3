package ports

// AgentStatus is the status channel of the structured response protocol.
type AgentStatus string

const (
	StatusAwaitTool  AgentStatus = "AWAIT_TOOL"
	StatusComplete   AgentStatus = "COMPLETE"
	StatusParseError AgentStatus = "PARSE_ERROR"
)

// ParsedResponse is the structured form of one full model response.
type ParsedResponse struct {
	Message     string      `json:"message"`
	Status      AgentStatus `json:"status"`
	ToolCalls   []*ToolCall `json:"tool_calls,omitempty"`
	CodeSpec    string      `json:"code_spec,omitempty"`
	Raw         string      `json:"raw"`
	FormatValid bool        `json:"format_valid"`

	// StatusExplicit distinguishes a literal AGENT_STATUS tag from an
	// inferred one. AWAIT_TOOL with an explicit tag but zero extracted tool
	// calls is a parse error, not a format error.
	StatusExplicit bool `json:"status_explicit"`
}
