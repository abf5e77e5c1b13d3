package agent

import "loom/internal/agent/ports"

// coderTools is the coder domain's allowlist: the full builtin catalog.
var coderTools = []string{
	"file.read", "file.write", "file.edit", "file.list_dir", "file.search",
	"file.grep", "file.move", "file.move_lines", "file.notebook_edit",
	"file.attach",
	"plan.write", "plan.update",
	"system.exec", "system.exec_status", "system.exec_kill",
	"system.exec_list", "system.exec_wait",
	"rag.index", "rag.search",
	"llm.generate", "web.search", "media.image_generate",
}

// assistantTools is the read-only allowlist for the conversational domain.
var assistantTools = []string{
	"file.read", "file.list_dir", "file.search", "file.grep",
	"rag.search", "web.search", "llm.generate",
}

// DefaultDomains returns the built-in domain catalog keyed by domain id.
func DefaultDomains() map[string]*ports.Domain {
	return map[string]*ports.Domain{
		DomainCoder: {
			ID:             DomainCoder,
			AgentID:        "loom-coder",
			Tools:          coderTools,
			RequireToolUse: true,
		},
		"assistant": {
			ID:      "assistant",
			AgentID: "loom-assistant",
			Tools:   assistantTools,
		},
	}
}
