package builtin

import (
	"loom/internal/agent/ports"
	"loom/internal/rag"
	"loom/internal/shared/logging"
	"loom/internal/toolregistry"
)

// Deps carries the shared services the tool suite is wired with.
type Deps struct {
	Logger    logging.Logger
	LLM       ports.StreamingLLMClient
	RAGStore  *rag.Store
	Jobs      *JobManager
	WebSearch WebSearchConfig
	ImageGen  ImageGenConfig
}

// RegisterAll registers the full builtin catalog.
func RegisterAll(registry *toolregistry.Registry, deps Deps) {
	if deps.Jobs == nil {
		deps.Jobs = NewJobManager(deps.Logger)
	}
	if deps.RAGStore == nil {
		deps.RAGStore, _ = rag.NewStore(rag.StoreConfig{}, nil)
	}

	registry.Register(NewFileRead())
	registry.Register(NewFileWrite())
	registry.Register(NewFileEdit())
	registry.Register(NewFileListDir())
	registry.Register(NewFileSearch())
	registry.Register(NewFileGrep())
	registry.Register(NewFileMove())
	registry.Register(NewFileMoveLines())
	registry.Register(NewNotebookEdit())
	registry.Register(NewFileAttach())

	planWrite, planUpdate := NewPlanTools()
	registry.Register(planWrite)
	registry.Register(planUpdate)

	for _, tool := range NewExecTools(deps.Jobs) {
		registry.Register(tool)
	}

	ragIndex, ragSearch := NewRAGTools(deps.RAGStore)
	registry.Register(ragIndex)
	registry.Register(ragSearch)

	registry.Register(NewLLMGenerate(deps.LLM))
	registry.Register(NewWebSearch(deps.WebSearch))
	registry.Register(NewImageGenerate(deps.ImageGen))
}
