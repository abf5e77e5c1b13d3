package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/agent/ports"
	"loom/internal/diff"
	"loom/internal/rag"
)

var indexableExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".java": true, ".rs": true, ".c": true, ".h": true, ".cpp": true,
	".md": true, ".yaml": true, ".yml": true, ".json": true, ".sql": true,
	".sh": true, ".toml": true,
}

// NewRAGTools creates the rag.index and rag.search pair over one store.
func NewRAGTools(store *rag.Store) (index, search ports.ToolExecutor) {
	return &ragIndex{store: store}, &ragSearch{store: store}
}

type ragIndex struct {
	store *rag.Store
}

func (t *ragIndex) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	rootParam := call.Params.GetString("path", ".")
	absRoot, relRoot, err := resolveWorkspacePath(call.WorkspacePath, rootParam, "path")
	if err != nil {
		return errorResult(call.CallID, err.Error(), "", "validation_error"), nil
	}

	filesIndexed := 0
	chunksIndexed := 0
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !indexableExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || diff.IsBinary(string(data)) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		docs := rag.ChunkFile(filepath.ToSlash(rel), string(data))
		if len(docs) == 0 {
			return nil
		}
		if err := t.store.Add(ctx, docs); err != nil {
			return err
		}
		filesIndexed++
		chunksIndexed += len(docs)
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return errorResult(call.CallID, "indexing cancelled", "", "cancelled"), nil
		}
		return errorResult(call.CallID, fmt.Sprintf("index %s: %v", relRoot, walkErr), "", "index_error"), nil
	}

	result := successResult(call.CallID, fmt.Sprintf("Indexed %d files (%d chunks) under %s", filesIndexed, chunksIndexed, relRoot))
	result.Metadata["files"] = filesIndexed
	result.Metadata["chunks"] = chunksIndexed
	result.Metadata["total_documents"] = t.store.Count()
	return result, nil
}

func (t *ragIndex) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "rag.index",
		Version:     "1.0.0",
		Description: "Index workspace source files for similarity search",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "path", Type: "string", Description: "Directory to index", Default: "."},
		},
		OutputDesc: "indexing statistics",
	}
}

type ragSearch struct {
	store *rag.Store
}

func (t *ragSearch) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	query := call.Params.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return errorResult(call.CallID, "missing \"query\"", "", "validation_error"), nil
	}
	topK := int(call.Params.GetInt("top_k", 5))

	results, err := t.store.Search(ctx, query, topK, 0.1)
	if err != nil {
		return errorResult(call.CallID, fmt.Sprintf("search: %v", err), "", "search_error"), nil
	}
	if len(results) == 0 {
		return successResult(call.CallID, "No similar code found; run rag.index first if the workspace is unindexed"), nil
	}

	var b strings.Builder
	var hits []map[string]any
	for _, r := range results {
		fmt.Fprintf(&b, "--- %s:%s (similarity %.2f)\n%s\n",
			r.Document.Metadata["file_path"], r.Document.Metadata["start_line"], r.Similarity, r.Document.Content)
		hits = append(hits, map[string]any{
			"file_path":  r.Document.Metadata["file_path"],
			"start_line": r.Document.Metadata["start_line"],
			"end_line":   r.Document.Metadata["end_line"],
			"similarity": r.Similarity,
		})
	}

	result := successResult(call.CallID, b.String())
	result.Metadata["count"] = len(results)
	result.Payload = map[string]any{"results": hits}
	return result, nil
}

func (t *ragSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "rag.search",
		Version:     "1.0.0",
		Description: "Search previously indexed workspace code by similarity",
		Effects:     []ports.Effect{ports.EffectDisk},
		Params: []ports.ParamSpec{
			{Name: "query", Type: "string", Description: "Natural-language or code query", Required: true},
			{Name: "top_k", Type: "integer", Description: "Number of results", Default: 5},
		},
		OutputDesc: "matching chunks with file locations and similarity",
	}
}
