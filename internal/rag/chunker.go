package rag

import (
	"fmt"
	"strings"
)

const (
	chunkLines   = 60
	chunkOverlap = 10
)

// ChunkFile splits file content into overlapping line chunks ready for
// indexing. IDs are stable for a given path and chunk position so
// re-indexing overwrites instead of duplicating.
func ChunkFile(path, content string) []Document {
	lines := strings.Split(content, "\n")
	var docs []Document
	for start := 0; start < len(lines); start += chunkLines - chunkOverlap {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(chunk) == "" {
			if end == len(lines) {
				break
			}
			continue
		}
		docs = append(docs, Document{
			ID:      fmt.Sprintf("%s#%d", path, start+1),
			Content: chunk,
			Metadata: map[string]string{
				"file_path":  path,
				"start_line": fmt.Sprintf("%d", start+1),
				"end_line":   fmt.Sprintf("%d", end),
			},
		})
		if end == len(lines) {
			break
		}
	}
	return docs
}
