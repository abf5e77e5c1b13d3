package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder()
	a, err := e.Embed(context.Background(), "func main() { fmt.Println() }")
	require.NoError(t, err)
	b, _ := e.Embed(context.Background(), "func main() { fmt.Println() }")
	assert.Equal(t, a, b)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 0.001)
}

func TestStoreAddAndSearch(t *testing.T) {
	store, err := NewStore(StoreConfig{Collection: "test"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, []Document{
		{ID: "a", Content: "http server listening on a port", Metadata: map[string]string{"file_path": "server.go"}},
		{ID: "b", Content: "parse yaml configuration file", Metadata: map[string]string{"file_path": "config.go"}},
	}))
	assert.Equal(t, 2, store.Count())

	results, err := store.Search(ctx, "yaml configuration", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "b", results[0].Document.ID)
	assert.Equal(t, "config.go", results[0].Document.Metadata["file_path"])
}

func TestSearchEmptyStore(t *testing.T) {
	store, err := NewStore(StoreConfig{}, nil)
	require.NoError(t, err)
	results, err := store.Search(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChunkFileStableIDsAndOverlap(t *testing.T) {
	var lines []string
	for i := 0; i < 120; i++ {
		lines = append(lines, "line")
	}
	content := ""
	for i, l := range lines {
		if i > 0 {
			content += "\n"
		}
		content += l
	}

	docs := ChunkFile("pkg/a.go", content)
	require.NotEmpty(t, docs)
	assert.Equal(t, "pkg/a.go#1", docs[0].ID)
	assert.Equal(t, "1", docs[0].Metadata["start_line"])
	assert.Equal(t, "60", docs[0].Metadata["end_line"])
	require.Greater(t, len(docs), 1)
	assert.Equal(t, "51", docs[1].Metadata["start_line"])
}
