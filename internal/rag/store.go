package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Document is one indexed chunk.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult pairs a document with its similarity to the query.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// StoreConfig configures the vector store.
type StoreConfig struct {
	// PersistPath keeps the index on disk; empty means in-memory.
	PersistPath string `yaml:"persist_path" json:"persist_path"`
	// Collection namespaces the index, typically per workspace.
	Collection string `yaml:"collection" json:"collection"`
}

// Store is a chromem-go backed vector store.
type Store struct {
	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
}

// NewStore opens (or creates) the vector store.
func NewStore(config StoreConfig, embedder Embedder) (*Store, error) {
	if config.Collection == "" {
		config.Collection = "default"
	}
	if embedder == nil {
		embedder = NewHashEmbedder()
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(config.PersistPath, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{db: db, collection: collection}, nil
}

// Add indexes documents, replacing any existing document with the same id.
func (s *Store) Add(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search runs a similarity query, filtering by minSimilarity.
func (s *Store) Search(ctx context.Context, query string, topK int, minSimilarity float32) ([]SearchResult, error) {
	s.mu.Lock()
	count := s.collection.Count()
	s.mu.Unlock()
	if count == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, SearchResult{
			Document:   Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count()
}
