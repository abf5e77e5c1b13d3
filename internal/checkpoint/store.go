// Package checkpoint keeps append-only per-file content snapshots so edits
// made during a task can be inspected and reverted.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"loom/internal/diff"
	"loom/internal/shared/id"
	"loom/internal/shared/logging"
)

// ErrContentTooLarge is returned when content exceeds the configured ceiling.
// Callers log it and continue; a skipped snapshot never fails the tool call.
var ErrContentTooLarge = errors.New("checkpoint: content exceeds size limit")

// Record is one stored snapshot of a file's content.
type Record struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content"`
	EditType  string    `json:"edit_type"` // write, edit, notebook_edit, revert
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Config bounds the store.
type Config struct {
	// MaxPerFile is the per-file retention depth.
	MaxPerFile int `yaml:"max_per_file" json:"max_per_file"`
	// MaxContentBytes rejects oversized snapshots.
	MaxContentBytes int `yaml:"max_content_bytes" json:"max_content_bytes"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxPerFile <= 0 {
		c.MaxPerFile = 100
	}
	if c.MaxContentBytes <= 0 {
		c.MaxContentBytes = 5 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxPerFile <= 0 {
		return errors.New("checkpoint: max_per_file must be positive")
	}
	if c.MaxContentBytes <= 0 {
		return errors.New("checkpoint: max_content_bytes must be positive")
	}
	return nil
}

type fileKey struct {
	workspace string
	path      string
}

// Store is an in-memory checkpoint store keyed by (workspace, file path).
type Store struct {
	mu     sync.RWMutex
	files  map[fileKey][]*Record
	config Config
	logger logging.Logger
}

// NewStore creates a store with the given config.
func NewStore(config Config, logger logging.Logger) *Store {
	config.SetDefaults()
	return &Store{
		files:  make(map[fileKey][]*Record),
		config: config,
		logger: logging.OrNop(logger),
	}
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Save appends a snapshot. When the most recent snapshot for the file holds
// identical content, the existing record is returned with created=false.
func (s *Store) Save(workspace, path, content, editType string) (*Record, bool, error) {
	if len(content) > s.config.MaxContentBytes {
		s.logger.Warn("checkpoint skipped for %s: %d bytes exceeds limit %d", path, len(content), s.config.MaxContentBytes)
		return nil, false, ErrContentTooLarge
	}

	hash := ContentHash(content)
	key := fileKey{workspace: workspace, path: path}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.files[key]
	if n := len(history); n > 0 && history[n-1].Hash == hash {
		return history[n-1], false, nil
	}

	record := &Record{
		ID:        id.NewCheckpointID(),
		Workspace: workspace,
		FilePath:  path,
		Content:   content,
		EditType:  editType,
		Hash:      hash,
		CreatedAt: time.Now(),
	}
	history = append(history, record)
	if len(history) > s.config.MaxPerFile {
		history = history[len(history)-s.config.MaxPerFile:]
	}
	s.files[key] = history
	return record, true, nil
}

// List returns the newest-first snapshots for a file, up to limit
// (limit <= 0 means all retained records).
func (s *Store) List(workspace, path string, limit int) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.files[fileKey{workspace: workspace, path: path}]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]*Record, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		out = append(out, history[i])
	}
	return out
}

// Latest returns the most recent snapshot for a file, or nil.
func (s *Store) Latest(workspace, path string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.files[fileKey{workspace: workspace, path: path}]
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

// Get looks up a snapshot by id across all files.
func (s *Store) Get(checkpointID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, history := range s.files {
		for _, record := range history {
			if record.ID == checkpointID {
				return record
			}
		}
	}
	return nil
}

// Cleanup trims a file's history to the most recent keep records and returns
// how many were dropped.
func (s *Store) Cleanup(workspace, path string, keep int) int {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey{workspace: workspace, path: path}
	history := s.files[key]
	if len(history) <= keep {
		return 0
	}
	dropped := len(history) - keep
	s.files[key] = history[dropped:]
	return dropped
}

// Stats computes line statistics between two snapshots' contents.
func Stats(before, after *Record) diff.Stats {
	var oldContent, newContent string
	if before != nil {
		oldContent = before.Content
	}
	if after != nil {
		newContent = after.Content
	}
	return diff.LineStats(oldContent, newContent)
}
