// Package taskregistry tracks the process-wide set of active tasks and a
// short-lived record of recently completed ones, so late UI messages get a
// benign answer instead of an error.
package taskregistry

import (
	"errors"
	"sync"
	"time"

	"loom/internal/agent/ports"
	"loom/internal/shared/logging"
)

// Config bounds the grace and cleanup behaviour of the completed set.
type Config struct {
	// GraceWindow is how long after terminal transition a task id still
	// answers lookups as recently completed.
	GraceWindow time.Duration `yaml:"grace_window" json:"grace_window"`
	// CleanupAfter is when completed entries become eligible for pruning.
	CleanupAfter time.Duration `yaml:"cleanup_after" json:"cleanup_after"`
}

// SetDefaults fills unset fields. The grace window is deliberately shorter
// than the cleanup horizon so pruning never races a stale decision.
func (c *Config) SetDefaults() {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 10 * time.Second
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.GraceWindow <= 0 || c.CleanupAfter <= 0 {
		return errors.New("taskregistry: durations must be positive")
	}
	if c.CleanupAfter < c.GraceWindow {
		return errors.New("taskregistry: cleanup_after must not be shorter than grace_window")
	}
	return nil
}

type completedEntry struct {
	status     ports.TaskStatus
	finishedAt time.Time
}

// Registry is the in-memory task map. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	active    map[string]*ports.TaskState
	completed map[string]completedEntry
	config    Config
	logger    logging.Logger
	now       func() time.Time
}

// New creates a registry.
func New(config Config, logger logging.Logger) *Registry {
	config.SetDefaults()
	return &Registry{
		active:    make(map[string]*ports.TaskState),
		completed: make(map[string]completedEntry),
		config:    config,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Add registers a new active task.
func (r *Registry) Add(task *ports.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[task.TaskID]; exists {
		r.logger.Warn("task %s re-registered, overwriting", task.TaskID)
	}
	r.active[task.TaskID] = task
}

// Get returns the active task for id.
func (r *Registry) Get(taskID string) (*ports.TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.active[taskID]
	return task, ok
}

// Complete moves a task out of the active set, remembering its terminal
// status for the grace window.
func (r *Registry) Complete(taskID string, status ports.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, taskID)
	r.completed[taskID] = completedEntry{status: status, finishedAt: r.now()}
	r.pruneLocked()
}

// RecentlyCompleted reports whether the id finished within the grace window
// and, if so, with which status.
func (r *Registry) RecentlyCompleted(taskID string) (ports.TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	entry, ok := r.completed[taskID]
	if !ok || r.now().Sub(entry.finishedAt) > r.config.GraceWindow {
		return "", false
	}
	return entry.status, true
}

// ActiveCount returns the number of in-flight tasks.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// ActiveIDs returns a snapshot of the in-flight task ids.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// pruneLocked drops completed entries past the cleanup horizon. Called
// opportunistically from mutating paths; no background goroutine needed.
func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-r.config.CleanupAfter)
	for id, entry := range r.completed {
		if entry.finishedAt.Before(cutoff) {
			delete(r.completed, id)
		}
	}
}
