// Package id produces prefixed identifiers for tasks, sessions, checkpoints
// and tool calls.
package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces identifiers with a configurable strategy.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewTaskID generates a new task identifier with a stable prefix.
func NewTaskID() string {
	return defaultGenerator.newIdentifier("task")
}

// NewCallID generates a random tool call identifier.
func NewCallID() string {
	return defaultGenerator.newIdentifier("call")
}

// NewCheckpointID generates a checkpoint record identifier.
func NewCheckpointID() string {
	return defaultGenerator.newIdentifier("ckpt")
}

// NewJobID generates an identifier for background exec jobs.
func NewJobID() string {
	return defaultGenerator.newIdentifier("job")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	switch strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			return fmt.Sprintf("%s-%s", prefix, v7.String())
		}
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	default:
		return fmt.Sprintf("%s-%s", prefix, ksuid.New().String())
	}
}
