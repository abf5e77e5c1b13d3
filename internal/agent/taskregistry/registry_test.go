package taskregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/agent/ports"
)

func TestAddGetComplete(t *testing.T) {
	r := New(Config{}, nil)
	r.Add(&ports.TaskState{TaskID: "t1", Status: ports.TaskRunning})

	task, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, ports.TaskRunning, task.Status)
	assert.Equal(t, 1, r.ActiveCount())

	r.Complete("t1", ports.TaskCompleted)
	_, ok = r.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.ActiveCount())

	status, recent := r.RecentlyCompleted("t1")
	require.True(t, recent)
	assert.Equal(t, ports.TaskCompleted, status)
}

func TestGraceWindowExpires(t *testing.T) {
	r := New(Config{GraceWindow: 10 * time.Second, CleanupAfter: 30 * time.Second}, nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Add(&ports.TaskState{TaskID: "t1"})
	r.Complete("t1", ports.TaskAborted)

	now = now.Add(9 * time.Second)
	_, recent := r.RecentlyCompleted("t1")
	assert.True(t, recent)

	now = now.Add(2 * time.Second)
	_, recent = r.RecentlyCompleted("t1")
	assert.False(t, recent, "past the grace window")
}

func TestCleanupPrunesOldEntries(t *testing.T) {
	r := New(Config{GraceWindow: 10 * time.Second, CleanupAfter: 30 * time.Second}, nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Add(&ports.TaskState{TaskID: "t1"})
	r.Complete("t1", ports.TaskCompleted)

	now = now.Add(31 * time.Second)
	r.Complete("t2", ports.TaskFailed) // triggers opportunistic prune

	r.mu.RLock()
	_, stillThere := r.completed["t1"]
	r.mu.RUnlock()
	assert.False(t, stillThere)
}

func TestUnknownTaskIsNeitherActiveNorRecent(t *testing.T) {
	r := New(Config{}, nil)
	_, ok := r.Get("nope")
	assert.False(t, ok)
	_, recent := r.RecentlyCompleted("nope")
	assert.False(t, recent)
}

func TestConfigValidate(t *testing.T) {
	bad := Config{GraceWindow: 30 * time.Second, CleanupAfter: 10 * time.Second}
	assert.Error(t, bad.Validate())

	good := Config{}
	good.SetDefaults()
	assert.NoError(t, good.Validate())
	assert.Equal(t, 10*time.Second, good.GraceWindow)
	assert.Equal(t, 30*time.Second, good.CleanupAfter)
}
