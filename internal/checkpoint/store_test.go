package checkpoint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(Config{MaxPerFile: 5, MaxContentBytes: 1024}, nil)
}

func TestSaveAndLatest(t *testing.T) {
	s := newTestStore()
	rec, created, err := s.Save("/ws", "a.txt", "v1", "write")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, ContentHash("v1"), rec.Hash)

	latest := s.Latest("/ws", "a.txt")
	require.NotNil(t, latest)
	assert.Equal(t, rec.ID, latest.ID)
}

func TestSaveDeduplicatesConsecutiveIdenticalContent(t *testing.T) {
	s := newTestStore()
	first, created, err := s.Save("/ws", "a.txt", "same", "write")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.Save("/ws", "a.txt", "same", "edit")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, s.List("/ws", "a.txt", 0), 1)
}

func TestSaveAllowsNonConsecutiveDuplicates(t *testing.T) {
	s := newTestStore()
	_, _, _ = s.Save("/ws", "a.txt", "v1", "write")
	_, _, _ = s.Save("/ws", "a.txt", "v2", "edit")
	_, created, err := s.Save("/ws", "a.txt", "v1", "edit")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRetentionKeepsMostRecent(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 8; i++ {
		_, _, err := s.Save("/ws", "a.txt", fmt.Sprintf("v%d", i), "edit")
		require.NoError(t, err)
	}
	history := s.List("/ws", "a.txt", 0)
	require.Len(t, history, 5)
	// Newest first.
	assert.Equal(t, "v7", history[0].Content)
	assert.Equal(t, "v3", history[4].Content)
}

func TestListLimit(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 4; i++ {
		_, _, _ = s.Save("/ws", "a.txt", fmt.Sprintf("v%d", i), "edit")
	}
	limited := s.List("/ws", "a.txt", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, "v3", limited[0].Content)
	assert.Equal(t, "v2", limited[1].Content)
}

func TestLargeContentRejected(t *testing.T) {
	s := newTestStore()
	_, created, err := s.Save("/ws", "big.txt", strings.Repeat("x", 2048), "write")
	assert.ErrorIs(t, err, ErrContentTooLarge)
	assert.False(t, created)
	assert.Nil(t, s.Latest("/ws", "big.txt"))
}

func TestCleanup(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 5; i++ {
		_, _, _ = s.Save("/ws", "a.txt", fmt.Sprintf("v%d", i), "edit")
	}
	dropped := s.Cleanup("/ws", "a.txt", 2)
	assert.Equal(t, 3, dropped)
	assert.Len(t, s.List("/ws", "a.txt", 0), 2)
	assert.Equal(t, 0, s.Cleanup("/ws", "a.txt", 2))
}

func TestGetByID(t *testing.T) {
	s := newTestStore()
	rec, _, _ := s.Save("/ws", "a.txt", "v1", "write")
	found := s.Get(rec.ID)
	require.NotNil(t, found)
	assert.Equal(t, "v1", found.Content)
	assert.Nil(t, s.Get("ckpt-missing"))
}

func TestWorkspacesAreIsolated(t *testing.T) {
	s := newTestStore()
	_, _, _ = s.Save("/ws1", "a.txt", "one", "write")
	_, _, _ = s.Save("/ws2", "a.txt", "two", "write")
	assert.Equal(t, "one", s.Latest("/ws1", "a.txt").Content)
	assert.Equal(t, "two", s.Latest("/ws2", "a.txt").Content)
}

func TestStats(t *testing.T) {
	before := &Record{Content: "a\nb\n"}
	after := &Record{Content: "a\nb\nc\n"}
	stats := Stats(before, after)
	assert.Equal(t, 1, stats.LinesAdded)
	assert.Equal(t, 0, stats.LinesRemoved)

	created := Stats(nil, &Record{Content: "x\n"})
	assert.Equal(t, 1, created.LinesAdded)
}
