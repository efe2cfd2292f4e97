package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_CreatesSessionOnFirstCall(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	assert.False(t, s.Exists("sess-1"))
	s.Append("sess-1", RoleUser, "hello")
	assert.True(t, s.Exists("sess-1"))

	hist := s.History("sess-1")
	require.Len(t, hist, 1)
	assert.Equal(t, "hello", hist[0].Text)
	assert.Equal(t, RoleUser, hist[0].Role)
}

func TestHistory_UnknownSessionReturnsEmptyNotNil(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	hist := s.History("does-not-exist")
	require.NotNil(t, hist)
	assert.Empty(t, hist)
	assert.False(t, s.Exists("does-not-exist"))
}

func TestExists_NeverCreatesSession(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Exists("never-created")
	}
	assert.False(t, s.Exists("never-created"))
}

func TestClear_RemovesSession(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	s.Append("sess-1", RoleUser, "hi")
	require.True(t, s.Exists("sess-1"))

	s.Clear("sess-1")
	assert.False(t, s.Exists("sess-1"))
	assert.Empty(t, s.History("sess-1"))
}

func TestClear_UnknownSessionIsNoop(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	s.Clear("never-existed")
}

func TestMaxTurns_EvictsOldestFirst(t *testing.T) {
	s := NewStore(MaxTurns(3), time.Hour)
	defer s.Close()

	s.Append("sess-1", RoleUser, "one")
	s.Append("sess-1", RoleAssistant, "two")
	s.Append("sess-1", RoleUser, "three")
	s.Append("sess-1", RoleAssistant, "four")

	hist := s.History("sess-1")
	require.Len(t, hist, 3)
	assert.Equal(t, "two", hist[0].Text)
	assert.Equal(t, "three", hist[1].Text)
	assert.Equal(t, "four", hist[2].Text)
}

func TestMaxEstimatedTokens_EvictsUntilWithinBudget(t *testing.T) {
	s := NewStore(MaxEstimatedTokens(10), time.Hour)
	defer s.Close()

	s.Append("sess-1", RoleUser, "aaaaaaaaaaaaaaaaaaaa")
	s.Append("sess-1", RoleAssistant, "bbbbbbbbbbbbbbbbbbbb")
	s.Append("sess-1", RoleUser, "short")

	hist := s.History("sess-1")
	total := 0
	for _, turn := range hist {
		total += estimateTokens(turn.Text)
	}
	assert.LessOrEqual(t, total, 10)
	assert.Equal(t, "short", hist[len(hist)-1].Text)
}

func TestHistory_ReturnsIndependentCopy(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Hour)
	defer s.Close()

	s.Append("sess-1", RoleUser, "hi")
	hist := s.History("sess-1")
	hist[0].Text = "mutated"

	again := s.History("sess-1")
	assert.Equal(t, "hi", again[0].Text)
}

func TestSweep_RemovesIdleSessions(t *testing.T) {
	s := NewStore(MaxTurns(20), time.Millisecond)
	defer s.Close()

	s.Append("sess-1", RoleUser, "hi")
	time.Sleep(5 * time.Millisecond)
	s.sweep()

	assert.False(t, s.Exists("sess-1"))
}
