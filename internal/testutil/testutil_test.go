package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/citechain/internal/citation"
)

func TestFakeClock_SleepAdvances(t *testing.T) {
	c := NewFakeClock()
	start := c.Now()

	require.NoError(t, c.Sleep(context.Background(), time.Second))
	c.Advance(250 * time.Millisecond)

	assert.Equal(t, 1250*time.Millisecond, c.Now().Sub(start))
	assert.Equal(t, []time.Duration{time.Second}, c.Sleeps())
}

func TestFakeClock_SleepHonorsCancellation(t *testing.T) {
	c := NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, c.Sleeps())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "s-1", NewFixedIDGenerator("s-1").Generate())
	assert.Equal(t, "test-session-default", NewFixedIDGenerator("").Generate())
}

func TestStubSource_ScriptedAnswers(t *testing.T) {
	s := NewStubSource("p", 2, 0, map[string]citation.Record{"a": {"title": "A"}})
	s.Errors = map[string]error{"bad": citation.NewKeyNotFoundError("p", "bad", "")}

	got, err := s.RetrieveChunk(context.Background(), []string{"a", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]citation.Record{"a": {"title": "A"}}, got)

	_, err = s.RetrieveChunk(context.Background(), []string{"bad"})
	assert.True(t, citation.IsKeyNotFound(err))

	assert.Equal(t, []string{"a", "absent", "bad"}, s.RequestedKeys())
	assert.Equal(t, "p", s.Config().CitePrefix)
}
