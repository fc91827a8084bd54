package chatsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresence_TypingExpiresExactlyOnce(t *testing.T) {
	clk := newFakeClock()
	var stops []TypingChange
	p := newPresence(clk, 3*time.Second, func(c TypingChange) { stops = append(stops, c) })

	change, ok := p.applyTyping(20, true, false)
	require.True(t, ok)
	assert.True(t, change.IsTyping)
	assert.True(t, p.isTyping(20))

	clk.Advance(2 * time.Second)
	_, ok = p.applyTyping(20, true, false)
	assert.False(t, ok, "refresh is not a new start")

	clk.Advance(2 * time.Second)
	assert.True(t, p.isTyping(20), "refresh pushed expiry back")
	assert.Empty(t, stops)

	clk.Advance(2 * time.Second)
	require.Len(t, stops, 1)
	assert.Equal(t, int64(20), stops[0].UserID)
	assert.False(t, stops[0].IsTyping)
	assert.True(t, stops[0].Synthetic)
	assert.False(t, p.isTyping(20))

	clk.Advance(time.Minute)
	assert.Len(t, stops, 1)
}

func TestPresence_ExplicitStop(t *testing.T) {
	clk := newFakeClock()
	notified := 0
	p := newPresence(clk, 3*time.Second, func(TypingChange) { notified++ })

	p.applyTyping(20, true, false)
	change, ok := p.applyTyping(20, false, false)
	require.True(t, ok)
	assert.False(t, change.Synthetic)

	_, ok = p.applyTyping(20, false, false)
	assert.False(t, ok, "stop without a start is not a change")

	clk.Advance(time.Minute)
	assert.Zero(t, notified)
	assert.Equal(t, 0, clk.pending())
}

func TestPresence_OutgoingTypingIsSeparate(t *testing.T) {
	clk := newFakeClock()
	var expired []TypingChange
	p := newPresence(clk, 3*time.Second, func(c TypingChange) { expired = append(expired, c) })

	_, ok := p.applyTyping(20, true, true)
	require.True(t, ok)
	assert.False(t, p.isTyping(20), "own typing is not the peer typing")

	clk.Advance(4 * time.Second)
	require.Len(t, expired, 1)
	assert.True(t, expired[0].Outgoing)
}

func TestPresence_LatestStatusWins(t *testing.T) {
	clk := newFakeClock()
	p := newPresence(clk, 3*time.Second, func(TypingChange) {})

	changes := p.applyStatus(map[int64]PresenceStatus{30: StatusOnline, 10: StatusOffline})
	require.Len(t, changes, 2)
	assert.Equal(t, int64(10), changes[0].UserID)
	assert.Equal(t, int64(30), changes[1].UserID)

	clk.Advance(time.Second)
	changes = p.applyStatus(map[int64]PresenceStatus{30: StatusOffline})
	require.Len(t, changes, 1)
	assert.Equal(t, StatusOnline, changes[0].Previous)

	e, ok := p.lookup(30)
	require.True(t, ok)
	assert.Equal(t, StatusOffline, e.Status)
	assert.Equal(t, clk.Now(), e.ObservedAt)

	_, ok = p.lookup(99)
	assert.False(t, ok)
}

func TestPresence_ResetClearsState(t *testing.T) {
	clk := newFakeClock()
	var notes []TypingChange
	p := newPresence(clk, 3*time.Second, func(c TypingChange) { notes = append(notes, c) })
	p.applyStatus(map[int64]PresenceStatus{10: StatusOnline})
	p.applyTyping(20, true, false)

	p.reset()
	_, ok := p.lookup(10)
	assert.False(t, ok)
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Synthetic)

	clk.Advance(time.Minute)
	assert.Len(t, notes, 1, "expiry timer cancelled")
}
