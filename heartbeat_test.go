package chatsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeat_DeclaresDeadAfterSilence(t *testing.T) {
	clk := newFakeClock()
	pings, dead := 0, 0
	hb := newHeartbeat(clk, 30*time.Second, 60*time.Second, func() { pings++ }, func() { dead++ })
	hb.start()

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, pings)
	assert.Equal(t, 0, dead)

	// The liveness timer armed by the first ping is not pushed back by the
	// second one.
	clk.Advance(60 * time.Second)
	assert.Equal(t, 2, pings)
	assert.Equal(t, 1, dead)

	clk.Advance(5 * time.Minute)
	assert.Equal(t, 2, pings, "no pings after the connection is declared dead")
	assert.Equal(t, 1, dead)
}

func TestHeartbeat_AnyFrameKeepsAlive(t *testing.T) {
	clk := newFakeClock()
	pings, dead := 0, 0
	hb := newHeartbeat(clk, 30*time.Second, 60*time.Second, func() { pings++ }, func() { dead++ })
	hb.start()

	for range 10 {
		clk.Advance(30 * time.Second)
		hb.touch()
	}
	assert.Equal(t, 10, pings)
	assert.Equal(t, 0, dead)
}

func TestHeartbeat_StopCancelsTimers(t *testing.T) {
	clk := newFakeClock()
	pings, dead := 0, 0
	hb := newHeartbeat(clk, time.Second, 2*time.Second, func() { pings++ }, func() { dead++ })
	hb.start()
	clk.Advance(time.Second)
	hb.stop()

	assert.Equal(t, 0, clk.pending())
	clk.Advance(time.Minute)
	assert.Equal(t, 1, pings)
	assert.Equal(t, 0, dead)
}

func TestHeartbeat_TouchBeforeStartIsIgnored(t *testing.T) {
	clk := newFakeClock()
	hb := newHeartbeat(clk, time.Second, 2*time.Second, func() {}, func() {})
	hb.touch()
	assert.Equal(t, 0, clk.pending())
}
