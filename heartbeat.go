package chatsession

import "time"

// heartbeat pings a connected transport and detects silent death.
//
// A ping goes out every interval. The first ping after the last sign of life
// arms the liveness timer; any inbound frame disarms it. If it fires, the
// connection is considered dead.
type heartbeat struct {
	clk      clock
	interval time.Duration
	timeout  time.Duration

	ping func()
	dead func()

	ticker   timerSlot
	liveness timerSlot
	running  bool
}

func newHeartbeat(clk clock, interval, timeout time.Duration, ping, dead func()) *heartbeat {
	return &heartbeat{
		clk:      clk,
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		dead:     dead,
	}
}

func (h *heartbeat) start() {
	h.stop()
	h.running = true
	h.schedule()
}

func (h *heartbeat) stop() {
	h.running = false
	h.ticker.stop()
	h.liveness.stop()
}

// touch records proof of life.
func (h *heartbeat) touch() {
	if h.running {
		h.liveness.stop()
	}
}

func (h *heartbeat) schedule() {
	h.ticker.arm(h.clk, h.interval, h.tick)
}

func (h *heartbeat) tick() {
	if !h.running {
		return
	}
	if !h.liveness.armed() {
		h.liveness.arm(h.clk, h.timeout, h.expire)
	}
	h.schedule()
	h.ping()
}

func (h *heartbeat) expire() {
	if !h.running {
		return
	}
	h.stop()
	h.dead()
}
