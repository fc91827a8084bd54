package chatsession

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StateChange describes one connection state transition.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	// Err is the cause of the transition, if any.
	Err error
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// dispatcher holds the subscriber lists. Registrations add to the list; every
// subscriber sees every event once, in emission order.
type dispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(Message)
	onMessageSent  []func(Message)
	onReceipt      []func(Receipt)
	onTyping       []func(TypingChange)
	onPresence     []func(PresenceChange)
	onFrame        []func(ServerMessage)
	onError        []func(error)
	onConnect      []func()
	onDisconnect   []func(int, string)
	onReconnecting []func(int, time.Duration)
	onStateChange  []func(StateChange)

	notifier *notifier
}

func newDispatcher(log *slog.Logger) *dispatcher {
	return &dispatcher{notifier: newNotifier(log)}
}

func snapshot[T any](mu *sync.RWMutex, list *[]T) []T {
	mu.RLock()
	defer mu.RUnlock()
	return append([]T(nil), *list...)
}

func (d *dispatcher) emitMessage(m Message) {
	for _, h := range snapshot(&d.mu, &d.onMessage) {
		h := h
		d.notifier.push(func() { h(m) })
	}
}

func (d *dispatcher) emitMessageSent(m Message) {
	for _, h := range snapshot(&d.mu, &d.onMessageSent) {
		h := h
		d.notifier.push(func() { h(m) })
	}
}

func (d *dispatcher) emitReceipt(r Receipt) {
	for _, h := range snapshot(&d.mu, &d.onReceipt) {
		h := h
		d.notifier.push(func() { h(r) })
	}
}

func (d *dispatcher) emitTyping(c TypingChange) {
	for _, h := range snapshot(&d.mu, &d.onTyping) {
		h := h
		d.notifier.push(func() { h(c) })
	}
}

func (d *dispatcher) emitPresence(c PresenceChange) {
	for _, h := range snapshot(&d.mu, &d.onPresence) {
		h := h
		d.notifier.push(func() { h(c) })
	}
}

func (d *dispatcher) emitFrame(f ServerMessage) {
	for _, h := range snapshot(&d.mu, &d.onFrame) {
		h := h
		d.notifier.push(func() { h(f) })
	}
}

func (d *dispatcher) emitError(err error) {
	for _, h := range snapshot(&d.mu, &d.onError) {
		h := h
		d.notifier.push(func() { h(err) })
	}
}

func (d *dispatcher) emitConnect() {
	for _, h := range snapshot(&d.mu, &d.onConnect) {
		d.notifier.push(h)
	}
}

func (d *dispatcher) emitDisconnect(code int, reason string) {
	for _, h := range snapshot(&d.mu, &d.onDisconnect) {
		h := h
		d.notifier.push(func() { h(code, reason) })
	}
}

func (d *dispatcher) emitReconnecting(attempt int, delay time.Duration) {
	for _, h := range snapshot(&d.mu, &d.onReconnecting) {
		h := h
		d.notifier.push(func() { h(attempt, delay) })
	}
}

func (d *dispatcher) emitStateChange(c StateChange) {
	for _, h := range snapshot(&d.mu, &d.onStateChange) {
		h := h
		d.notifier.push(func() { h(c) })
	}
}

// ============================================================================
// Notifier
// ============================================================================

// notifier runs subscriber callbacks on one goroutine, in the order they were
// pushed. The queue is unbounded so the session loop never blocks on a slow
// subscriber, and callbacks may call back into the session.
type notifier struct {
	log     *slog.Logger
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newNotifier(log *slog.Logger) *notifier {
	n := &notifier{
		log:  log,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(f func()) {
	n.mu.Lock()
	n.pending = append(n.pending, f)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-n.wake:
				continue
			case <-n.quit:
				n.mu.Lock()
				rest := n.pending
				n.pending = nil
				n.mu.Unlock()
				for _, f := range rest {
					n.call(f)
				}
				return
			}
		}
		for _, f := range batch {
			n.call(f)
		}
	}
}

func (n *notifier) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	f()
}

// stop lets queued callbacks drain and then ends the goroutine. It does not
// wait, so a subscriber may close the session from inside a callback.
func (n *notifier) stop() {
	n.once.Do(func() { close(n.quit) })
}
