package chatsession

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Outcome / Delivery
// ============================================================================

// Outcome is the result of a send.
type Outcome int

const (
	OutcomeQueued Outcome = iota
	OutcomeDelivered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQueued:
		return "queued"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivery tracks one submitted message until the server acknowledges it or
// it fails for good.
type Delivery struct {
	correlationID string
	queued        bool
	done          chan struct{}
	outcome       Outcome
	err           error
}

func newDelivery(id string) *Delivery {
	return &Delivery{correlationID: id, done: make(chan struct{})}
}

// CorrelationID is the id carried on the wire and echoed by the server ack.
func (d *Delivery) CorrelationID() string { return d.correlationID }

// Queued reports whether the message was held back at submission because the
// session was not connected.
func (d *Delivery) Queued() bool { return d.queued }

// Done is closed once the outcome is final.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Result returns the outcome. Before Done is closed it is OutcomeQueued.
func (d *Delivery) Result() (Outcome, error) {
	select {
	case <-d.done:
		return d.outcome, d.err
	default:
		return OutcomeQueued, nil
	}
}

// Wait blocks until the outcome is final or ctx ends.
func (d *Delivery) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-d.done:
		return d.outcome, d.err
	case <-ctx.Done():
		return OutcomeQueued, ctx.Err()
	}
}

func (d *Delivery) resolve(o Outcome, err error) {
	select {
	case <-d.done:
		return
	default:
	}
	d.outcome = o
	d.err = err
	close(d.done)
}

// ============================================================================
// Envelope
// ============================================================================

// Envelope is an outbound message with its delivery metadata.
type Envelope struct {
	CorrelationID string
	Payload       ClientMessage
	SentAt        time.Time
	Acknowledged  bool
	Attempts      int

	seq      uint64
	queued   bool
	ackTimer timerSlot
	delivery *Delivery
}

// Queued reports whether the envelope is waiting for a connection rather
// than for an ack.
func (e *Envelope) Queued() bool { return e.queued }

// ============================================================================
// Tracker
// ============================================================================

// tracker owns every unresolved envelope. Envelopes that are not on the wire
// wait in queue in submission order; the rest wait for their ack.
type tracker struct {
	clk         clock
	ackTimeout  time.Duration
	maxAttempts int
	write       func(*Envelope) error

	pending map[string]*Envelope
	queue   []*Envelope
	seq     uint64
	online  bool
}

func newTracker(clk clock, ackTimeout time.Duration, maxAttempts int, write func(*Envelope) error) *tracker {
	return &tracker{
		clk:         clk,
		ackTimeout:  ackTimeout,
		maxAttempts: maxAttempts,
		write:       write,
		pending:     make(map[string]*Envelope),
	}
}

// submit wraps msg in a new envelope. It goes on the wire right away when
// online, otherwise it is queued.
func (t *tracker) submit(msg ClientMessage) (*Envelope, error) {
	id := ulid.Make().String()
	t.seq++
	env := &Envelope{
		CorrelationID: id,
		Payload:       msg,
		seq:           t.seq,
		delivery:      newDelivery(id),
	}
	t.pending[id] = env

	if !t.online {
		env.delivery.queued = true
		t.enqueue(env)
		return env, nil
	}
	return env, t.transmit(env)
}

func (t *tracker) transmit(env *Envelope) error {
	env.Attempts++
	env.SentAt = t.clk.Now()
	env.ackTimer.arm(t.clk, t.ackTimeout, func() { t.ackExpired(env) })
	if err := t.write(env); err != nil {
		return fmt.Errorf("transmit %s: %w", env.CorrelationID, err)
	}
	return nil
}

// ack resolves the envelope matching correlationID. Unknown ids are ignored.
func (t *tracker) ack(correlationID string) bool {
	env, ok := t.pending[correlationID]
	if !ok {
		return false
	}
	env.Acknowledged = true
	t.remove(env)
	env.delivery.resolve(OutcomeDelivered, nil)
	return true
}

func (t *tracker) ackExpired(env *Envelope) {
	if _, ok := t.pending[env.CorrelationID]; !ok || env.queued || !t.online {
		return
	}
	if env.Attempts >= t.maxAttempts {
		t.fail(env, &Error{
			Kind:    KindAckTimeout,
			Message: fmt.Sprintf("no ack for %s after %d attempts", env.CorrelationID, env.Attempts),
		})
		return
	}
	// A failed write is reported by the transport; the envelope is requeued
	// when the session goes offline.
	_ = t.transmit(env)
}

// resume marks the tracker online and flushes the queue in submission order.
// It stops at the first failed write.
func (t *tracker) resume() error {
	t.online = true
	for len(t.queue) > 0 && t.online {
		env := t.queue[0]
		t.queue = t.queue[1:]
		env.queued = false
		if env.Attempts >= t.maxAttempts {
			t.fail(env, &Error{
				Kind:    KindAckTimeout,
				Message: fmt.Sprintf("no ack for %s after %d attempts", env.CorrelationID, env.Attempts),
			})
			continue
		}
		if err := t.transmit(env); err != nil {
			return err
		}
	}
	return nil
}

// suspend marks the tracker offline. Envelopes awaiting an ack go back into
// the queue, ordered by submission, and are retransmitted with the same
// correlation id on the next resume.
func (t *tracker) suspend() {
	t.online = false
	for _, env := range t.pending {
		if env.queued {
			continue
		}
		env.ackTimer.stop()
		t.enqueue(env)
	}
	sort.Slice(t.queue, func(i, j int) bool { return t.queue[i].seq < t.queue[j].seq })
}

// clear fails every envelope still waiting in the queue.
func (t *tracker) clear(err error) int {
	queued := append([]*Envelope(nil), t.queue...)
	for _, env := range queued {
		t.fail(env, err)
	}
	return len(queued)
}

// close fails every unresolved envelope.
func (t *tracker) close(err error) {
	t.online = false
	all := make([]*Envelope, 0, len(t.pending))
	for _, env := range t.pending {
		all = append(all, env)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, env := range all {
		t.fail(env, err)
	}
}

func (t *tracker) fail(env *Envelope, err error) {
	t.remove(env)
	env.delivery.resolve(OutcomeFailed, err)
}

func (t *tracker) enqueue(env *Envelope) {
	env.queued = true
	t.queue = append(t.queue, env)
}

func (t *tracker) remove(env *Envelope) {
	env.ackTimer.stop()
	delete(t.pending, env.CorrelationID)
	if env.queued {
		for i, q := range t.queue {
			if q == env {
				t.queue = append(t.queue[:i], t.queue[i+1:]...)
				break
			}
		}
		env.queued = false
	}
}

// snapshot copies the unresolved envelopes in submission order.
func (t *tracker) snapshot() []Envelope {
	out := make([]Envelope, 0, len(t.pending))
	for _, env := range t.pending {
		out = append(out, Envelope{
			CorrelationID: env.CorrelationID,
			Payload:       env.Payload,
			SentAt:        env.SentAt,
			Acknowledged:  env.Acknowledged,
			Attempts:      env.Attempts,
			seq:           env.seq,
			queued:        env.queued,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *tracker) queueLen() int { return len(t.queue) }
