package chatsession

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake clock
// ============================================================================

// fakeClock fires timers synchronously from Advance, on the calling
// goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clk  *fakeClock
	at   time.Time
	seq  int
	f    func()
	done bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clk: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

// Advance moves time forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.done {
				live = append(live, t)
			}
		}
		c.timers = live
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		next.done = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// pending counts timers that have not fired or been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Test backend
// ============================================================================

type clientFrame struct {
	msg           ClientMessage
	correlationID string
}

type serverConn struct {
	t       *testing.T
	conn    *gorilla.Conn
	writeMu sync.Mutex
	frames  chan clientFrame
	closed  chan struct{}

	// openedAt is when the upgrade request arrived; closedAt is when the
	// read side saw the connection end, set before closed is closed.
	openedAt time.Time
	closedAt time.Time
}

func (c *serverConn) send(msg ServerMessage) {
	data, err := EncodeServerMessage(msg)
	require.NoError(c.t, err)
	c.sendRaw(data)
}

func (c *serverConn) sendRaw(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(gorilla.TextMessage, data)
}

// drop kills the connection without a close handshake.
func (c *serverConn) drop() {
	_ = c.conn.Close()
}

// next waits for the next client frame.
func (c *serverConn) next() clientFrame {
	c.t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(3 * time.Second):
		c.t.Fatal("timed out waiting for a client frame")
		return clientFrame{}
	}
}

// nextOf skips frames until one of type frameType arrives.
func (c *serverConn) nextOf(frameType string) clientFrame {
	c.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-c.frames:
			if f.msg.FrameType() == frameType {
				return f
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for a %s frame", frameType)
			return clientFrame{}
		}
	}
}

// backend is a websocket chat server for session tests.
type backend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader gorilla.Upgrader
	accepted chan *serverConn

	mu       sync.Mutex
	userID   int64
	silent   bool
	autoPong bool
	autoAck  bool
	reject   func(r *http.Request) int
	// greet replaces connection_accepted as the first frame when it returns
	// a message.
	greet func(r *http.Request) ServerMessage
	auth  []string
}

func newBackend(t *testing.T) *backend {
	b := &backend{
		t:        t,
		accepted: make(chan *serverConn, 64),
		userID:   7,
		autoPong: true,
		autoAck:  true,
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *backend) set(f func(b *backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b)
}

func (b *backend) authHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auth...)
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	openedAt := time.Now()
	b.mu.Lock()
	b.auth = append(b.auth, r.Header.Get("Authorization"))
	reject, greet := b.reject, b.greet
	userID, silent := b.userID, b.silent
	b.mu.Unlock()

	if reject != nil {
		if code := reject(r); code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{
		t:        b.t,
		conn:     conn,
		frames:   make(chan clientFrame, 256),
		closed:   make(chan struct{}),
		openedAt: openedAt,
	}
	var first ServerMessage
	if greet != nil {
		first = greet(r)
	}
	switch {
	case first != nil:
		sc.send(first)
	case !silent:
		sc.send(ConnectionAccepted{UserID: userID})
	}
	select {
	case b.accepted <- sc:
	default:
	}

	// Stamp the close before replying, so a client waiting on the reply
	// cannot have dialed yet.
	conn.SetCloseHandler(func(code int, _ string) error {
		sc.closedAt = time.Now()
		msg := gorilla.FormatCloseMessage(code, "")
		_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	})

	go func() {
		defer close(sc.closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if sc.closedAt.IsZero() {
					sc.closedAt = time.Now()
				}
				return
			}
			msg, cid, err := DecodeClientFrame(data)
			if err != nil {
				continue
			}
			b.mu.Lock()
			autoPong, autoAck := b.autoPong, b.autoAck
			b.mu.Unlock()
			if _, ok := msg.(Ping); ok && autoPong {
				sc.send(Pong{})
			}
			if cid != "" && autoAck {
				sc.send(ServerAck{CorrelationID: cid})
			}
			select {
			case sc.frames <- clientFrame{msg: msg, correlationID: cid}:
			default:
			}
		}
	}()
}

// conn waits for the next accepted connection.
func (b *backend) conn() *serverConn {
	b.t.Helper()
	select {
	case c := <-b.accepted:
		return c
	case <-time.After(3 * time.Second):
		b.t.Fatal("timed out waiting for a connection")
		return nil
	}
}

// testConfig is tuned for fast tests: heartbeats effectively off, short
// reconnect delays.
func testConfig(url string) Config {
	return Config{
		URL:                url,
		Token:              "initial",
		ConnectTimeout:     2 * time.Second,
		HeartbeatInterval:  time.Hour,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  40 * time.Millisecond,
		AckTimeout:         time.Second,
		TypingExpiry:       time.Second,
		Logger:             discardLogger(),
	}
}

func newTestSession(t *testing.T, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recv waits for a value on ch.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an event")
		var zero T
		return zero
	}
}

func waitState(t *testing.T, s *Session, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 3*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}
