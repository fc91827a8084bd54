// Package chatsession is the realtime messaging session of the chat client.
//
// A Session owns one websocket connection to the messaging backend. It keeps
// the connection alive with heartbeats, reconnects with exponential backoff,
// delivers client intents at least once and in order, deduplicates inbound
// chat messages into per-conversation logs, and tracks presence and typing.
//
// Usage:
//
//	s, _ := chatsession.New(chatsession.Config{URL: "wss://chat.example.com/ws"},
//		chatsession.WithRefresher(auth.Refresh))
//	defer s.Close()
//
//	s.OnMessage(func(m chatsession.Message) { fmt.Println(m.Content) })
//	if err := s.Connect(ctx, token); err != nil { ... }
//	s.SendMessageRead(ctx, 42)
//
// All session state is owned by one goroutine (the loop). Public methods and
// timers hand work to it; subscribers are called on a separate goroutine in
// emission order.
package chatsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Connection state
// ============================================================================

// ConnectionState is the state of the session's connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type status struct {
	state   ConnectionState
	attempt int
	lastErr error
	userID  int64
}

// ============================================================================
// Session
// ============================================================================

// Session is one realtime messaging session. Create it with New and release
// it with Close.
type Session struct {
	id        string
	cfg       Config
	log       *slog.Logger
	dialer    Dialer
	refresher CredentialRefresher
	clk       clock
	events    *dispatcher

	cmds      chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	statusMu sync.RWMutex
	status   status

	// Owned by the loop goroutine.
	state          ConnectionState
	epoch          uint64
	conn           Conn
	readCancel     context.CancelFunc
	dialCancel     context.CancelFunc
	closing        chan struct{}
	token          string
	userID         int64
	lastErr        error
	manual         bool
	forceRefresh   bool
	refreshing     bool
	waiters        []chan error
	deferred       []func()
	connectTimer   timerSlot
	reconnectTimer timerSlot

	hb       *heartbeat
	recon    *reconnector
	outbox   *tracker
	inbox    *inbox
	presence *presence
}

// New creates a disconnected session and starts its loop.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg.defaults()
	if cfg.Header != nil {
		cfg.Header = cfg.Header.Clone()
	}

	s := &Session{
		id:       ulid.Make().String(),
		cfg:      cfg,
		cmds:     make(chan func(), 64),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.validate(); err != nil {
		return nil, err
	}
	if s.cfg.Logger == nil {
		s.cfg.Logger = slog.Default()
	}
	if s.dialer == nil {
		s.dialer = &WebSocketDialer{HTTPClient: s.cfg.HTTPClient, ReadLimit: s.cfg.ReadLimit}
	}

	s.log = s.cfg.Logger.With("component", "chatsession", "session", s.id)
	s.clk = loopClock{post: s.post}
	s.events = newDispatcher(s.log)
	s.token = s.cfg.Token

	s.hb = newHeartbeat(s.clk, s.cfg.HeartbeatInterval, s.cfg.HeartbeatTimeout, s.sendPing, s.heartbeatDead)
	s.recon = newReconnector(&s.cfg, s.clk)
	s.outbox = newTracker(s.clk, s.cfg.AckTimeout, s.cfg.MaxSendAttempts, s.writeEnvelope)
	s.inbox = newInbox(s.clk, s.cfg.ReceiptBufferWindow)
	s.presence = newPresence(s.clk, s.cfg.TypingExpiry, s.events.emitTyping)
	s.publish()

	go s.loop()
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// ── Loop ─────────────────────────────────────────────────

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case f := <-s.cmds:
			f()
			s.runDeferred()
		case <-s.quit:
			return
		}
	}
}

// post hands f to the loop. It reports false once the session is closed.
func (s *Session) post(f func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.cmds <- f:
		return true
	case <-s.quit:
		return false
	}
}

// do runs f on the loop and waits for it.
func (s *Session) do(f func()) error {
	done := make(chan struct{})
	if !s.post(func() { f(); close(done) }) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	}
}

// later queues f to run on the loop after the current command, so that
// transport failures found mid-operation are handled once the operation
// is done with its own state.
func (s *Session) later(f func()) {
	s.deferred = append(s.deferred, f)
}

func (s *Session) runDeferred() {
	for len(s.deferred) > 0 {
		f := s.deferred[0]
		s.deferred = s.deferred[1:]
		f()
	}
}

// ── Status ───────────────────────────────────────────────

func (s *Session) setState(to ConnectionState, cause error) {
	from := s.state
	s.state = to
	s.publish()
	if from == to {
		return
	}
	attrs := []any{"from", from.String(), "to", to.String()}
	if cause != nil {
		attrs = append(attrs, "cause", cause.Error())
	}
	s.log.Info("connection state changed", attrs...)
	s.events.emitStateChange(StateChange{From: from, To: to, Err: cause})
}

func (s *Session) publish() {
	attempt := 0
	if s.state == StateReconnecting || s.state == StateConnecting {
		attempt = s.recon.attempt
	}
	s.statusMu.Lock()
	s.status = status{state: s.state, attempt: attempt, lastErr: s.lastErr, userID: s.userID}
	s.statusMu.Unlock()
}

func (s *Session) readStatus() status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// State returns the current connection state.
func (s *Session) State() ConnectionState { return s.readStatus().state }

// ReconnectAttempt returns the current reconnection attempt, 0 when not
// reconnecting.
func (s *Session) ReconnectAttempt() int { return s.readStatus().attempt }

// LastError returns the last error surfaced to OnError subscribers.
func (s *Session) LastError() error { return s.readStatus().lastErr }

// UserID returns the user id from the last accepted handshake.
func (s *Session) UserID() int64 { return s.readStatus().userID }

// surface reports a non-fatal error to subscribers.
func (s *Session) surface(err error) {
	s.lastErr = err
	s.publish()
	s.events.emitError(err)
}

// ── Connect / Disconnect / Close ─────────────────────────

// Connect opens the connection with token (or the current credential when
// token is empty) and waits until the handshake is accepted or the attempt
// fails. It is a no-op while connecting or connected. A failed attempt is
// returned, and the session keeps retrying in the background.
func (s *Session) Connect(ctx context.Context, token string) error {
	result := make(chan error, 1)
	if !s.post(func() { s.connect(token, result) }) {
		return ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSessionClosed
	}
}

func (s *Session) connect(token string, result chan error) {
	if token != "" {
		s.token = token
	}
	switch s.state {
	case StateConnected:
		result <- nil
		return
	case StateConnecting:
		s.waiters = append(s.waiters, result)
		return
	}
	s.manual = false
	s.lastErr = nil
	s.recon.reset()
	s.waiters = append(s.waiters, result)
	s.dial()
}

// Disconnect closes the connection and stops reconnecting. Queued envelopes
// are kept for the next Connect.
func (s *Session) Disconnect() error {
	return s.do(func() {
		s.manual = true
		s.reconnectTimer.stop()
		s.teardown(CloseNormal, "client disconnect", true)
		s.resolveWaiters(ErrDisconnected)
		s.setState(StateDisconnected, nil)
	})
}

// Close disconnects, fails every pending send with ErrSessionClosed and stops
// the session. The session cannot be reused.
func (s *Session) Close() error {
	err := ErrSessionClosed
	s.closeOnce.Do(func() {
		err = s.do(func() {
			s.manual = true
			s.reconnectTimer.stop()
			s.teardown(CloseNormal, "session closed", true)
			s.outbox.close(ErrSessionClosed)
			s.inbox.stop()
			s.presence.stop()
			s.resolveWaiters(ErrSessionClosed)
			s.setState(StateDisconnected, nil)
		})
		close(s.quit)
		<-s.loopDone
		s.events.notifier.stop()
	})
	return err
}

func (s *Session) resolveWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

// ── Dialing ──────────────────────────────────────────────

func (s *Session) dial() {
	s.reconnectTimer.stop()
	s.epoch++
	epoch := s.epoch
	s.setState(StateConnecting, nil)
	s.connectTimer.arm(s.clk, s.cfg.ConnectTimeout, func() { s.connectTimedOut(epoch) })

	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	token := s.token
	closing := s.closing
	refresh := s.refresher != nil && (s.forceRefresh || tokenExpired(token, s.clk.Now()))
	s.forceRefresh = false

	s.log.Debug("dialing", "url", s.cfg.URL, "attempt", s.recon.attempt)

	go func() {
		// The previous socket must be gone before a new one is opened.
		if closing != nil {
			select {
			case <-closing:
			case <-ctx.Done():
			}
		}

		fresh := ""
		if refresh {
			t, err := s.refresher(ctx)
			if err == nil && t == "" {
				err = errors.New("refresher returned an empty credential")
			}
			if err != nil {
				s.post(func() {
					s.dialed(epoch, nil, "", &Error{
						Kind:    KindAuthenticationExpired,
						Message: "credential refresh failed",
						Err:     err,
					})
				})
				return
			}
			token, fresh = t, t
		}

		header := http.Header{}
		if s.cfg.Header != nil {
			header = s.cfg.Header.Clone()
		}
		if token != "" {
			header.Set("Authorization", bearer(token))
		}

		conn, err := s.dialer.Dial(ctx, s.cfg.URL, header)
		if !s.post(func() { s.dialed(epoch, conn, fresh, err) }) && conn != nil {
			_ = conn.CloseNow()
		}
	}()
}

func (s *Session) dialed(epoch uint64, conn Conn, fresh string, err error) {
	if epoch != s.epoch || s.state != StateConnecting {
		if conn != nil {
			_ = conn.CloseNow()
		}
		return
	}
	if fresh != "" {
		s.token = fresh
	}
	if err != nil {
		s.connectFailed(err)
		return
	}

	s.conn = conn
	ctx, cancel := context.WithCancel(context.Background())
	s.readCancel = cancel
	go s.readLoop(ctx, epoch, conn)
}

func (s *Session) connectTimedOut(epoch uint64) {
	if epoch != s.epoch || s.state != StateConnecting {
		return
	}
	s.connectFailed(&Error{
		Kind:    KindConnectionTimeout,
		Message: fmt.Sprintf("not established within %s", s.cfg.ConnectTimeout),
	})
}

func (s *Session) connectFailed(err error) {
	s.log.Warn("connection attempt failed", "error", err)
	s.teardown(CloseAbnormal, "", false)

	if terminal := s.terminalCause(err); terminal != nil {
		s.terminate(terminal)
		return
	}
	s.scheduleReconnect(err)
	// Exhaustion has already resolved the waiters with its own error.
	s.resolveWaiters(err)
}

// terminalCause returns the error that ends the session when err is a
// credential failure nothing can recover from, or nil. A rejected handshake
// with a refresher installed forces a refresh before the next attempt.
func (s *Session) terminalCause(err error) error {
	if errors.Is(err, ErrAuthenticationExpired) {
		return err
	}
	var he *HandshakeError
	if errors.As(err, &he) && he.Unauthorized() {
		if s.refresher == nil {
			return &Error{Kind: KindAuthenticationExpired, Message: "credential rejected", Err: err}
		}
		s.forceRefresh = true
	}
	return nil
}

// handshakeTokenExpired handles a token_expired frame that arrives instead of
// connection_accepted.
func (s *Session) handshakeTokenExpired(m TokenExpired) {
	if s.refresher == nil {
		s.connectFailed(&Error{Kind: KindAuthenticationExpired, Message: m.Message})
		return
	}
	s.forceRefresh = true
	s.connectFailed(fmt.Errorf("credential expired during handshake: %s", m.Message))
}

// established completes the handshake.
func (s *Session) established(a ConnectionAccepted) {
	s.connectTimer.stop()
	s.userID = a.UserID
	s.inbox.self = a.UserID
	s.recon.reset()
	s.setState(StateConnected, nil)
	s.hb.start()
	s.resolveWaiters(nil)
	s.events.emitConnect()

	if err := s.outbox.resume(); err != nil {
		s.log.Warn("flushing queued envelopes failed", "error", err)
	}
}

// ── Teardown and recovery ────────────────────────────────

// teardown releases the transport and everything bound to it. The caller
// decides the next state.
func (s *Session) teardown(code int, reason string, graceful bool) {
	s.epoch++
	s.connectTimer.stop()
	s.hb.stop()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}

	wasConnected := s.state == StateConnected
	s.outbox.suspend()

	conn, cancel := s.conn, s.readCancel
	s.conn, s.readCancel = nil, nil
	if conn != nil {
		if graceful {
			done := make(chan struct{})
			s.closing = done
			go func() {
				defer close(done)
				_ = conn.Close(code, reason)
				cancel()
			}()
		} else {
			_ = conn.CloseNow()
			cancel()
		}
	}

	if wasConnected {
		s.presence.reset()
		s.events.emitDisconnect(code, reason)
	}
}

func (s *Session) transportLost(epoch uint64, err error) {
	if epoch != s.epoch {
		return
	}
	switch s.state {
	case StateConnecting:
		s.connectFailed(err)
	case StateConnected:
		code, reason := closeDetails(err)
		s.log.Warn("transport lost", "code", code, "reason", reason)
		s.teardown(code, reason, false)
		s.scheduleReconnect(err)
	}
}

func (s *Session) heartbeatDead() {
	err := &Error{
		Kind:    KindHeartbeatTimeout,
		Message: fmt.Sprintf("no frame within %s of a ping", s.cfg.HeartbeatTimeout),
	}
	s.log.Warn("heartbeat timeout, dropping connection")
	s.teardown(CloseGoingAway, "heartbeat timeout", false)
	s.scheduleReconnect(err)
}

func (s *Session) scheduleReconnect(cause error) {
	if s.manual || s.cfg.DisableAutoReconnect {
		s.setState(StateDisconnected, cause)
		return
	}
	delay, ok := s.recon.next()
	if !ok {
		s.terminate(&Error{
			Kind:    KindReconnectionExhausted,
			Message: fmt.Sprintf("gave up after %d attempts", s.recon.attempt),
			Err:     cause,
		})
		return
	}
	attempt := s.recon.attempt
	s.setState(StateReconnecting, cause)
	s.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	s.events.emitReconnecting(attempt, delay)
	s.reconnectTimer.arm(s.clk, delay, func() {
		if s.state == StateReconnecting {
			s.dial()
		}
	})
}

// terminate ends the session's connection for good. Only Connect revives it.
func (s *Session) terminate(err error) {
	s.log.Error("session terminated", "error", err)
	s.manual = true
	s.reconnectTimer.stop()
	s.teardown(ClosePolicyViolation, "session terminated", true)
	s.resolveWaiters(err)
	s.lastErr = err
	s.setState(StateDisconnected, err)
	s.events.emitError(err)
}

// ── Reading ──────────────────────────────────────────────

func (s *Session) readLoop(ctx context.Context, epoch uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.post(func() { s.transportLost(epoch, err) })
			return
		}
		if !s.post(func() { s.handleFrame(epoch, data) }) {
			return
		}
	}
}

func (s *Session) handleFrame(epoch uint64, data []byte) {
	if epoch != s.epoch || s.conn == nil {
		return
	}
	s.hb.touch()

	msg, err := DecodeServerMessage(data)
	if s.state == StateConnecting {
		if err == nil {
			switch m := msg.(type) {
			case ConnectionAccepted:
				s.events.emitFrame(msg)
				s.established(m)
				return
			case TokenExpired:
				s.events.emitFrame(msg)
				s.handshakeTokenExpired(m)
				return
			}
			err = protocolErrorf(nil, "expected %s, got %s", TypeConnectionAccepted, msg.FrameType())
		}
		s.connectFailed(err)
		return
	}
	if err != nil {
		s.log.Warn("dropping malformed frame", "error", err)
		s.surface(err)
		return
	}

	s.events.emitFrame(msg)
	s.route(msg)
}

func (s *Session) route(msg ServerMessage) {
	switch m := msg.(type) {
	case Pong:
		// Proof of life is recorded for every frame.
	case NewMessage:
		s.handleNewMessage(m)
	case MessageSentAck:
		s.handleMessageSent(m)
	case MessageReadReceipt:
		s.handleReceipt(Receipt{Kind: ReceiptRead, MessageID: m.MessageID, ReadBy: m.ReadBy, At: m.ReadAt})
	case DeliveryReceipt:
		s.handleReceipt(Receipt{Kind: ReceiptDelivered, MessageID: m.MessageID, At: m.DeliveredAt})
	case TypingIndicator:
		if c, ok := s.presence.applyTyping(m.UserID, m.IsTyping, false); ok {
			s.events.emitTyping(c)
		}
	case PresenceStatusFrame:
		for _, c := range s.presence.applyStatus(m.Statuses) {
			s.events.emitPresence(c)
		}
	case ServerAck:
		if !s.outbox.ack(m.CorrelationID) {
			s.log.Debug("ack for unknown correlation id", "correlation_id", m.CorrelationID)
		}
	case TokenExpired:
		s.handleTokenExpired(m)
	case ErrorFrame:
		err := &Error{Kind: KindServerError, Message: m.Message, Code: m.Code}
		s.log.Warn("server error", "message", m.Message, "code", m.Code)
		s.surface(err)
	case ConnectionAccepted:
		s.log.Debug("ignoring repeated connection_accepted")
	}
}

func (s *Session) handleNewMessage(m NewMessage) {
	if m.CorrelationID != "" {
		if err := s.writeControl(Ack{CorrelationID: m.CorrelationID}); err != nil {
			s.log.Debug("ack write failed", "correlation_id", m.CorrelationID, "error", err)
		}
	}

	msg, receipts, ok := s.inbox.admit(m)
	if !ok {
		s.log.Debug("duplicate message dropped", "message_id", m.MessageID, "conversation_id", m.ConversationID)
		return
	}
	s.events.emitMessage(*msg)
	for _, r := range receipts {
		s.events.emitReceipt(r)
	}

	if s.cfg.AutoDeliveryReceipts && !msg.Outgoing {
		if _, err := s.outbox.submit(MessageDelivered{MessageID: m.MessageID}); err != nil {
			s.log.Debug("delivery receipt write failed", "message_id", m.MessageID, "error", err)
		}
	}
}

func (s *Session) handleMessageSent(m MessageSentAck) {
	msg, receipts, ok := s.inbox.recordSent(m)
	if !ok {
		s.log.Debug("duplicate send ack dropped", "message_id", m.MessageID)
		return
	}
	s.events.emitMessageSent(*msg)
	for _, r := range receipts {
		s.events.emitReceipt(r)
	}
}

func (s *Session) handleReceipt(r Receipt) {
	applied, ok := s.inbox.receipt(r)
	if !ok {
		s.log.Debug("receipt held for unknown message", "message_id", r.MessageID, "kind", r.Kind.String())
		return
	}
	s.events.emitReceipt(applied)
}

func (s *Session) handleTokenExpired(m TokenExpired) {
	if s.refresher == nil {
		s.terminate(&Error{Kind: KindAuthenticationExpired, Message: m.Message})
		return
	}
	if s.refreshing {
		return
	}
	s.refreshing = true
	epoch := s.epoch
	s.log.Info("credential expired, refreshing")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		defer cancel()
		token, err := s.refresher(ctx)
		s.post(func() { s.refreshed(epoch, token, err, m.Message) })
	}()
}

func (s *Session) refreshed(epoch uint64, token string, err error, reason string) {
	s.refreshing = false
	if err == nil && token == "" {
		err = errors.New("refresher returned an empty credential")
	}
	if err != nil {
		if epoch != s.epoch {
			// The connection that asked has been replaced; the new one
			// reports its own token_expired if the credential is stale.
			s.log.Warn("credential refresh failed for a replaced connection", "error", err)
			return
		}
		s.terminate(&Error{Kind: KindAuthenticationExpired, Message: reason, Err: err})
		return
	}
	s.token = token
	if epoch != s.epoch || s.state != StateConnected {
		return
	}
	if err := s.writeControl(RefreshToken{Token: token}); err != nil {
		s.log.Warn("refresh_token write failed", "error", err)
	}
}

// ── Writing ──────────────────────────────────────────────

func (s *Session) writeFrame(data []byte) error {
	if s.conn == nil || s.state != StateConnected {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, data); err != nil {
		epoch := s.epoch
		s.later(func() { s.transportLost(epoch, err) })
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *Session) writeControl(msg ClientMessage) error {
	data, err := EncodeClientMessage(msg, "")
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

func (s *Session) writeEnvelope(env *Envelope) error {
	data, err := EncodeClientMessage(env.Payload, env.CorrelationID)
	if err != nil {
		return err
	}
	return s.writeFrame(data)
}

func (s *Session) sendPing() {
	if err := s.writeControl(Ping{}); err != nil {
		s.log.Debug("ping write failed", "error", err)
	}
}

// ============================================================================
// Sending
// ============================================================================

// Submit hands msg to the delivery tracker and returns its handle. Control
// frames (Ping, Ack, RefreshToken) are not tracked; use Send for them.
func (s *Session) Submit(msg ClientMessage) (*Delivery, error) {
	if msg == nil {
		return nil, errors.New("chatsession: nil message")
	}
	if isControl(msg) {
		return nil, fmt.Errorf("chatsession: %s frames are not tracked", msg.FrameType())
	}
	var d *Delivery
	err := s.do(func() {
		s.trackOutgoingTyping(msg)
		env, werr := s.outbox.submit(msg)
		d = env.delivery
		if werr != nil {
			s.log.Debug("transmit failed, envelope will be retried", "correlation_id", env.CorrelationID, "error", werr)
		}
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Send delivers msg. Tracked messages that could not be put on the wire
// return OutcomeQueued at once; otherwise Send waits for the server ack or a
// final failure. Control frames are written directly and fail with
// ErrNotConnected while disconnected.
func (s *Session) Send(ctx context.Context, msg ClientMessage) (Outcome, error) {
	if msg != nil && isControl(msg) {
		var werr error
		if err := s.do(func() { werr = s.writeControl(msg) }); err != nil {
			return OutcomeFailed, err
		}
		if werr != nil {
			return OutcomeFailed, werr
		}
		return OutcomeDelivered, nil
	}

	d, err := s.Submit(msg)
	if err != nil {
		return OutcomeFailed, err
	}
	if d.Queued() {
		return OutcomeQueued, nil
	}
	return d.Wait(ctx)
}

// SendTyping sends a typing signal to recipientID. The local typing state
// towards that user expires like a received one.
func (s *Session) SendTyping(ctx context.Context, recipientID int64, isTyping bool) (Outcome, error) {
	return s.Send(ctx, Typing{RecipientID: recipientID, IsTyping: isTyping})
}

// trackOutgoingTyping records a typing payload as the local user's typing
// state towards its recipient.
func (s *Session) trackOutgoingTyping(msg ClientMessage) {
	var t Typing
	switch m := msg.(type) {
	case Typing:
		t = m
	case *Typing:
		if m == nil {
			return
		}
		t = *m
	default:
		return
	}
	if c, ok := s.presence.applyTyping(t.RecipientID, t.IsTyping, true); ok {
		s.events.emitTyping(c)
	}
}

// SendMessageRead marks a message as read.
func (s *Session) SendMessageRead(ctx context.Context, messageID int64) (Outcome, error) {
	return s.Send(ctx, MessageRead{MessageID: messageID})
}

// CheckPresence asks for the presence of userIDs. Answers arrive through
// OnPresence.
func (s *Session) CheckPresence(ctx context.Context, userIDs ...int64) (Outcome, error) {
	return s.Send(ctx, PresenceCheck{UserIDs: userIDs})
}

// ClearQueue fails every envelope still waiting for a connection and returns
// how many were dropped.
func (s *Session) ClearQueue() int {
	n := 0
	_ = s.do(func() { n = s.outbox.clear(ErrQueueCleared) })
	return n
}

// ============================================================================
// Reading state
// ============================================================================

// Conversation returns the live log of one conversation in presentation
// order.
func (s *Session) Conversation(conversationID int64) []Message {
	var out []Message
	_ = s.do(func() { out = s.inbox.conversation(conversationID) })
	return out
}

// Presence returns the last known presence of userID.
func (s *Session) Presence(userID int64) (PresenceEntry, bool) {
	var (
		e  PresenceEntry
		ok bool
	)
	_ = s.do(func() { e, ok = s.presence.lookup(userID) })
	return e, ok
}

// IsTyping reports whether userID is currently typing to this client.
func (s *Session) IsTyping(userID int64) bool {
	var typing bool
	_ = s.do(func() { typing = s.presence.isTyping(userID) })
	return typing
}

// Pending returns the unresolved envelopes in submission order.
func (s *Session) Pending() []Envelope {
	var out []Envelope
	_ = s.do(func() { out = s.outbox.snapshot() })
	return out
}

// QueueLen returns the number of envelopes waiting for a connection.
func (s *Session) QueueLen() int {
	n := 0
	_ = s.do(func() { n = s.outbox.queueLen() })
	return n
}

// ============================================================================
// Subscriptions
// ============================================================================

// OnMessage registers a handler for chat messages admitted to a conversation
// log. Duplicates are never delivered.
func (s *Session) OnMessage(h func(Message)) {
	s.events.mu.Lock()
	s.events.onMessage = append(s.events.onMessage, h)
	s.events.mu.Unlock()
}

// OnMessageSent registers a handler for acks of messages sent by this client.
func (s *Session) OnMessageSent(h func(Message)) {
	s.events.mu.Lock()
	s.events.onMessageSent = append(s.events.onMessageSent, h)
	s.events.mu.Unlock()
}

// OnReceipt registers a handler for delivery and read receipts.
func (s *Session) OnReceipt(h func(Receipt)) {
	s.events.mu.Lock()
	s.events.onReceipt = append(s.events.onReceipt, h)
	s.events.mu.Unlock()
}

// OnTyping registers a handler for typing changes, including inferred stops.
func (s *Session) OnTyping(h func(TypingChange)) {
	s.events.mu.Lock()
	s.events.onTyping = append(s.events.onTyping, h)
	s.events.mu.Unlock()
}

// OnPresence registers a handler for presence updates.
func (s *Session) OnPresence(h func(PresenceChange)) {
	s.events.mu.Lock()
	s.events.onPresence = append(s.events.onPresence, h)
	s.events.mu.Unlock()
}

// OnFrame registers a handler for every decoded server frame.
func (s *Session) OnFrame(h func(ServerMessage)) {
	s.events.mu.Lock()
	s.events.onFrame = append(s.events.onFrame, h)
	s.events.mu.Unlock()
}

// OnError registers a handler for surfaced errors: server and protocol
// errors, and the terminal ReconnectionExhausted and AuthenticationExpired.
func (s *Session) OnError(h func(error)) {
	s.events.mu.Lock()
	s.events.onError = append(s.events.onError, h)
	s.events.mu.Unlock()
}

// OnConnect registers a handler for accepted handshakes.
func (s *Session) OnConnect(h func()) {
	s.events.mu.Lock()
	s.events.onConnect = append(s.events.onConnect, h)
	s.events.mu.Unlock()
}

// OnDisconnect registers a handler called when a connected session loses
// its connection.
func (s *Session) OnDisconnect(h func(code int, reason string)) {
	s.events.mu.Lock()
	s.events.onDisconnect = append(s.events.onDisconnect, h)
	s.events.mu.Unlock()
}

// OnReconnecting registers a handler called when a reconnect is scheduled.
func (s *Session) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.events.mu.Lock()
	s.events.onReconnecting = append(s.events.onReconnecting, h)
	s.events.mu.Unlock()
}

// OnStateChange registers a handler for every connection state transition.
func (s *Session) OnStateChange(h func(StateChange)) {
	s.events.mu.Lock()
	s.events.onStateChange = append(s.events.onStateChange, h)
	s.events.mu.Unlock()
}
