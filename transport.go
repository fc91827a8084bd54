package chatsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"
	"nhooyr.io/websocket"
)

// Close codes used by the session.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

// Conn is one physical transport connection. Only the session touches it:
// one goroutine reads, the session loop writes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Close performs the closing handshake and may block until the peer
	// answers or a timeout passes.
	Close(code int, reason string) error
	// CloseNow drops the connection without a handshake.
	CloseNow() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// HandshakeError is returned by a Dialer when the server answered the
// upgrade request with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake: HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Unauthorized reports whether the server rejected the credential.
func (e *HandshakeError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// CloseError reports a close frame received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// closeDetails extracts the close code and reason reported to
// OnDisconnect handlers.
func closeDetails(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err == nil {
		return CloseAbnormal, ""
	}
	return CloseAbnormal, err.Error()
}

// ============================================================================
// nhooyr.io/websocket
// ============================================================================

// WebSocketDialer is the default Dialer, built on nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &nhooyrConn{conn: conn}, nil
}

type nhooyrConn struct {
	conn *websocket.Conn
}

func (c *nhooyrConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (c *nhooyrConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *nhooyrConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *nhooyrConn) CloseNow() error {
	return c.conn.CloseNow()
}

// ============================================================================
// gorilla/websocket
// ============================================================================

// GorillaDialer is an alternative Dialer built on gorilla/websocket.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (d *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := &gorilla.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && errors.Is(err, gorilla.ErrBadHandshake) {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *gorilla.Conn
}

// Read ignores ctx; the session unblocks it by closing the connection.
func (c *gorillaConn) Read(_ context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *gorilla.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (c *gorillaConn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

func (c *gorillaConn) Close(code int, reason string) error {
	msg := gorilla.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *gorillaConn) CloseNow() error {
	return c.conn.Close()
}
