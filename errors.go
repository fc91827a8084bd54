package chatsession

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindConnectionTimeout ErrorKind = iota + 1
	KindHeartbeatTimeout
	KindAckTimeout
	KindReconnectionExhausted
	KindAuthenticationExpired
	KindProtocolError
	KindServerError
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionTimeout:
		return "connection_timeout"
	case KindHeartbeatTimeout:
		return "heartbeat_timeout"
	case KindAckTimeout:
		return "ack_timeout"
	case KindReconnectionExhausted:
		return "reconnection_exhausted"
	case KindAuthenticationExpired:
		return "authentication_expired"
	case KindProtocolError:
		return "protocol_error"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is the error type surfaced by a Session.
type Error struct {
	Kind    ErrorKind
	Message string
	// Code is the server-supplied code of a ServerError, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAckTimeout)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Code == "" && t.Err == nil
}

var (
	ErrConnectionTimeout     = &Error{Kind: KindConnectionTimeout}
	ErrHeartbeatTimeout      = &Error{Kind: KindHeartbeatTimeout}
	ErrAckTimeout            = &Error{Kind: KindAckTimeout}
	ErrReconnectionExhausted = &Error{Kind: KindReconnectionExhausted}
	ErrAuthenticationExpired = &Error{Kind: KindAuthenticationExpired}
	ErrProtocol              = &Error{Kind: KindProtocolError}
	ErrServer                = &Error{Kind: KindServerError}
)

var (
	ErrNotConnected  = errors.New("chatsession: not connected")
	ErrSessionClosed = errors.New("chatsession: session closed")
	ErrQueueCleared  = errors.New("chatsession: outbound queue cleared")
	ErrDisconnected  = errors.New("chatsession: disconnected by client")
)

func protocolErrorf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProtocolError, Message: fmt.Sprintf(format, args...), Err: cause}
}

// IsTerminal reports whether err ends a session without further automatic
// reconnection.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrReconnectionExhausted) || errors.Is(err, ErrAuthenticationExpired)
}
