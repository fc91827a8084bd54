package chatsession

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Frame types
// ============================================================================

// Client frame types.
const (
	TypePing             = "ping"
	TypeAck              = "ack"
	TypeTyping           = "typing"
	TypeMessageDelivered = "message_delivered"
	TypeMessageRead      = "message_read"
	TypePresenceCheck    = "presence_check"
	TypeRefreshToken     = "refresh_token"
	TypeSendMessage      = "send_message"
)

// Server frame types. Some names are shared with client frames; direction
// disambiguates them.
const (
	TypeConnectionAccepted = "connection_accepted"
	TypePong               = "pong"
	TypeNewMessage         = "new_message"
	TypeMessageSent        = "message_sent"
	TypeReadReceipt        = "message_read"
	TypeTypingIndicator    = "typing"
	TypePresenceStatus     = "presence_status"
	TypeDeliveryReceipt    = "message_delivered"
	TypeServerAck          = "ack"
	TypeTokenExpired       = "token_expired"
	TypeError              = "error"
)

// ============================================================================
// Client messages
// ============================================================================

// ClientMessage is a client-to-server frame.
type ClientMessage interface {
	FrameType() string
	clientMessage()
}

// Ping is a liveness check. It is never tracked or queued.
type Ping struct{}

// Ack acknowledges a server frame that carried a correlation id.
type Ack struct {
	CorrelationID string `json:"correlationId"`
}

// Typing tells RecipientID that the local user started or stopped typing.
type Typing struct {
	RecipientID int64 `json:"recipientId"`
	IsTyping    bool  `json:"isTyping"`
}

// MessageDelivered reports that an inbound message reached this client.
type MessageDelivered struct {
	MessageID int64 `json:"messageId"`
}

// MessageRead reports that the local user read a message.
type MessageRead struct {
	MessageID int64 `json:"messageId"`
}

// PresenceCheck asks the server for the presence of the listed users.
type PresenceCheck struct {
	UserIDs []int64 `json:"userIds"`
}

// RefreshToken hands a rotated credential to the server without reconnecting.
type RefreshToken struct {
	Token string `json:"token"`
}

// SendChat sends a chat message to RecipientID.
type SendChat struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
}

func (Ping) FrameType() string             { return TypePing }
func (Ack) FrameType() string              { return TypeAck }
func (Typing) FrameType() string           { return TypeTyping }
func (MessageDelivered) FrameType() string { return TypeMessageDelivered }
func (MessageRead) FrameType() string      { return TypeMessageRead }
func (PresenceCheck) FrameType() string    { return TypePresenceCheck }
func (RefreshToken) FrameType() string     { return TypeRefreshToken }
func (SendChat) FrameType() string         { return TypeSendMessage }

func (Ping) clientMessage()             {}
func (Ack) clientMessage()              {}
func (Typing) clientMessage()           {}
func (MessageDelivered) clientMessage() {}
func (MessageRead) clientMessage()      {}
func (PresenceCheck) clientMessage()    {}
func (RefreshToken) clientMessage()     {}
func (SendChat) clientMessage()         {}

// isControl reports whether msg bypasses the delivery tracker.
func isControl(msg ClientMessage) bool {
	switch msg.(type) {
	case Ping, *Ping, Ack, *Ack, RefreshToken, *RefreshToken:
		return true
	}
	return false
}

// ============================================================================
// Server messages
// ============================================================================

// ServerMessage is a server-to-client frame.
type ServerMessage interface {
	FrameType() string
	serverMessage()
}

// PresenceStatus is the online state of a user.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type ConnectionAccepted struct {
	UserID int64 `json:"userId"`
}

type Pong struct{}

// NewMessage is an inbound chat message. CorrelationID is set when the
// server expects an Ack for it.
type NewMessage struct {
	MessageID      int64     `json:"messageId"`
	SenderID       int64     `json:"senderId"`
	RecipientID    int64     `json:"recipientId"`
	Content        string    `json:"content"`
	ConversationID int64     `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	CorrelationID  string    `json:"correlationId,omitempty"`
}

// MessageSentAck confirms a chat message sent by this client.
type MessageSentAck struct {
	MessageID   int64     `json:"messageId"`
	RecipientID int64     `json:"recipientId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

type MessageReadReceipt struct {
	MessageID int64     `json:"messageId"`
	ReadBy    int64     `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type TypingIndicator struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

type PresenceStatusFrame struct {
	Statuses map[int64]PresenceStatus `json:"statuses"`
}

type DeliveryReceipt struct {
	MessageID   int64     `json:"messageId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type ServerAck struct {
	CorrelationID string `json:"correlationId"`
}

type TokenExpired struct {
	Message string `json:"message"`
}

// ErrorFrame is an explicit server error. It never closes the session.
type ErrorFrame struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ConnectionAccepted) FrameType() string  { return TypeConnectionAccepted }
func (Pong) FrameType() string                { return TypePong }
func (NewMessage) FrameType() string          { return TypeNewMessage }
func (MessageSentAck) FrameType() string      { return TypeMessageSent }
func (MessageReadReceipt) FrameType() string  { return TypeReadReceipt }
func (TypingIndicator) FrameType() string     { return TypeTypingIndicator }
func (PresenceStatusFrame) FrameType() string { return TypePresenceStatus }
func (DeliveryReceipt) FrameType() string     { return TypeDeliveryReceipt }
func (ServerAck) FrameType() string           { return TypeServerAck }
func (TokenExpired) FrameType() string        { return TypeTokenExpired }
func (ErrorFrame) FrameType() string          { return TypeError }

func (ConnectionAccepted) serverMessage()  {}
func (Pong) serverMessage()                {}
func (NewMessage) serverMessage()          {}
func (MessageSentAck) serverMessage()      {}
func (MessageReadReceipt) serverMessage()  {}
func (TypingIndicator) serverMessage()     {}
func (PresenceStatusFrame) serverMessage() {}
func (DeliveryReceipt) serverMessage()     {}
func (ServerAck) serverMessage()           {}
func (TokenExpired) serverMessage()        {}
func (ErrorFrame) serverMessage()          {}

// ============================================================================
// Codec
// ============================================================================

type frameHeader struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// EncodeClientMessage renders msg as a flat JSON frame. A non-empty
// correlationID is added as the correlationId field.
func EncodeClientMessage(msg ClientMessage, correlationID string) ([]byte, error) {
	return encodeFrame(msg, correlationID)
}

// EncodeServerMessage renders a server frame. Backends and tests use it.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	return encodeFrame(msg, "")
}

func encodeFrame(msg interface{ FrameType() string }, correlationID string) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode frame: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.FrameType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.FrameType(), err)
	}
	fields["type"], _ = json.Marshal(msg.FrameType())
	if correlationID != "" {
		fields["correlationId"], _ = json.Marshal(correlationID)
	}
	return json.Marshal(fields)
}

// DecodeServerMessage parses one server frame. Malformed or unknown frames
// yield a ProtocolError.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, protocolErrorf(err, "malformed frame")
	}

	var msg ServerMessage
	switch hdr.Type {
	case "":
		return nil, protocolErrorf(nil, "frame has no type")
	case TypeConnectionAccepted:
		msg = &ConnectionAccepted{}
	case TypePong:
		return Pong{}, nil
	case TypeNewMessage:
		msg = &NewMessage{}
	case TypeMessageSent:
		msg = &MessageSentAck{}
	case TypeReadReceipt:
		msg = &MessageReadReceipt{}
	case TypeTypingIndicator:
		msg = &TypingIndicator{}
	case TypePresenceStatus:
		msg = &PresenceStatusFrame{}
	case TypeDeliveryReceipt:
		msg = &DeliveryReceipt{}
	case TypeServerAck:
		msg = &ServerAck{}
	case TypeTokenExpired:
		msg = &TokenExpired{}
	case TypeError:
		msg = &ErrorFrame{}
	default:
		return nil, protocolErrorf(nil, "unknown frame type %q", hdr.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, protocolErrorf(err, "malformed %s frame", hdr.Type)
	}
	return deref(msg).(ServerMessage), nil
}

// DecodeClientFrame parses one client frame and returns it with its
// correlation id (empty for control frames).
func DecodeClientFrame(data []byte) (ClientMessage, string, error) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, "", protocolErrorf(err, "malformed frame")
	}

	var msg ClientMessage
	switch hdr.Type {
	case TypePing:
		return Ping{}, hdr.CorrelationID, nil
	case TypeAck:
		msg = &Ack{}
	case TypeTyping:
		msg = &Typing{}
	case TypeMessageDelivered:
		msg = &MessageDelivered{}
	case TypeMessageRead:
		msg = &MessageRead{}
	case TypePresenceCheck:
		msg = &PresenceCheck{}
	case TypeRefreshToken:
		msg = &RefreshToken{}
	case TypeSendMessage:
		msg = &SendChat{}
	default:
		return nil, "", protocolErrorf(nil, "unknown frame type %q", hdr.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, "", protocolErrorf(err, "malformed %s frame", hdr.Type)
	}

	// Ack keeps its own correlationId field, which is the acked id.
	if hdr.Type == TypeAck {
		return *(msg.(*Ack)), "", nil
	}
	return deref(msg).(ClientMessage), hdr.CorrelationID, nil
}

// deref turns the decode target pointer back into the value type handlers
// switch on.
func deref(msg interface{ FrameType() string }) interface{ FrameType() string } {
	switch m := msg.(type) {
	case *ConnectionAccepted:
		return *m
	case *NewMessage:
		return *m
	case *MessageSentAck:
		return *m
	case *MessageReadReceipt:
		return *m
	case *TypingIndicator:
		return *m
	case *PresenceStatusFrame:
		return *m
	case *DeliveryReceipt:
		return *m
	case *ServerAck:
		return *m
	case *TokenExpired:
		return *m
	case *ErrorFrame:
		return *m
	case *Typing:
		return *m
	case *MessageDelivered:
		return *m
	case *MessageRead:
		return *m
	case *PresenceCheck:
		return *m
	case *RefreshToken:
		return *m
	case *SendChat:
		return *m
	}
	return msg
}
