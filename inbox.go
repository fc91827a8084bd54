package chatsession

import "time"

// Message is an entry of a conversation log.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	RecipientID    int64
	Content        string
	CreatedAt      time.Time
	// ReceivedAt is when the frame was admitted locally.
	ReceivedAt time.Time
	// Outgoing marks messages sent by this client (from message_sent acks).
	Outgoing bool

	DeliveredAt time.Time
	ReadAt      time.Time
	ReadBy      int64
}

// ReceiptKind distinguishes delivery and read receipts.
type ReceiptKind int

const (
	ReceiptDelivered ReceiptKind = iota + 1
	ReceiptRead
)

func (k ReceiptKind) String() string {
	switch k {
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "unknown"
	}
}

// Receipt is a delivery or read receipt matched to a logged message.
type Receipt struct {
	Kind           ReceiptKind
	MessageID      int64
	ConversationID int64
	ReadBy         int64
	At             time.Time
}

type conversationLog struct {
	messages []*Message
	seen     map[int64]struct{}
}

type heldReceipt struct {
	receipt Receipt
	timer   timerSlot
}

// inbox deduplicates inbound messages and keeps one append-only log per
// conversation. Append order is the presentation order.
type inbox struct {
	clk    clock
	window time.Duration
	self   int64

	logs  map[int64]*conversationLog
	byID  map[int64]*Message
	peers map[int64]int64
	held  map[int64][]*heldReceipt
}

func newInbox(clk clock, window time.Duration) *inbox {
	return &inbox{
		clk:    clk,
		window: window,
		logs:   make(map[int64]*conversationLog),
		byID:   make(map[int64]*Message),
		peers:  make(map[int64]int64),
		held:   make(map[int64][]*heldReceipt),
	}
}

func (in *inbox) log(conversationID int64) *conversationLog {
	l, ok := in.logs[conversationID]
	if !ok {
		l = &conversationLog{seen: make(map[int64]struct{})}
		in.logs[conversationID] = l
	}
	return l
}

// admit appends m to its conversation unless the id was already seen there.
// Receipts that arrived before the message are applied and returned.
func (in *inbox) admit(m NewMessage) (*Message, []Receipt, bool) {
	l := in.log(m.ConversationID)
	if _, dup := l.seen[m.MessageID]; dup {
		return nil, nil, false
	}
	msg := &Message{
		ID:             m.MessageID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReceivedAt:     in.clk.Now(),
		Outgoing:       in.self != 0 && m.SenderID == in.self,
	}
	in.append(l, msg)
	in.rememberPeer(m.SenderID, m.ConversationID)
	in.rememberPeer(m.RecipientID, m.ConversationID)
	return msg, in.release(msg), true
}

// recordSent handles the ack of a message this client sent. It is appended
// to the conversation with the recipient when that conversation is known.
// Acks for ids already logged are duplicates.
func (in *inbox) recordSent(ack MessageSentAck) (*Message, []Receipt, bool) {
	if _, dup := in.byID[ack.MessageID]; dup {
		return nil, nil, false
	}
	msg := &Message{
		ID:          ack.MessageID,
		SenderID:    in.self,
		RecipientID: ack.RecipientID,
		Content:     ack.Content,
		CreatedAt:   ack.CreatedAt,
		ReceivedAt:  in.clk.Now(),
		Outgoing:    true,
	}
	if cid, ok := in.peers[ack.RecipientID]; ok {
		msg.ConversationID = cid
		in.append(in.log(cid), msg)
	} else {
		in.byID[msg.ID] = msg
	}
	return msg, in.release(msg), true
}

// receipt applies r to its message. Receipts for unknown messages are held
// for the buffer window and dropped if the message never shows up.
func (in *inbox) receipt(r Receipt) (Receipt, bool) {
	if msg, ok := in.byID[r.MessageID]; ok {
		return apply(msg, r), true
	}
	h := &heldReceipt{receipt: r}
	in.held[r.MessageID] = append(in.held[r.MessageID], h)
	h.timer.arm(in.clk, in.window, func() { in.expire(r.MessageID, h) })
	return r, false
}

func (in *inbox) expire(messageID int64, h *heldReceipt) {
	list := in.held[messageID]
	for i, x := range list {
		if x == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(in.held, messageID)
	} else {
		in.held[messageID] = list
	}
}

func (in *inbox) release(msg *Message) []Receipt {
	list := in.held[msg.ID]
	if len(list) == 0 {
		return nil
	}
	delete(in.held, msg.ID)
	out := make([]Receipt, 0, len(list))
	for _, h := range list {
		h.timer.stop()
		out = append(out, apply(msg, h.receipt))
	}
	return out
}

func (in *inbox) append(l *conversationLog, msg *Message) {
	l.messages = append(l.messages, msg)
	l.seen[msg.ID] = struct{}{}
	in.byID[msg.ID] = msg
}

func (in *inbox) rememberPeer(userID, conversationID int64) {
	if userID != 0 && userID != in.self {
		in.peers[userID] = conversationID
	}
}

func apply(msg *Message, r Receipt) Receipt {
	r.ConversationID = msg.ConversationID
	switch r.Kind {
	case ReceiptDelivered:
		msg.DeliveredAt = r.At
	case ReceiptRead:
		msg.ReadAt = r.At
		msg.ReadBy = r.ReadBy
		if msg.DeliveredAt.IsZero() {
			msg.DeliveredAt = r.At
		}
	}
	return r
}

// conversation copies the log of one conversation.
func (in *inbox) conversation(conversationID int64) []Message {
	l, ok := in.logs[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = *m
	}
	return out
}

// stop cancels every buffered receipt timer.
func (in *inbox) stop() {
	for id, list := range in.held {
		for _, h := range list {
			h.timer.stop()
		}
		delete(in.held, id)
	}
}
