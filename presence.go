package chatsession

import (
	"sort"
	"time"
)

// PresenceEntry is the last known presence of a user.
type PresenceEntry struct {
	Status     PresenceStatus
	ObservedAt time.Time
}

// PresenceChange is emitted for every user listed in a presence_status frame.
type PresenceChange struct {
	UserID     int64
	Status     PresenceStatus
	Previous   PresenceStatus
	ObservedAt time.Time
}

// TypingChange is emitted when a user starts or stops typing.
type TypingChange struct {
	UserID   int64
	IsTyping bool
	// Synthetic is set when the stop was inferred from expiry rather than
	// received.
	Synthetic bool
	// Outgoing is set for the local user's own typing towards UserID.
	Outgoing bool
	At       time.Time
}

type typingKey struct {
	userID   int64
	outgoing bool
}

type typingEntry struct {
	expiresAt time.Time
	timer     timerSlot
}

// presence keeps the ephemeral presence table and typing state. Nothing here
// survives a reconnect.
type presence struct {
	clk    clock
	expiry time.Duration
	notify func(TypingChange)

	table  map[int64]PresenceEntry
	typing map[typingKey]*typingEntry
}

func newPresence(clk clock, expiry time.Duration, notify func(TypingChange)) *presence {
	return &presence{
		clk:    clk,
		expiry: expiry,
		notify: notify,
		table:  make(map[int64]PresenceEntry),
		typing: make(map[typingKey]*typingEntry),
	}
}

// applyStatus replaces the entries named in the frame. The arrival time is
// the version: the latest frame wins.
func (p *presence) applyStatus(statuses map[int64]PresenceStatus) []PresenceChange {
	now := p.clk.Now()
	ids := make([]int64, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	changes := make([]PresenceChange, 0, len(ids))
	for _, id := range ids {
		prev := p.table[id]
		p.table[id] = PresenceEntry{Status: statuses[id], ObservedAt: now}
		changes = append(changes, PresenceChange{
			UserID:     id,
			Status:     statuses[id],
			Previous:   prev.Status,
			ObservedAt: now,
		})
	}
	return changes
}

// applyTyping records a typing signal. It returns the change to publish, or
// false when the signal only refreshed an existing state.
func (p *presence) applyTyping(userID int64, isTyping, outgoing bool) (TypingChange, bool) {
	key := typingKey{userID: userID, outgoing: outgoing}
	now := p.clk.Now()
	change := TypingChange{UserID: userID, IsTyping: isTyping, Outgoing: outgoing, At: now}
	e, exists := p.typing[key]

	if !isTyping {
		if !exists {
			return change, false
		}
		e.timer.stop()
		delete(p.typing, key)
		return change, true
	}

	if !exists {
		e = &typingEntry{}
		p.typing[key] = e
	}
	e.expiresAt = now.Add(p.expiry)
	e.timer.arm(p.clk, p.expiry, func() { p.expire(key, e) })
	return change, !exists
}

func (p *presence) expire(key typingKey, e *typingEntry) {
	if p.typing[key] != e {
		return
	}
	delete(p.typing, key)
	p.notify(TypingChange{
		UserID:    key.userID,
		IsTyping:  false,
		Synthetic: true,
		Outgoing:  key.outgoing,
		At:        p.clk.Now(),
	})
}

func (p *presence) lookup(userID int64) (PresenceEntry, bool) {
	e, ok := p.table[userID]
	return e, ok
}

func (p *presence) isTyping(userID int64) bool {
	e, ok := p.typing[typingKey{userID: userID}]
	return ok && p.clk.Now().Before(e.expiresAt)
}

// stop cancels the typing timers without notifying.
func (p *presence) stop() {
	for k, e := range p.typing {
		e.timer.stop()
		delete(p.typing, k)
	}
}

// reset drops all state. Users still shown as typing get a synthetic stop.
func (p *presence) reset() {
	p.table = make(map[int64]PresenceEntry)
	keys := make([]typingKey, 0, len(p.typing))
	for k, e := range p.typing {
		e.timer.stop()
		keys = append(keys, k)
	}
	p.typing = make(map[typingKey]*typingEntry)
	sort.Slice(keys, func(i, j int) bool { return keys[i].userID < keys[j].userID })
	now := p.clk.Now()
	for _, k := range keys {
		p.notify(TypingChange{UserID: k.userID, Synthetic: true, Outgoing: k.outgoing, At: now})
	}
}
