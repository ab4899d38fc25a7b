// Package chat holds the room's text side channel: an append-only log ordered
// by arrival on the signaling channel, with an unread counter.
package chat

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

type Message struct {
	Seq      uint64
	Sender   string
	SenderID signaling.ParticipantID
	Body     string
	// Local marks messages we sent (echoed back by the relay).
	Local      bool
	ReceivedAt time.Time
}

// Log is not safe for concurrent use; the session mutates it from its event
// loop.
type Log struct {
	messages []Message
	nextSeq  uint64
	unread   int
	now      func() time.Time
}

func NewLog() *Log {
	return &Log{nextSeq: 1, now: time.Now}
}

// Append assigns the next sequence number and stores m. Remote messages
// count as unread until MarkRead.
func (l *Log) Append(m Message) Message {
	m.Seq = l.nextSeq
	l.nextSeq++
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = l.now()
	}
	l.messages = append(l.messages, m)
	if !m.Local {
		l.unread++
	}
	return m
}

func (l *Log) MarkRead() { l.unread = 0 }

func (l *Log) Unread() int { return l.unread }

func (l *Log) Len() int { return len(l.messages) }

// Messages returns a copy of the log in arrival order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}
