package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPreservesArrivalOrder(t *testing.T) {
	l := NewLog()
	l.Append(Message{Sender: "bob", SenderID: "b", Body: "M1"})
	l.Append(Message{Sender: "me", SenderID: "a", Body: "M2", Local: true})
	l.Append(Message{Sender: "carol", SenderID: "c", Body: "M3"})

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	for i, want := range []string{"M1", "M2", "M3"} {
		assert.Equal(t, want, msgs[i].Body)
		assert.Equal(t, uint64(i+1), msgs[i].Seq)
	}
}

func TestLogUnreadCounter(t *testing.T) {
	l := NewLog()
	assert.Equal(t, 0, l.Unread(), "unread starts at zero")

	l.Append(Message{Sender: "bob", Body: "hi"})
	l.Append(Message{Sender: "carol", Body: "hey"})
	assert.Equal(t, 2, l.Unread())

	l.MarkRead()
	assert.Equal(t, 0, l.Unread())
}

func TestLogLocalMessagesAreNotUnread(t *testing.T) {
	l := NewLog()
	l.Append(Message{Sender: "me", Body: "hello", Local: true})
	assert.Equal(t, 0, l.Unread())
	assert.Equal(t, 1, l.Len())
}

func TestMessagesReturnsCopy(t *testing.T) {
	l := NewLog()
	l.Append(Message{Body: "original"})
	msgs := l.Messages()
	msgs[0].Body = "mutated"
	assert.Equal(t, "original", l.Messages()[0].Body)
}
