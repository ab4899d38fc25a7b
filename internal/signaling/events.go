package signaling

import "fmt"

// Event is one item of the incoming event sequence produced by a Channel.
type Event interface {
	eventName() string
}

// Joined acknowledges our join and carries the identity the relay assigned.
type Joined struct {
	Self ParticipantID
}

// PeerJoined announces a member. Members lists the full room membership and
// is only meaningful when ID is our own id.
type PeerJoined struct {
	ID      ParticipantID
	Members []ParticipantID
}

type PeerLeft struct {
	ID ParticipantID
}

type Signal struct {
	From     ParticipantID
	Envelope Envelope
}

type Chat struct {
	Body     string
	Sender   string
	SenderID ParticipantID
}

// RelayError is an error reported by the relay for one of our requests. The
// connection stays open.
type RelayError struct {
	Code    string
	Message string
}

// Disconnected reports that the underlying connection dropped. The channel is
// reconnecting; a fresh Joined follows on success.
type Disconnected struct {
	Err error
}

// Closed is the last event of a channel. Err is nil after a local Close.
type Closed struct {
	Err error
}

func (Joined) eventName() string       { return "joined" }
func (PeerJoined) eventName() string   { return "peer-joined" }
func (PeerLeft) eventName() string     { return "peer-left" }
func (Signal) eventName() string       { return "signal" }
func (Chat) eventName() string         { return "chat" }
func (RelayError) eventName() string   { return "error" }
func (Disconnected) eventName() string { return "disconnected" }
func (Closed) eventName() string       { return "closed" }

// EventName returns the protocol name of ev, for logging.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// EventFromMessage converts a relay->client frame into an Event.
func EventFromMessage(msg Message) (Event, error) {
	switch msg.Type {
	case MessageTypeJoined:
		return Joined{Self: msg.ID}, nil
	case MessageTypePeerJoined:
		members := append([]ParticipantID(nil), msg.Members...)
		return PeerJoined{ID: msg.ID, Members: members}, nil
	case MessageTypePeerLeft:
		return PeerLeft{ID: msg.ID}, nil
	case MessageTypeSignal:
		if msg.From == "" || msg.Signal == nil {
			return nil, fmt.Errorf("signal event: %w", errMissingParticipant)
		}
		return Signal{From: msg.From, Envelope: *msg.Signal}, nil
	case MessageTypeChat:
		return Chat{Body: msg.Body, Sender: msg.Sender, SenderID: msg.SenderID}, nil
	case MessageTypeError:
		return RelayError{Code: msg.Code, Message: msg.Message}, nil
	default:
		return nil, fmt.Errorf("unexpected %q message from relay", msg.Type)
	}
}
