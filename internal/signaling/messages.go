package signaling

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	// client -> relay
	MessageTypeJoin MessageType = "join"
	// both directions
	MessageTypeSignal MessageType = "signal"
	MessageTypeChat   MessageType = "chat"
	// relay -> client
	MessageTypeJoined     MessageType = "joined"
	MessageTypePeerJoined MessageType = "peer-joined"
	MessageTypePeerLeft   MessageType = "peer-left"
	MessageTypeError      MessageType = "error"
)

// Error codes carried by relay error messages.
const (
	ErrorCodeRoomFull       = "room_full"
	ErrorCodeAlreadyJoined  = "already_joined"
	ErrorCodeNotJoined      = "not_joined"
	ErrorCodeUnknownPeer    = "unknown_peer"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeForbidden      = "forbidden"
)

// Message is the single JSON frame exchanged between a participant and the
// relay. Which fields are meaningful depends on Type; Validate enforces it.
type Message struct {
	Type MessageType `json:"type"`

	Room string `json:"room,omitempty"`
	Name string `json:"name,omitempty"`

	ID      ParticipantID   `json:"id,omitempty"`
	Members []ParticipantID `json:"members,omitempty"`

	To     ParticipantID `json:"to,omitempty"`
	From   ParticipantID `json:"from,omitempty"`
	Signal *Envelope     `json:"signal,omitempty"`

	Body     string        `json:"body,omitempty"`
	Sender   string        `json:"sender,omitempty"`
	SenderID ParticipantID `json:"senderId,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func JoinMessage(room, name string) Message {
	return Message{Type: MessageTypeJoin, Room: room, Name: name}
}

func SignalMessage(to ParticipantID, env Envelope) Message {
	return Message{Type: MessageTypeSignal, To: to, Signal: &env}
}

func ChatMessage(body, name string) Message {
	return Message{Type: MessageTypeChat, Body: body, Name: name}
}

func ErrorMessage(code, message string) Message {
	return Message{Type: MessageTypeError, Code: code, Message: message}
}

// ParseMessage decodes one frame. Unknown fields and trailing data are
// rejected, and the per-type field rules are checked.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := decodeStrict(data, &msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageTypeJoin:
		if m.Room == "" {
			return fmt.Errorf("join message missing room")
		}
	case MessageTypeSignal:
		if m.Signal == nil {
			return fmt.Errorf("signal message missing signal")
		}
		if m.To == "" && m.From == "" {
			return fmt.Errorf("signal message: %w", errMissingParticipant)
		}
		if err := m.Signal.Validate(); err != nil {
			return fmt.Errorf("signal message: %w", err)
		}
	case MessageTypeChat:
		if m.Body == "" {
			return fmt.Errorf("chat message missing body")
		}
	case MessageTypeJoined, MessageTypePeerLeft:
		if m.ID == "" {
			return fmt.Errorf("%s message: %w", m.Type, errMissingParticipant)
		}
	case MessageTypePeerJoined:
		if m.ID == "" {
			return fmt.Errorf("peer-joined message: %w", errMissingParticipant)
		}
	case MessageTypeError:
		if m.Code == "" {
			return fmt.Errorf("error message missing code")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
