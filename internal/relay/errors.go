package relay

import "errors"

var (
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotJoined     = errors.New("not joined")
	// ErrUnknownPeer is returned when a signal targets an id that is not a
	// member of the sender's room.
	ErrUnknownPeer = errors.New("unknown peer")
	ErrHubClosed   = errors.New("hub closed")
)
