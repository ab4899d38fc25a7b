package mesh

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fatal reports whether the state ends the connection.
func (s TransportState) Fatal() bool {
	return s == TransportFailed || s == TransportClosed
}

// RemoteTrack is a track received from a peer.
type RemoteTrack struct {
	Kind     media.Kind
	StreamID string
	TrackID  string
	// Handle is the transport's own track object (*webrtc.TrackRemote for the
	// pion transport).
	Handle any
}

func (t RemoteTrack) same(o RemoteTrack) bool {
	return t.Kind == o.Kind && t.StreamID == o.StreamID && t.TrackID == o.TrackID
}

// TransportEvents are the callbacks a transport reports through. They may be
// invoked from any goroutine.
type TransportEvents struct {
	OnCandidate   func(signaling.Candidate)
	OnTrack       func(RemoteTrack)
	OnStateChange func(TransportState)
}

// Transport is the media connection to one peer. Every transport carries one
// sender per media slot for its whole life; SetTrack swaps what a sender
// carries without adding or removing senders.
type Transport interface {
	// CreateOffer returns a local offer reflecting the current senders.
	CreateOffer(ctx context.Context) (signaling.SessionDescription, error)
	// CreateAnswer returns a local answer to the applied remote offer.
	CreateAnswer(ctx context.Context) (signaling.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc signaling.SessionDescription) error
	// Rollback discards the outstanding local offer.
	Rollback(ctx context.Context) error
	AddICECandidate(c signaling.Candidate) error
	SetTrack(slot media.Kind, track media.Track) error
	Close() error
}

type TransportFactory interface {
	NewTransport(peer signaling.ParticipantID, events TransportEvents) (Transport, error)
}

// Signaler sends envelopes to peers through the relay.
type Signaler interface {
	SendSignal(to signaling.ParticipantID, env signaling.Envelope) error
}
