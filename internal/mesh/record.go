package mesh

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

// State is the negotiation state of one peer record.
type State int

const (
	StateNew State = iota
	StateOfferSent
	StateStable
	// StateGlare: our offer lost the tie-break and is being replaced by an
	// answer to the peer's offer.
	StateGlare
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateStable:
		return "stable"
	case StateGlare:
		return "glare"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerRecord is the per-peer connection state owned by the Pool.
type PeerRecord struct {
	ID signaling.ParticipantID

	transport Transport
	// gen identifies this incarnation of ID. Results and callbacks carrying
	// another generation are stale.
	gen uint64

	state             State
	pendingLocalOffer *signaling.SessionDescription
	remoteTracks      []RemoteTrack

	// remoteDescription is set once any remote description has been applied;
	// candidates arriving before that are queued in pendingCandidates.
	remoteDescription bool
	pendingCandidates []signaling.Candidate

	// busy is set while an asynchronous step is outstanding; signals
	// arriving meanwhile wait in inbox.
	busy  bool
	inbox []signaling.Envelope

	needsOffer  bool
	established bool
	connected   bool

	offersSent int
}

func (r *PeerRecord) State() State { return r.state }

func (r *PeerRecord) PendingLocalOffer() *signaling.SessionDescription { return r.pendingLocalOffer }

func (r *PeerRecord) RemoteTracks() []RemoteTrack {
	out := make([]RemoteTrack, len(r.remoteTracks))
	copy(out, r.remoteTracks)
	return out
}

func (r *PeerRecord) addRemoteTrack(t RemoteTrack) bool {
	for _, existing := range r.remoteTracks {
		if existing.same(t) {
			return false
		}
	}
	r.remoteTracks = append(r.remoteTracks, t)
	return true
}
