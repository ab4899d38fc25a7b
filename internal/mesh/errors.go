package mesh

import "errors"

var (
	// ErrNegotiationFailed tears down a single peer record. It never ends the
	// session.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrGlareResolution means the tie-break could not order two offers
	// (both sides claim the same id).
	ErrGlareResolution = errors.New("glare resolution failed")
	ErrPeerExists      = errors.New("peer record already exists")
	ErrSessionClosed   = errors.New("session closed")
)
