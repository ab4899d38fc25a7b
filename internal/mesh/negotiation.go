package mesh

import (
	"context"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

// step is an asynchronous negotiation operation. It runs off the loop and
// returns the transition to apply once it is resumed on the loop.
type step func(ctx context.Context) resume

type resume func(rec *PeerRecord)

// OnSignal applies an envelope from a peer. Envelopes for a record with an
// outstanding step are queued and applied in arrival order once it resumes.
func (e *Engine) OnSignal(from signaling.ParticipantID, env signaling.Envelope) {
	if err := env.Validate(); err != nil {
		e.log.Warn("dropping invalid signal", "peer_id", from, "err", err)
		return
	}
	rec, ok := e.pool.Lookup(from)
	if !ok {
		e.log.Debug("dropping signal from unknown peer", "peer_id", from, "kind", env.Kind())
		return
	}
	if rec.busy {
		rec.inbox = append(rec.inbox, env)
		return
	}
	e.apply(rec, env)
	e.advance(rec)
}

func (e *Engine) apply(rec *PeerRecord, env signaling.Envelope) {
	switch {
	case env.IsOffer():
		e.onRemoteOffer(rec, *env.SDP)
	case env.IsAnswer():
		e.onRemoteAnswer(rec, *env.SDP)
	case env.IsCandidate():
		e.onRemoteCandidate(rec, env.ICE)
	}
}

// suspend marks rec busy and runs op off the loop.
func (e *Engine) suspend(rec *PeerRecord, name string, op step) {
	rec.busy = true
	id, gen, ctx := rec.ID, rec.gen, e.ctx
	e.sched.Go(func() func() {
		next := op(ctx)
		return func() { e.resume(id, gen, name, next) }
	})
}

// resume applies the result of a step if its record is still the same live
// incarnation. Anything else is a late result and is dropped.
func (e *Engine) resume(id signaling.ParticipantID, gen uint64, name string, next resume) {
	rec, ok := e.pool.lookupGen(id, gen)
	if !ok {
		e.log.Debug("discarding late negotiation result", "peer_id", id, "step", name)
		return
	}
	rec.busy = false
	next(rec)
	e.advance(rec)
}

// advance drains queued signals, then starts a pending renegotiation once the
// record is stable and idle.
func (e *Engine) advance(rec *PeerRecord) {
	for !rec.busy && rec.state != StateClosed && len(rec.inbox) > 0 {
		env := rec.inbox[0]
		rec.inbox = rec.inbox[1:]
		e.apply(rec, env)
	}
	if !rec.busy && rec.state == StateStable && rec.needsOffer {
		e.startOffer(rec)
	}
}

func (e *Engine) failed(name string, err error) resume {
	return func(rec *PeerRecord) {
		e.fail(rec, fmt.Errorf("%w: %s: %v", ErrNegotiationFailed, name, err))
	}
}

func (e *Engine) startOffer(rec *PeerRecord) {
	rec.needsOffer = false
	t := rec.transport
	e.suspend(rec, "create offer", func(ctx context.Context) resume {
		if err := ctx.Err(); err != nil {
			return e.failed("create offer", err)
		}
		offer, err := t.CreateOffer(ctx)
		if err != nil {
			return e.failed("create offer", err)
		}
		return func(rec *PeerRecord) {
			// An offer that never left would leave the record waiting for
			// an answer that cannot arrive.
			if err := e.send(rec.ID, signaling.Envelope{SDP: &offer}); err != nil {
				e.fail(rec, fmt.Errorf("%w: send offer: %v", ErrNegotiationFailed, err))
				return
			}
			rec.pendingLocalOffer = &offer
			rec.state = StateOfferSent
			rec.offersSent++
			e.log.Debug("offer sent", "peer_id", rec.ID, "renegotiation", rec.established)
		}
	})
}

func (e *Engine) onRemoteOffer(rec *PeerRecord, offer signaling.SessionDescription) {
	switch rec.state {
	case StateNew, StateStable:
		e.answer(rec, offer, false)
	case StateOfferSent:
		switch strings.Compare(string(e.self), string(rec.ID)) {
		case -1:
			// Our offer wins; the peer rolls back and answers it.
			e.log.Info("glare: keeping local offer", "peer_id", rec.ID)
		case 1:
			e.log.Info("glare: yielding to remote offer", "peer_id", rec.ID)
			rec.state = StateGlare
			rec.pendingLocalOffer = nil
			if rec.established {
				// The discarded offer carried a local change.
				rec.needsOffer = true
			}
			e.answer(rec, offer, true)
		default:
			e.fail(rec, fmt.Errorf("%w: offer from %s collides with our own id", ErrGlareResolution, rec.ID))
		}
	default:
		e.log.Warn("dropping offer in unexpected state", "peer_id", rec.ID, "state", rec.state)
	}
}

func (e *Engine) answer(rec *PeerRecord, offer signaling.SessionDescription, rollback bool) {
	t := rec.transport
	e.suspend(rec, "answer", func(ctx context.Context) resume {
		if err := ctx.Err(); err != nil {
			return e.failed("answer", err)
		}
		if rollback {
			if err := t.Rollback(ctx); err != nil {
				return e.failed("rollback", err)
			}
		}
		if err := t.SetRemoteDescription(ctx, offer); err != nil {
			return e.failed("apply offer", err)
		}
		answer, err := t.CreateAnswer(ctx)
		if err != nil {
			return e.failed("create answer", err)
		}
		return func(rec *PeerRecord) {
			if err := e.send(rec.ID, signaling.Envelope{SDP: &answer}); err != nil {
				e.fail(rec, fmt.Errorf("%w: send answer: %v", ErrNegotiationFailed, err))
				return
			}
			rec.remoteDescription = true
			e.flushCandidates(rec)
			e.settle(rec)
		}
	})
}

func (e *Engine) onRemoteAnswer(rec *PeerRecord, answer signaling.SessionDescription) {
	if rec.state != StateOfferSent {
		e.log.Warn("dropping answer in unexpected state", "peer_id", rec.ID, "state", rec.state)
		return
	}
	t := rec.transport
	e.suspend(rec, "apply answer", func(ctx context.Context) resume {
		if err := ctx.Err(); err != nil {
			return e.failed("apply answer", err)
		}
		if err := t.SetRemoteDescription(ctx, answer); err != nil {
			return e.failed("apply answer", err)
		}
		return func(rec *PeerRecord) {
			rec.pendingLocalOffer = nil
			rec.remoteDescription = true
			e.flushCandidates(rec)
			e.settle(rec)
		}
	})
}

func (e *Engine) onRemoteCandidate(rec *PeerRecord, c signaling.Candidate) {
	if !rec.remoteDescription {
		rec.pendingCandidates = append(rec.pendingCandidates, c)
		return
	}
	if err := rec.transport.AddICECandidate(c); err != nil {
		e.log.Warn("failed to add remote candidate", "peer_id", rec.ID, "err", err)
	}
}

func (e *Engine) flushCandidates(rec *PeerRecord) {
	queued := rec.pendingCandidates
	rec.pendingCandidates = nil
	for _, c := range queued {
		if err := rec.transport.AddICECandidate(c); err != nil {
			e.log.Warn("failed to add queued remote candidate", "peer_id", rec.ID, "err", err)
		}
	}
}

func (e *Engine) settle(rec *PeerRecord) {
	rec.state = StateStable
	if !rec.established {
		e.log.Info("peer negotiated", "peer_id", rec.ID)
	}
	rec.established = true
}

// requestRenegotiation marks every record as needing a fresh offer and
// schedules one flush. Repeated requests before the flush runs collapse
// into it; records that are mid-exchange pick the flag up when they settle.
func (e *Engine) requestRenegotiation() {
	if e.pool.Len() == 0 {
		return
	}
	for _, rec := range e.pool.Records() {
		rec.needsOffer = true
	}
	if e.flushPending {
		return
	}
	e.flushPending = true
	e.sched.Post(e.flushRenegotiation)
}

func (e *Engine) flushRenegotiation() {
	e.flushPending = false
	for _, id := range e.pool.IDs() {
		rec, _ := e.pool.Lookup(id)
		if rec.needsOffer && !rec.busy && rec.state == StateStable {
			e.startOffer(rec)
		}
	}
}
