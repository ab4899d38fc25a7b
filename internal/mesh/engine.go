package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

type EngineConfig struct {
	Transports TransportFactory
	Signaler   Signaler
	Media      *media.State
	Scheduler  Scheduler
	Logger     *slog.Logger
}

// Engine drives the Pool and the per-peer negotiation state machines. All
// methods must be called from the event loop.
type Engine struct {
	self signaling.ParticipantID
	pool *Pool

	transports TransportFactory
	signaler   Signaler
	media      *media.State
	sched      Scheduler
	log        *slog.Logger

	// ctx is handed to asynchronous steps. TeardownAll cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	flushPending bool
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		pool:       NewPool(),
		transports: cfg.Transports,
		signaler:   cfg.Signaler,
		media:      cfg.Media,
		sched:      cfg.Scheduler,
		log:        logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *Engine) Self() signaling.ParticipantID { return e.self }

// SetSelf records the identity assigned by the relay.
func (e *Engine) SetSelf(id signaling.ParticipantID) {
	e.self = id
}

func (e *Engine) Pool() *Pool { return e.pool }

// OnPeerJoined handles a peer-joined event. A join for an id that already has
// a record is ignored. A join for our own id is the self-join broadcast: we
// create a record for every listed member and offer to each, in ascending id
// order. A join for anyone else creates that peer's record and offers to it.
func (e *Engine) OnPeerJoined(id signaling.ParticipantID, members []signaling.ParticipantID) {
	if e.self == "" {
		e.log.Warn("peer-joined before joined; ignoring", "peer_id", id)
		return
	}

	if id == e.self {
		peers := make([]signaling.ParticipantID, 0, len(members))
		seen := make(map[signaling.ParticipantID]bool, len(members))
		for _, m := range members {
			if m == "" || m == e.self || seen[m] {
				continue
			}
			seen[m] = true
			peers = append(peers, m)
		}
		sortIDs(peers)
		for _, pid := range peers {
			rec, ok := e.pool.Lookup(pid)
			if !ok {
				if rec = e.createRecord(pid); rec == nil {
					continue
				}
			}
			if rec.state == StateNew && !rec.busy {
				e.startOffer(rec)
			}
		}
		return
	}

	if _, ok := e.pool.Lookup(id); ok {
		e.log.Debug("duplicate peer-joined ignored", "peer_id", id)
		return
	}
	if rec := e.createRecord(id); rec != nil {
		e.startOffer(rec)
	}
}

// OnPeerLeft tears down the peer's record. It is a no-op for unknown ids.
func (e *Engine) OnPeerLeft(id signaling.ParticipantID) {
	rec, ok := e.pool.Lookup(id)
	if !ok {
		return
	}
	e.log.Info("peer left", "peer_id", id)
	e.closeRecord(rec)
}

// TeardownAll closes every record and cancels all outstanding steps.
func (e *Engine) TeardownAll() {
	e.cancel()
	for _, rec := range e.pool.Records() {
		e.closeRecord(rec)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.flushPending = false
}

func (e *Engine) createRecord(id signaling.ParticipantID) *PeerRecord {
	gen := e.pool.nextGen()
	t, err := e.transports.NewTransport(id, e.transportEvents(id, gen))
	if err != nil {
		e.log.Warn("failed to create transport", "peer_id", id, "err", fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return nil
	}
	rec, err := e.pool.insert(id, gen, t)
	if err != nil {
		_ = t.Close()
		e.log.Error("failed to add peer record", "peer_id", id, "err", err)
		return nil
	}
	for _, slot := range media.Slots {
		if err := t.SetTrack(slot, e.media.Outgoing(slot)); err != nil {
			e.log.Warn("failed to attach local track", "peer_id", id, "slot", slot, "err", err)
		}
	}
	e.log.Info("peer record created", "peer_id", id)
	return rec
}

func (e *Engine) closeRecord(rec *PeerRecord) {
	rec.state = StateClosed
	rec.busy = false
	rec.inbox = nil
	rec.pendingCandidates = nil
	rec.pendingLocalOffer = nil
	e.pool.remove(rec)
	if err := rec.transport.Close(); err != nil {
		e.log.Debug("transport close failed", "peer_id", rec.ID, "err", err)
	}
}

func (e *Engine) fail(rec *PeerRecord, err error) {
	if errors.Is(err, ErrGlareResolution) {
		e.log.Error("peer connection closed", "peer_id", rec.ID, "state", rec.state, "err", err)
	} else {
		e.log.Warn("peer connection closed", "peer_id", rec.ID, "state", rec.state, "err", err)
	}
	e.closeRecord(rec)
}

func (e *Engine) send(to signaling.ParticipantID, env signaling.Envelope) error {
	if err := e.signaler.SendSignal(to, env); err != nil {
		e.log.Warn("failed to send signal", "peer_id", to, "kind", env.Kind(), "err", err)
		return err
	}
	return nil
}

// transportEvents binds transport callbacks to one record incarnation and
// routes them onto the loop.
func (e *Engine) transportEvents(id signaling.ParticipantID, gen uint64) TransportEvents {
	return TransportEvents{
		OnCandidate: func(c signaling.Candidate) {
			e.sched.Post(func() {
				if _, ok := e.pool.lookupGen(id, gen); ok {
					_ = e.send(id, signaling.CandidateEnvelope(c))
				}
			})
		},
		OnTrack: func(t RemoteTrack) {
			e.sched.Post(func() {
				if rec, ok := e.pool.lookupGen(id, gen); ok && rec.addRemoteTrack(t) {
					e.log.Info("remote track added", "peer_id", id, "kind", t.Kind, "stream_id", t.StreamID)
				}
			})
		},
		OnStateChange: func(s TransportState) {
			e.sched.Post(func() {
				rec, ok := e.pool.lookupGen(id, gen)
				if !ok {
					return
				}
				rec.connected = s == TransportConnected
				e.log.Debug("transport state changed", "peer_id", id, "transport_state", s)
				if s.Fatal() {
					e.fail(rec, fmt.Errorf("%w: transport %s", ErrNegotiationFailed, s))
				}
			})
		},
	}
}

// PeerView is the externally visible state of one peer.
type PeerView struct {
	ID        signaling.ParticipantID
	State     State
	Connected bool
	Tracks    []RemoteTrack
}

// Peers returns a view of every record in creation order.
func (e *Engine) Peers() []PeerView {
	recs := e.pool.Records()
	out := make([]PeerView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PeerView{
			ID:        rec.ID,
			State:     rec.state,
			Connected: rec.connected,
			Tracks:    rec.RemoteTracks(),
		})
	}
	return out
}
