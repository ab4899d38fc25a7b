package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
)

// Synchronizer applies local media changes to every peer. It is the only
// writer of the media state.
type Synchronizer struct {
	engine *Engine
	state  *media.State
	source media.Source
	sched  Scheduler
	log    *slog.Logger

	// acquiring holds the token of the in-flight acquisition per kind. A
	// result whose token no longer matches is stale.
	acquiring map[media.Kind]uint64
	lastToken uint64

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards tracks opened off the loop that the loop has not taken yet,
	// so ReleaseAll can stop them.
	mu       sync.Mutex
	released bool
	inflight map[media.Track]struct{}
}

func NewSynchronizer(engine *Engine, state *media.State, source media.Source, sched Scheduler, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		engine:    engine,
		state:     state,
		source:    source,
		sched:     sched,
		log:       logger,
		acquiring: make(map[media.Kind]uint64),
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[media.Track]struct{}),
	}
}

// Start performs the initial device acquisition.
func (s *Synchronizer) Start(video, audio bool) {
	s.SetAudio(audio)
	s.SetVideo(video)
}

func (s *Synchronizer) SetVideo(enabled bool)  { s.set(media.KindVideo, enabled) }
func (s *Synchronizer) SetAudio(enabled bool)  { s.set(media.KindAudio, enabled) }
func (s *Synchronizer) SetScreen(enabled bool) { s.set(media.KindScreen, enabled) }

func (s *Synchronizer) set(kind media.Kind, enabled bool) {
	if s.state.Enabled(kind) == enabled {
		return
	}
	s.state.SetEnabled(kind, enabled)
	if enabled {
		if s.state.Track(kind) == nil {
			s.acquire(kind)
		}
	} else {
		delete(s.acquiring, kind)
		s.state.Release(kind)
	}
	s.log.Info("local media changed", "kind", kind, "enabled", enabled)
	s.apply()
}

func (s *Synchronizer) acquire(kind media.Kind) {
	if _, pending := s.acquiring[kind]; pending {
		return
	}
	s.lastToken++
	token := s.lastToken
	s.acquiring[kind] = token
	ctx, source := s.ctx, s.source
	s.sched.Go(func() func() {
		track, err := source.Open(ctx, kind)
		if track != nil && !s.hold(track) {
			track.Stop()
			return nil
		}
		return func() { s.acquired(kind, token, track, err) }
	})
}

func (s *Synchronizer) hold(t media.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.inflight[t] = struct{}{}
	return true
}

func (s *Synchronizer) take(t media.Track) {
	s.mu.Lock()
	delete(s.inflight, t)
	s.mu.Unlock()
}

func (s *Synchronizer) acquired(kind media.Kind, token uint64, track media.Track, err error) {
	if track != nil {
		s.take(track)
	}
	if s.acquiring[kind] != token || !s.state.Enabled(kind) {
		if track != nil {
			track.Stop()
		}
		return
	}
	delete(s.acquiring, kind)

	if err != nil {
		if errors.Is(err, media.ErrDeviceUnavailable) {
			s.log.Warn("device unavailable; sending placeholder", "kind", kind, "err", err)
		} else {
			s.log.Error("device acquisition failed; sending placeholder", "kind", kind, "err", err)
		}
		s.state.SetUnavailable(kind)
		if kind == media.KindScreen {
			s.state.SetEnabled(media.KindScreen, false)
		}
		s.apply()
		return
	}

	s.state.Attach(kind, track)
	s.log.Info("device acquired", "kind", kind, "track_id", track.ID())
	s.apply()
}

// apply points every transport's senders at the current outgoing tracks and
// requests one coalesced renegotiation.
func (s *Synchronizer) apply() {
	for _, rec := range s.engine.pool.Records() {
		for _, slot := range media.Slots {
			if err := rec.transport.SetTrack(slot, s.state.Outgoing(slot)); err != nil {
				s.log.Warn("failed to replace track", "peer_id", rec.ID, "slot", slot, "err", err)
			}
		}
	}
	s.engine.requestRenegotiation()
}

// ReleaseAll stops every local track, including ones still being acquired.
func (s *Synchronizer) ReleaseAll() {
	s.cancel()
	s.mu.Lock()
	s.released = true
	for t := range s.inflight {
		t.Stop()
	}
	s.inflight = make(map[media.Track]struct{})
	s.mu.Unlock()

	for kind := range s.acquiring {
		delete(s.acquiring, kind)
	}
	s.state.ReleaseAll()
}
