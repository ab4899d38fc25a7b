package media

import "context"

// Source supplies device tracks. Open blocks until the device is acquired or
// fails; it returns an error wrapping ErrDeviceUnavailable when the device is
// missing or permission was denied.
type Source interface {
	Open(ctx context.Context, kind Kind) (Track, error)
}

// State is the LocalMediaState of a session: what the user wants to send and
// which device tracks are currently held. It is not safe for concurrent use;
// the owning session mutates it from its event loop only.
type State struct {
	enabled      map[Kind]bool
	tracks       map[Kind]Track
	placeholders map[Kind]Track
	unavailable  map[Kind]bool
}

// NewState returns a state with every kind disabled. audio and video are the
// placeholders sent on the corresponding slots.
func NewState(audio, video Track) *State {
	return &State{
		enabled: make(map[Kind]bool),
		tracks:  make(map[Kind]Track),
		placeholders: map[Kind]Track{
			KindAudio: audio,
			KindVideo: video,
		},
		unavailable: make(map[Kind]bool),
	}
}

func (s *State) Enabled(kind Kind) bool { return s.enabled[kind] }

func (s *State) SetEnabled(kind Kind, enabled bool) { s.enabled[kind] = enabled }

// Track returns the device track held for kind, or nil.
func (s *State) Track(kind Kind) Track { return s.tracks[kind] }

// Attach stores a freshly acquired device track for kind and marks the kind
// available. A previously held track is stopped.
func (s *State) Attach(kind Kind, t Track) {
	if prev := s.tracks[kind]; prev != nil && prev != t {
		prev.Stop()
	}
	t.SetEnabled(true)
	s.tracks[kind] = t
	delete(s.unavailable, kind)
}

// Release stops and forgets the device track for kind.
func (s *State) Release(kind Kind) {
	if t := s.tracks[kind]; t != nil {
		t.Stop()
		delete(s.tracks, kind)
	}
}

func (s *State) SetUnavailable(kind Kind) { s.unavailable[kind] = true }

func (s *State) Available(kind Kind) bool { return !s.unavailable[kind] }

func (s *State) Placeholder(slot Kind) Track { return s.placeholders[slot] }

// Outgoing returns the track to send on slot: the screen capture takes the
// video slot while sharing, then the enabled device track, and the slot's
// placeholder otherwise.
func (s *State) Outgoing(slot Kind) Track {
	if slot == KindVideo && s.enabled[KindScreen] {
		if t := s.tracks[KindScreen]; t != nil {
			return t
		}
	}
	if s.enabled[slot] {
		if t := s.tracks[slot]; t != nil {
			return t
		}
	}
	return s.placeholders[slot]
}

// Sending reports whether slot currently carries a live device track.
func (s *State) Sending(slot Kind) bool {
	return s.Outgoing(slot) != s.placeholders[slot]
}

// ReleaseAll stops every device track and placeholder.
func (s *State) ReleaseAll() {
	for kind := range s.tracks {
		s.Release(kind)
	}
	for _, p := range s.placeholders {
		if p != nil {
			p.Stop()
		}
	}
}

// Snapshot is a read-only copy of the state for observers.
type Snapshot struct {
	Video  bool `json:"video"`
	Audio  bool `json:"audio"`
	Screen bool `json:"screen"`

	VideoAvailable bool `json:"videoAvailable"`
	AudioAvailable bool `json:"audioAvailable"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Video:          s.enabled[KindVideo],
		Audio:          s.enabled[KindAudio],
		Screen:         s.enabled[KindScreen],
		VideoAvailable: s.Available(KindVideo),
		AudioAvailable: s.Available(KindAudio),
	}
}
