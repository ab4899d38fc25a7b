package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrDeviceUnavailable reports a missing device or a denied permission. It
// is never fatal: the kind degrades to its placeholder.
var ErrDeviceUnavailable = errors.New("media device unavailable")

type Kind string

const (
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindScreen Kind = "screen"
)

// Slots are the senders every transport carries, in a fixed order. Screen
// capture is sent on the video slot.
var Slots = []Kind{KindAudio, KindVideo}

// Slot returns the sender slot a track of kind k is sent on.
func (k Kind) Slot() Kind {
	if k == KindScreen {
		return KindVideo
	}
	return k
}

func (k Kind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindScreen:
		return true
	}
	return false
}

// Track is a local track handle.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the underlying device. It is idempotent.
	Stop()
}

// LocalTrack is a Track that can be attached to a pion sender.
type LocalTrack interface {
	Track
	TrackLocal() webrtc.TrackLocal
}

// StaticTrack is a sample-fed track. Samples written while the track is
// disabled are dropped, so a disabled track stays attached but silent.
type StaticTrack struct {
	kind  Kind
	local *webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

var _ LocalTrack = (*StaticTrack)(nil)

func codecFor(kind Kind) (webrtc.RTPCodecCapability, error) {
	switch kind {
	case KindAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case KindVideo, KindScreen:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	default:
		return webrtc.RTPCodecCapability{}, fmt.Errorf("unknown media kind %q", kind)
	}
}

func NewStaticTrack(kind Kind, streamID string) (*StaticTrack, error) {
	codec, err := codecFor(kind)
	if err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &StaticTrack{
		kind:    kind,
		local:   local,
		stopped: make(chan struct{}),
	}, nil
}

// NewPlaceholder returns a disabled track for the given sender slot. It is
// never fed, so receivers see a muted track.
func NewPlaceholder(slot Kind) (*StaticTrack, error) {
	return NewStaticTrack(slot.Slot(), "placeholder")
}

func (t *StaticTrack) ID() string                    { return t.local.ID() }
func (t *StaticTrack) Kind() Kind                    { return t.kind }
func (t *StaticTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *StaticTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *StaticTrack) TrackLocal() webrtc.TrackLocal { return t.local }

// Done is closed once Stop has been called.
func (t *StaticTrack) Done() <-chan struct{} { return t.stopped }

func (t *StaticTrack) Stop() {
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		close(t.stopped)
	})
}

func (t *StaticTrack) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}
