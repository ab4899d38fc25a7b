package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type fakeTrack struct {
	id      string
	kind    Kind
	enabled bool
	stops   int
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() Kind              { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled = enabled }
func (t *fakeTrack) Stop()                   { t.stops++; t.enabled = false }

func newTestState() (*State, *fakeTrack, *fakeTrack) {
	audio := &fakeTrack{id: "audio-placeholder", kind: KindAudio}
	video := &fakeTrack{id: "video-placeholder", kind: KindVideo}
	return NewState(audio, video), audio, video
}

func TestKindSlot(t *testing.T) {
	assert.Equal(t, KindAudio, KindAudio.Slot())
	assert.Equal(t, KindVideo, KindVideo.Slot())
	assert.Equal(t, KindVideo, KindScreen.Slot())
	assert.False(t, Kind("hologram").Valid())
}

func TestStateOutgoingFallsBackToPlaceholder(t *testing.T) {
	s, audioPH, videoPH := newTestState()

	assert.Same(t, audioPH, s.Outgoing(KindAudio))
	assert.Same(t, videoPH, s.Outgoing(KindVideo))

	cam := &fakeTrack{id: "cam", kind: KindVideo}
	s.Attach(KindVideo, cam)
	// Attached but not enabled by the user.
	assert.Same(t, videoPH, s.Outgoing(KindVideo))

	s.SetEnabled(KindVideo, true)
	assert.Same(t, cam, s.Outgoing(KindVideo))
	assert.True(t, s.Sending(KindVideo))
	assert.True(t, cam.Enabled())
}

func TestStateScreenTakesVideoSlot(t *testing.T) {
	s, _, videoPH := newTestState()
	cam := &fakeTrack{id: "cam", kind: KindVideo}
	screen := &fakeTrack{id: "screen", kind: KindScreen}

	s.SetEnabled(KindVideo, true)
	s.Attach(KindVideo, cam)
	s.SetEnabled(KindScreen, true)
	s.Attach(KindScreen, screen)
	assert.Same(t, screen, s.Outgoing(KindVideo))

	// Stopping the share reverts to the camera.
	s.SetEnabled(KindScreen, false)
	s.Release(KindScreen)
	assert.Same(t, cam, s.Outgoing(KindVideo))
	assert.Equal(t, 1, screen.stops)

	// With the camera off it reverts to the placeholder.
	s.SetEnabled(KindScreen, true)
	s.Attach(KindScreen, screen)
	s.SetEnabled(KindVideo, false)
	s.Release(KindVideo)
	s.SetEnabled(KindScreen, false)
	s.Release(KindScreen)
	assert.Same(t, videoPH, s.Outgoing(KindVideo))
}

func TestStateAvailability(t *testing.T) {
	s, _, _ := newTestState()
	assert.True(t, s.Available(KindVideo))

	s.SetUnavailable(KindVideo)
	assert.False(t, s.Available(KindVideo))
	assert.False(t, s.Snapshot().VideoAvailable)

	s.Attach(KindVideo, &fakeTrack{id: "cam", kind: KindVideo})
	assert.True(t, s.Available(KindVideo))
}

func TestStateReleaseAllStopsEverything(t *testing.T) {
	s, audioPH, videoPH := newTestState()
	mic := &fakeTrack{id: "mic", kind: KindAudio}
	s.Attach(KindAudio, mic)

	s.ReleaseAll()
	assert.Equal(t, 1, mic.stops)
	assert.Equal(t, 1, audioPH.stops)
	assert.Equal(t, 1, videoPH.stops)
	assert.Nil(t, s.Track(KindAudio))
}

func TestPlaceholderIsDisabled(t *testing.T) {
	for _, slot := range Slots {
		ph, err := NewPlaceholder(slot)
		require.NoError(t, err)
		assert.Equal(t, slot, ph.Kind())
		assert.False(t, ph.Enabled())
		// Writes to a disabled track are dropped, not errors.
		require.NoError(t, ph.WriteSample(pionmedia.Sample{Data: []byte{0}, Duration: time.Millisecond}))
	}

	screenPH, err := NewPlaceholder(KindScreen)
	require.NoError(t, err)
	assert.Equal(t, KindVideo, screenPH.Kind())
}

func TestStaticTrackStopIsIdempotent(t *testing.T) {
	tr, err := NewStaticTrack(KindVideo, "local")
	require.NoError(t, err)
	tr.SetEnabled(true)

	tr.Stop()
	tr.Stop()

	select {
	case <-tr.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
	assert.False(t, tr.Enabled())
}

func TestFileSourceUnavailable(t *testing.T) {
	src := FileSource{VideoFile: filepath.Join(t.TempDir(), "missing.ivf")}

	_, err := src.Open(context.Background(), KindAudio)
	require.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = src.Open(context.Background(), KindVideo)
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}
