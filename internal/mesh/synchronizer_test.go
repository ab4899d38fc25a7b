package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

func answerLastOffer(t *testing.T, sched *manualScheduler, p *testPeer, peer signaling.ParticipantID) {
	t.Helper()
	offers := p.sig.offersTo(peer)
	require.NotEmpty(t, offers)
	p.engine.OnSignal(peer, signaling.AnswerEnvelope("answer to "+offers[len(offers)-1].Content))
	sched.RunAll()
}

func TestStartAcquiresRequestedDevices(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)

	p.sync.Start(true, false)
	sched.RunAll()

	assert.Equal(t, media.Snapshot{Video: true, VideoAvailable: true, AudioAvailable: true}, p.media.Snapshot())
	require.Len(t, p.source.Opened(), 1)
	assert.Same(t, p.source.Opened()[0], p.media.Outgoing(media.KindVideo))
	assert.Equal(t, "audio-placeholder", p.media.Outgoing(media.KindAudio).ID())
}

func TestNewPeerGetsCurrentTracks(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.sync.Start(true, true)
	sched.RunAll()

	p.engine.OnPeerJoined("b", nil)
	sched.RunAll()

	tr := p.factory.last("b")
	assert.Equal(t, "audio-1", tr.Track(media.KindAudio).ID())
	assert.Equal(t, "video-2", tr.Track(media.KindVideo).ID())
}

func TestRapidToggleCoalescesIntoOneOffer(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.sync.Start(true, false)
	sched.RunAll()
	establish(t, sched, p, "b")
	cam := p.source.Opened()[0]
	before := len(p.sig.offersTo("b"))

	p.sync.SetVideo(false)
	p.sync.SetVideo(true)
	p.sync.SetVideo(false)
	sched.RunAll()

	offers := p.sig.offersTo("b")
	require.Len(t, offers, before+1)
	assert.Contains(t, offers[len(offers)-1].Content, "video=video-placeholder")
	assert.Equal(t, "video-placeholder", p.factory.last("b").Track(media.KindVideo).ID())

	// The camera is released, and the acquisition started by the brief
	// "on" is stopped as soon as it completes.
	assert.Equal(t, 1, cam.Stops())
	opened := p.source.Opened()
	require.Len(t, opened, 2)
	assert.Equal(t, 1, opened[1].Stops())
	assert.Nil(t, p.media.Track(media.KindVideo))

	answerLastOffer(t, sched, p, "b")
	assert.Len(t, p.sig.offersTo("b"), before+1)
}

func TestRapidToggleWhileRenegotiationInFlight(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.sync.Start(true, false)
	sched.RunAll()
	establish(t, sched, p, "b")
	before := len(p.sig.offersTo("b"))

	p.sync.SetAudio(true)
	sched.RunAll()
	// The audio renegotiation is awaiting its answer.
	rec, _ := p.engine.Pool().Lookup("b")
	require.Equal(t, StateOfferSent, rec.State())

	p.sync.SetVideo(false)
	p.sync.SetVideo(true)
	p.sync.SetVideo(false)
	sched.RunAll()
	assert.Len(t, p.sig.offersTo("b"), before+1, "no offer while one is outstanding")

	answerLastOffer(t, sched, p, "b")
	offers := p.sig.offersTo("b")
	require.LessOrEqual(t, len(offers), before+3)
	last := offers[len(offers)-1].Content
	assert.Contains(t, last, "video=video-placeholder")
	assert.Contains(t, last, "audio=audio-")
	assert.NotContains(t, last, "audio=audio-placeholder")

	answerLastOffer(t, sched, p, "b")
	assert.Len(t, p.sig.offersTo("b"), len(offers))
	assert.Equal(t, StateStable, rec.State())
}

func TestUnavailableDeviceSendsPlaceholder(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.source.unavailable = map[media.Kind]bool{media.KindVideo: true}

	p.sync.Start(true, true)
	sched.RunAll()
	p.engine.OnPeerJoined("b", nil)
	sched.RunAll()

	snap := p.media.Snapshot()
	assert.True(t, snap.Video)
	assert.False(t, snap.VideoAvailable)
	assert.True(t, snap.AudioAvailable)

	tr := p.factory.last("b")
	assert.Equal(t, "video-placeholder", tr.Track(media.KindVideo).ID())
	assert.Equal(t, "audio-1", tr.Track(media.KindAudio).ID())
	offers := p.sig.offersTo("b")
	require.Len(t, offers, 1)
	assert.Contains(t, offers[0].Content, "video=video-placeholder")
}

func TestScreenShareReplacesVideoSlot(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.sync.Start(true, false)
	sched.RunAll()
	establish(t, sched, p, "b")
	tr := p.factory.last("b")

	p.sync.SetScreen(true)
	sched.RunAll()
	assert.Equal(t, "screen-2", tr.Track(media.KindVideo).ID())
	answerLastOffer(t, sched, p, "b")

	p.sync.SetScreen(false)
	sched.RunAll()
	assert.Equal(t, "video-1", tr.Track(media.KindVideo).ID())
	assert.Equal(t, 1, p.source.Opened()[1].Stops())
}

func TestUnavailableScreenTurnsShareOff(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.source.unavailable = map[media.Kind]bool{media.KindScreen: true}

	p.sync.SetScreen(true)
	sched.RunAll()

	assert.False(t, p.media.Enabled(media.KindScreen))
	assert.Equal(t, "video-placeholder", p.media.Outgoing(media.KindVideo).ID())
}

func TestReleaseAllStopsEverything(t *testing.T) {
	sched := &manualScheduler{}
	p := newTestPeer("a", sched, nil)
	p.sync.Start(true, true)
	sched.RunAll()

	p.sync.ReleaseAll()
	for _, tr := range p.source.Opened() {
		assert.Equal(t, 1, tr.Stops(), tr.ID())
	}
	assert.Equal(t, 1, p.media.Placeholder(media.KindVideo).(*fakeTrack).Stops())
}
