package mesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    media.Kind
	enabled bool
	stops   int
}

func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) Kind() media.Kind { return t.kind }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.enabled = false
	t.mu.Unlock()
}
func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func newTestMedia() *media.State {
	return media.NewState(
		&fakeTrack{id: "audio-placeholder", kind: media.KindAudio},
		&fakeTrack{id: "video-placeholder", kind: media.KindVideo},
	)
}

// fakeSource hands out fake device tracks. Kinds listed in unavailable fail
// with ErrDeviceUnavailable.
type fakeSource struct {
	mu          sync.Mutex
	unavailable map[media.Kind]bool
	opened      []*fakeTrack
}

func (s *fakeSource) Open(_ context.Context, kind media.Kind) (media.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable[kind] {
		return nil, fmt.Errorf("open %s: %w", kind, media.ErrDeviceUnavailable)
	}
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, len(s.opened)+1), kind: kind}
	s.opened = append(s.opened, t)
	return t, nil
}

func (s *fakeSource) Opened() []*fakeTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTrack(nil), s.opened...)
}

// fakeTransport renders the attached tracks into its SDP so tests can read
// back what an offer carried.
type fakeTransport struct {
	mu       sync.Mutex
	owner    signaling.ParticipantID
	peer     signaling.ParticipantID
	instance int
	events   TransportEvents

	tracks     map[media.Kind]media.Track
	offers     []signaling.SessionDescription
	remote     []signaling.SessionDescription
	candidates []signaling.Candidate
	rollbacks  int
	closes     int
}

func (t *fakeTransport) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s->%s#%d", t.owner, t.peer, t.instance)
	for _, slot := range media.Slots {
		tr := t.tracks[slot]
		if tr == nil {
			fmt.Fprintf(&b, " %s=none", slot)
			continue
		}
		fmt.Fprintf(&b, " %s=%s", slot, tr.ID())
	}
	return b.String()
}

func (t *fakeTransport) CreateOffer(context.Context) (signaling.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	offer := signaling.SessionDescription{
		Type:    signaling.SDPTypeOffer,
		Content: fmt.Sprintf("offer %d %s", len(t.offers)+1, t.describe()),
	}
	t.offers = append(t.offers, offer)
	return offer, nil
}

func (t *fakeTransport) CreateAnswer(context.Context) (signaling.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.remote) == 0 {
		return signaling.SessionDescription{}, fmt.Errorf("no remote offer")
	}
	return signaling.SessionDescription{
		Type:    signaling.SDPTypeAnswer,
		Content: "answer to " + t.remote[len(t.remote)-1].Content,
	}, nil
}

func (t *fakeTransport) SetRemoteDescription(_ context.Context, desc signaling.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = append(t.remote, desc)
	return nil
}

func (t *fakeTransport) Rollback(context.Context) error {
	t.mu.Lock()
	t.rollbacks++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) AddICECandidate(c signaling.Candidate) error {
	t.mu.Lock()
	t.candidates = append(t.candidates, c)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) SetTrack(slot media.Kind, track media.Track) error {
	t.mu.Lock()
	t.tracks[slot] = track
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Track(slot media.Kind) media.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracks[slot]
}

func (t *fakeTransport) Offers() []signaling.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signaling.SessionDescription(nil), t.offers...)
}

func (t *fakeTransport) Remote() []signaling.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signaling.SessionDescription(nil), t.remote...)
}

func (t *fakeTransport) Candidates() []signaling.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signaling.Candidate(nil), t.candidates...)
}

func (t *fakeTransport) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

func (t *fakeTransport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeFactory struct {
	mu         sync.Mutex
	owner      signaling.ParticipantID
	transports map[signaling.ParticipantID][]*fakeTransport
}

func newFakeFactory(owner signaling.ParticipantID) *fakeFactory {
	return &fakeFactory{owner: owner, transports: make(map[signaling.ParticipantID][]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(peer signaling.ParticipantID, events TransportEvents) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{
		owner:    f.owner,
		peer:     peer,
		instance: len(f.transports[peer]) + 1,
		events:   events,
		tracks:   make(map[media.Kind]media.Track),
	}
	f.transports[peer] = append(f.transports[peer], t)
	return t, nil
}

// last returns the newest transport created for peer.
func (f *fakeFactory) last(peer signaling.ParticipantID) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[peer]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (f *fakeFactory) count(peer signaling.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[peer])
}

type sentSignal struct {
	to  signaling.ParticipantID
	env signaling.Envelope
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (s *recordingSignaler) SendSignal(to signaling.ParticipantID, env signaling.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentSignal{to: to, env: env})
	return nil
}

// failWith makes every later send fail with err until it is reset with nil.
func (s *recordingSignaler) failWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *recordingSignaler) offersTo(to signaling.ParticipantID) []signaling.SessionDescription {
	return s.filter(to, func(env signaling.Envelope) bool { return env.IsOffer() })
}

func (s *recordingSignaler) answersTo(to signaling.ParticipantID) []signaling.SessionDescription {
	return s.filter(to, func(env signaling.Envelope) bool { return env.IsAnswer() })
}

func (s *recordingSignaler) filter(to signaling.ParticipantID, keep func(signaling.Envelope) bool) []signaling.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signaling.SessionDescription
	for _, m := range s.sent {
		if m.to == to && keep(m.env) {
			out = append(out, *m.env.SDP)
		}
	}
	return out
}

func (s *recordingSignaler) all() []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSignal(nil), s.sent...)
}

// manualScheduler runs everything on the test goroutine. Go queues the
// operation itself, so tests decide when an asynchronous step completes.
type manualScheduler struct {
	queue []func()
}

func (s *manualScheduler) Go(op func() func()) {
	s.queue = append(s.queue, func() {
		if next := op(); next != nil {
			s.Post(next)
		}
	})
}

func (s *manualScheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
}

// RunOne runs the oldest queued item and reports whether there was one.
func (s *manualScheduler) RunOne() bool {
	if len(s.queue) == 0 {
		return false
	}
	fn := s.queue[0]
	s.queue = s.queue[1:]
	fn()
	return true
}

func (s *manualScheduler) RunAll() {
	for s.RunOne() {
	}
}

// testPeer is one engine with its fakes.
type testPeer struct {
	id      signaling.ParticipantID
	engine  *Engine
	sync    *Synchronizer
	media   *media.State
	source  *fakeSource
	factory *fakeFactory
	sig     *recordingSignaler
}

func newTestPeer(id signaling.ParticipantID, sched *manualScheduler, sig Signaler) *testPeer {
	p := &testPeer{
		id:      id,
		media:   newTestMedia(),
		source:  &fakeSource{},
		factory: newFakeFactory(id),
	}
	if sig == nil {
		p.sig = &recordingSignaler{}
		sig = p.sig
	}
	p.engine = NewEngine(EngineConfig{
		Transports: p.factory,
		Signaler:   sig,
		Media:      p.media,
		Scheduler:  sched,
		Logger:     discardLogger(),
	})
	p.engine.SetSelf(id)
	p.sync = NewSynchronizer(p.engine, p.media, p.source, sched, discardLogger())
	return p
}

type envelopeFrom struct {
	from signaling.ParticipantID
	env  signaling.Envelope
}

// meshNet connects several engines through per-recipient mailboxes that the
// test flushes explicitly, standing in for the relay.
type meshNet struct {
	sched     *manualScheduler
	peers     map[signaling.ParticipantID]*testPeer
	order     []signaling.ParticipantID
	mailboxes map[signaling.ParticipantID][]envelopeFrom
}

type netSignaler struct {
	net  *meshNet
	from signaling.ParticipantID
}

func (s netSignaler) SendSignal(to signaling.ParticipantID, env signaling.Envelope) error {
	s.net.mailboxes[to] = append(s.net.mailboxes[to], envelopeFrom{from: s.from, env: env})
	return nil
}

func newMeshNet(ids ...signaling.ParticipantID) *meshNet {
	n := &meshNet{
		sched:     &manualScheduler{},
		peers:     make(map[signaling.ParticipantID]*testPeer),
		mailboxes: make(map[signaling.ParticipantID][]envelopeFrom),
	}
	for _, id := range ids {
		n.peers[id] = newTestPeer(id, n.sched, netSignaler{net: n, from: id})
		n.order = append(n.order, id)
	}
	return n
}

// deliver hands every queued envelope for to to its engine.
func (n *meshNet) deliver(to signaling.ParticipantID) bool {
	box := n.mailboxes[to]
	n.mailboxes[to] = nil
	for _, m := range box {
		n.peers[to].engine.OnSignal(m.from, m.env)
	}
	return len(box) > 0
}

// settle runs the scheduler and delivers mail until nothing moves.
func (n *meshNet) settle() {
	for {
		n.sched.RunAll()
		moved := false
		for _, id := range n.order {
			if n.deliver(id) {
				moved = true
			}
		}
		if !moved && len(n.sched.queue) == 0 {
			return
		}
	}
}

// join replays the relay's announcements for id joining the room.
func (n *meshNet) join(id signaling.ParticipantID, members []signaling.ParticipantID) {
	for _, m := range members {
		n.peers[m].engine.OnPeerJoined(id, members)
	}
}
