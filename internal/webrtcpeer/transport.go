package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/mesh"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

var (
	ErrNoPendingOffer = errors.New("webrtcpeer: no pending local offer")
	ErrTrackType      = errors.New("webrtcpeer: track cannot be attached to a sender")
	ErrUnknownSlot    = errors.New("webrtcpeer: unknown sender slot")
)

const remoteReadBufferBytes = 1500

// FactoryConfig configures every transport a Factory creates.
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	// ConnectTimeout reports a transport as failed when it has not reached
	// the connected state in time. Zero disables the timer.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Factory creates pion-backed transports; it implements mesh.TransportFactory.
type Factory struct {
	api *webrtc.API
	cfg FactoryConfig
}

var _ mesh.TransportFactory = (*Factory)(nil)

func NewFactory(api *webrtc.API, cfg FactoryConfig) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{api: api, cfg: cfg}
}

func (f *Factory) NewTransport(peer signaling.ParticipantID, events mesh.TransportEvents) (mesh.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &Transport{
		pc:      pc,
		events:  events,
		log:     f.cfg.Logger.With("peer_id", peer),
		senders: make(map[media.Kind]*webrtc.RTPSender, len(media.Slots)),
		done:    make(chan struct{}),
	}

	for _, slot := range media.Slots {
		tr, err := pc.AddTransceiverFromKind(codecType(slot), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", slot, err)
		}
		t.senders[slot] = tr.Sender()
		go t.drainRTCP(tr.Sender())
	}

	pc.OnICECandidate(t.onICECandidate)
	pc.OnTrack(t.onTrack)
	pc.OnConnectionStateChange(t.onConnectionStateChange)

	if f.cfg.ConnectTimeout > 0 {
		t.connectTimer = time.AfterFunc(f.cfg.ConnectTimeout, t.onConnectTimeout)
	}
	return t, nil
}

// Transport is one RTCPeerConnection with a fixed audio and video sender.
//
// A local offer is only applied when its answer arrives, so discarding it
// during glare needs no rollback on the connection itself.
type Transport struct {
	pc     *webrtc.PeerConnection
	events mesh.TransportEvents
	log    *slog.Logger

	senders map[media.Kind]*webrtc.RTPSender

	mu           sync.Mutex
	pendingOffer *webrtc.SessionDescription
	connected    bool
	closed       bool
	connectTimer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
}

var _ mesh.Transport = (*Transport)(nil)

func codecType(k media.Kind) webrtc.RTPCodecType {
	if k.Slot() == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func kindOf(t webrtc.RTPCodecType) media.Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return media.KindAudio
	}
	return media.KindVideo
}

func (t *Transport) CreateOffer(ctx context.Context) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	t.mu.Lock()
	t.pendingOffer = &offer
	t.mu.Unlock()
	return signaling.SessionDescription{Type: signaling.SDPTypeOffer, Content: offer.SDP}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (signaling.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return signaling.SessionDescription{Type: signaling.SDPTypeAnswer, Content: answer.SDP}, nil
}

func (t *Transport) SetRemoteDescription(ctx context.Context, desc signaling.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch desc.Type {
	case signaling.SDPTypeOffer:
		return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.Content})
	case signaling.SDPTypeAnswer:
		t.mu.Lock()
		offer := t.pendingOffer
		t.pendingOffer = nil
		t.mu.Unlock()
		if offer == nil {
			return ErrNoPendingOffer
		}
		if err := t.pc.SetLocalDescription(*offer); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.Content})
	default:
		return fmt.Errorf("unsupported description type %q", desc.Type)
	}
}

func (t *Transport) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.pendingOffer = nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) AddICECandidate(c signaling.Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(c, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return t.pc.AddICECandidate(init)
}

func (t *Transport) SetTrack(slot media.Kind, track media.Track) error {
	sender, ok := t.senders[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	if track == nil {
		return sender.ReplaceTrack(nil)
	}
	local, ok := track.(media.LocalTrack)
	if !ok {
		return fmt.Errorf("%w: %T", ErrTrackType, track)
	}
	return sender.ReplaceTrack(local.TrackLocal())
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.connectTimer != nil {
			t.connectTimer.Stop()
		}
		t.mu.Unlock()
		close(t.done)
		err = t.pc.Close()
	})
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil || t.events.OnCandidate == nil || t.isClosed() {
		return
	}
	raw, err := json.Marshal(c.ToJSON())
	if err != nil {
		t.log.Warn("failed to encode local candidate", "err", err)
		return
	}
	t.events.OnCandidate(signaling.Candidate(raw))
}

func (t *Transport) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if t.events.OnTrack != nil && !t.isClosed() {
		t.events.OnTrack(mesh.RemoteTrack{
			Kind:     kindOf(remote.Kind()),
			StreamID: remote.StreamID(),
			TrackID:  remote.ID(),
			Handle:   remote,
		})
	}
	go t.drainRemote(remote)
}

func (t *Transport) onConnectionStateChange(s webrtc.PeerConnectionState) {
	var state mesh.TransportState
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		state = mesh.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		state = mesh.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		state = mesh.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		state = mesh.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		state = mesh.TransportClosed
	default:
		return
	}

	t.mu.Lock()
	if state == mesh.TransportConnected {
		t.connected = true
	}
	if (state == mesh.TransportConnected || state.Fatal()) && t.connectTimer != nil {
		t.connectTimer.Stop()
	}
	closed := t.closed
	t.mu.Unlock()

	t.log.Debug("peer connection state", "state", s.String())
	if !closed && t.events.OnStateChange != nil {
		t.events.OnStateChange(state)
	}
}

func (t *Transport) onConnectTimeout() {
	t.mu.Lock()
	expired := !t.connected && !t.closed
	t.mu.Unlock()
	if !expired {
		return
	}
	t.log.Warn("peer connection did not connect in time")
	if t.events.OnStateChange != nil {
		t.events.OnStateChange(mesh.TransportFailed)
	}
}

// drainRTCP reads sender RTCP so interceptors (NACK, reports) keep running.
func (t *Transport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, remoteReadBufferBytes)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainRemote consumes inbound RTP for a headless participant.
func (t *Transport) drainRemote(remote *webrtc.TrackRemote) {
	buf := make([]byte, remoteReadBufferBytes)
	for {
		select {
		case <-t.done:
			return
		default:
		}
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}
