package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/chat"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// Channel is the session's view of the signaling channel.
// *signaling.Channel implements it.
type Channel interface {
	Events() <-chan signaling.Event
	SendSignal(to signaling.ParticipantID, env signaling.Envelope) error
	SendChat(body, name string) error
	Close() error
}

type Config struct {
	// Name is our display name in chat.
	Name string

	Transports TransportFactory
	Source     media.Source
	// Media is the local media state; its placeholders are sent whenever a
	// device track is disabled or unavailable.
	Media *media.State

	StartVideo bool
	StartAudio bool

	// OnChange, when set, is called on the event loop after every handled
	// event with the current view.
	OnChange func(RoomView)

	Logger *slog.Logger
}

// RoomView is the read-only projection of a session for observers.
type RoomView struct {
	Self   signaling.ParticipantID
	Status Status
	Peers  []PeerView
	Media  media.Snapshot
	Unread int
}

// Session runs the event loop that owns the pool, the negotiation engine,
// the track synchronizer, the media state and the chat log.
type Session struct {
	cfg     Config
	log     *slog.Logger
	channel Channel

	loop   *loopScheduler
	engine *Engine
	sync   *Synchronizer
	chat   *chat.Log
	status Status

	calls chan func()
	done  chan struct{}
}

func NewSession(cfg Config, channel Channel) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mesh")

	loop := newLoopScheduler()
	engine := NewEngine(EngineConfig{
		Transports: cfg.Transports,
		Signaler:   channel,
		Media:      cfg.Media,
		Scheduler:  loop,
		Logger:     logger,
	})
	return &Session{
		cfg:     cfg,
		log:     logger,
		channel: channel,
		loop:    loop,
		engine:  engine,
		sync:    NewSynchronizer(engine, cfg.Media, cfg.Source, loop, logger),
		chat:    chat.NewLog(),
		status:  StatusConnecting,
		calls:   make(chan func()),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx is done or the signaling channel closes
// for good. Leaving tears down every peer, stops all local tracks and
// closes the channel.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.leave()

	s.sync.Start(s.cfg.StartVideo, s.cfg.StartAudio)
	s.notify()

	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.status = StatusFailed
				return fmt.Errorf("%w: event stream ended", signaling.ErrSignalingDisconnected)
			}
			if stop, err := s.handle(ev); stop {
				return err
			}
		case <-s.loop.wake:
			for _, fn := range s.loop.drain() {
				fn()
			}
		case fn := <-s.calls:
			fn()
		}
		s.notify()
	}
}

func (s *Session) handle(ev signaling.Event) (stop bool, err error) {
	switch ev := ev.(type) {
	case signaling.Joined:
		s.engine.SetSelf(ev.Self)
		s.status = StatusConnected
		s.log.Info("joined room", "participant_id", ev.Self)
	case signaling.PeerJoined:
		s.engine.OnPeerJoined(ev.ID, ev.Members)
	case signaling.PeerLeft:
		s.engine.OnPeerLeft(ev.ID)
	case signaling.Signal:
		s.engine.OnSignal(ev.From, ev.Envelope)
	case signaling.Chat:
		local := ev.SenderID != "" && ev.SenderID == s.engine.Self()
		s.chat.Append(chat.Message{Sender: ev.Sender, SenderID: ev.SenderID, Body: ev.Body, Local: local})
	case signaling.RelayError:
		s.log.Warn("relay reported an error", "code", ev.Code, "message", ev.Message)
	case signaling.Disconnected:
		s.log.Warn("signaling disconnected; resetting peers", "err", ev.Err, "peers", s.engine.Pool().Len())
		s.engine.TeardownAll()
		s.engine.SetSelf("")
		s.status = StatusReconnecting
	case signaling.Closed:
		if ev.Err != nil {
			s.status = StatusFailed
			return true, ev.Err
		}
		return true, nil
	}
	return false, nil
}

func (s *Session) leave() {
	s.engine.TeardownAll()
	s.sync.ReleaseAll()
	s.loop.close()
	if err := s.channel.Close(); err != nil {
		s.log.Debug("closing signaling channel failed", "err", err)
	}
	if s.status != StatusFailed {
		s.status = StatusClosed
	}
	s.notify()
}

func (s *Session) view() RoomView {
	return RoomView{
		Self:   s.engine.Self(),
		Status: s.status,
		Peers:  s.engine.Peers(),
		Media:  s.cfg.Media.Snapshot(),
		Unread: s.chat.Unread(),
	}
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.view())
	}
}

// do runs fn on the loop and waits until the loop has taken it.
func (s *Session) do(fn func()) error {
	select {
	case s.calls <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) SetVideo(enabled bool) error {
	return s.do(func() { s.sync.SetVideo(enabled) })
}

func (s *Session) SetAudio(enabled bool) error {
	return s.do(func() { s.sync.SetAudio(enabled) })
}

func (s *Session) SetScreen(enabled bool) error {
	return s.do(func() { s.sync.SetScreen(enabled) })
}

// SendChat sends body to the room. The message enters the local log when the
// relay echoes it back.
func (s *Session) SendChat(body string) error {
	errCh := make(chan error, 1)
	if err := s.do(func() { errCh <- s.channel.SendChat(body, s.cfg.Name) }); err != nil {
		return err
	}
	return <-errCh
}

func (s *Session) MarkRead() error {
	return s.do(func() { s.chat.MarkRead() })
}

func (s *Session) View() (RoomView, error) {
	ch := make(chan RoomView, 1)
	if err := s.do(func() { ch <- s.view() }); err != nil {
		return RoomView{}, err
	}
	return <-ch, nil
}

func (s *Session) Messages() ([]chat.Message, error) {
	ch := make(chan []chat.Message, 1)
	if err := s.do(func() { ch <- s.chat.Messages() }); err != nil {
		return nil, err
	}
	return <-ch, nil
}

// IsClosed reports whether err came from a call on a finished session.
func IsClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
