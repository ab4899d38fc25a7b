package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

const wsWriteWait = 1 * time.Second

const (
	authFailureMissing = "missing_credentials"
	authFailureInvalid = "invalid_credentials"
	authFailureOrigin  = "origin"
	authFailureRoom    = "room"
)

type ServerConfig struct {
	AuthMode config.AuthMode
	Verifier auth.Verifier
	Origins  origin.Policy

	MaxMessageBytes   int64
	MessagesPerSecond int
	PingInterval      time.Duration
	IdleTimeout       time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   ratelimit.Clock
}

// ServerConfigFromRelay maps the relay configuration onto a ServerConfig.
func ServerConfigFromRelay(cfg config.Relay, verifier auth.Verifier, m *metrics.Metrics, logger *slog.Logger) ServerConfig {
	return ServerConfig{
		AuthMode:          cfg.AuthMode,
		Verifier:          verifier,
		Origins:           origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		MaxMessageBytes:   int64(cfg.MaxSignalingMessageBytes),
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		PingInterval:      cfg.SignalingWSPingInterval,
		IdleTimeout:       cfg.SignalingWSIdleTimeout,
		Metrics:           m,
		Logger:            logger,
	}
}

// Server is the relay's WebSocket endpoint. Each connection authenticates
// on upgrade, then speaks the join/signal/chat protocol through the Hub.
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, cfg ServerConfig) *Server {
	if cfg.Verifier == nil {
		cfg.Verifier = auth.NoneVerifier{}
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeNone
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	if cfg.Metrics == nil {
		cfg.Metrics = hub.cfg.Metrics
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	return &Server{
		hub: hub,
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: cfg.Origins.CheckOrigin,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.cfg.Origins.Check(r); !ok {
		s.cfg.Metrics.AuthFailure(authFailureOrigin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
	if err != nil {
		s.cfg.Metrics.AuthFailure(authFailureMissing)
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	claims, err := s.cfg.Verifier.Verify(cred)
	if err != nil {
		s.cfg.Metrics.AuthFailure(authFailureInvalid)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.cfg.Metrics.Connections.Inc()

	p := s.hub.Connect()
	defer s.hub.Leave(p)

	log := s.log.With("participant_id", p.ID(), "remote_addr", r.RemoteAddr)
	log.Debug("signaling connection opened")
	defer log.Debug("signaling connection closed")

	done := make(chan struct{})
	defer close(done)
	go s.writeLoop(conn, p)
	go s.pingLoop(conn, done)

	s.readLoop(conn, p, claims, log)
}

func (s *Server) readLoop(conn *websocket.Conn, p *Participant, claims auth.Claims, log *slog.Logger) {
	limiter := ratelimit.NewMessageLimiter(s.cfg.Clock, s.cfg.MessagesPerSecond)

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.cfg.Metrics.Drop(metrics.DropReasonMalformed)
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				writeClose(conn, websocket.ClosePolicyViolation, "idle timeout")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if !limiter.Allow() {
			s.cfg.Metrics.Drop(metrics.DropReasonRateLimited)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.Drop(metrics.DropReasonMalformed)
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := signaling.ParseMessage(data)
		if err != nil {
			s.cfg.Metrics.Drop(metrics.DropReasonMalformed)
			s.hub.Reject(p, signaling.ErrorCodeInvalidMessage, err.Error())
			continue
		}
		s.handle(p, msg, claims, log)
	}
}

func (s *Server) handle(p *Participant, msg signaling.Message, claims auth.Claims, log *slog.Logger) {
	var err error
	switch msg.Type {
	case signaling.MessageTypeJoin:
		if err := claims.AllowsRoom(msg.Room); err != nil {
			s.cfg.Metrics.AuthFailure(authFailureRoom)
			s.hub.Reject(p, signaling.ErrorCodeForbidden, err.Error())
			return
		}
		err = s.hub.Join(p, msg.Room, msg.Name)
	case signaling.MessageTypeSignal:
		if msg.To == "" {
			s.cfg.Metrics.Drop(metrics.DropReasonMalformed)
			s.hub.Reject(p, signaling.ErrorCodeInvalidMessage, "signal message missing to")
			return
		}
		err = s.hub.Signal(p, msg.To, *msg.Signal)
	case signaling.MessageTypeChat:
		err = s.hub.Chat(p, msg.Body, msg.Name)
	default:
		s.cfg.Metrics.Drop(metrics.DropReasonMalformed)
		s.hub.Reject(p, signaling.ErrorCodeInvalidMessage, "unexpected message type "+string(msg.Type))
		return
	}
	if err != nil {
		log.Debug("request rejected", "type", msg.Type, "err", err)
		s.hub.Reject(p, errorCode(err), err.Error())
		return
	}
	s.cfg.Metrics.Message(string(msg.Type))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return signaling.ErrorCodeRoomFull
	case errors.Is(err, ErrAlreadyJoined):
		return signaling.ErrorCodeAlreadyJoined
	case errors.Is(err, ErrNotJoined):
		return signaling.ErrorCodeNotJoined
	case errors.Is(err, ErrUnknownPeer):
		return signaling.ErrorCodeUnknownPeer
	default:
		return signaling.ErrorCodeInvalidMessage
	}
}

// writeLoop drains the participant's outbox. It closes the socket once the
// participant leaves so a blocked reader returns.
func (s *Server) writeLoop(conn *websocket.Conn, p *Participant) {
	defer conn.Close()
	for {
		frame, ok := p.Next()
		if !ok {
			writeClose(conn, websocket.CloseNormalClosure, "")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
