package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// RoomDirectory answers GET /rooms/{room}.
type RoomDirectory interface {
	Members(ctx context.Context, room string) ([]signaling.ParticipantID, error)
}

// Options wires the optional relay components into the server. Nil fields
// disable the routes that need them.
type Options struct {
	Metrics  *metrics.Metrics
	TURNREST *turnrest.Generator
	Rooms    RoomDirectory
	// Verifier guards /webrtc/ice and /rooms when set.
	Verifier auth.Verifier
}

type Server struct {
	log   *slog.Logger
	cfg   config.Relay
	build BuildInfo
	opts  Options
	cors  origin.Policy

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Relay, logger *slog.Logger, build BuildInfo, opts Options) *Server {
	s := &Server{
		log:   logger,
		cfg:   cfg,
		build: build,
		opts:  opts,
		cors:  origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		mux:   http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.withAuth(s.handleICE)))

	if s.opts.Rooms != nil {
		s.mux.HandleFunc("GET /rooms/{room}", s.withOriginPolicy(s.withAuth(s.handleRoom)))
	}

	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.opts.TURNREST != nil {
		minted, err := s.opts.TURNREST.Apply(servers)
		if err != nil {
			s.log.Error("failed to mint turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint turn credentials"})
			return
		}
		servers = minted
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	members, err := s.opts.Rooms.Members(r.Context(), room)
	if err != nil {
		s.log.Error("failed to read room presence", "room", room, "err", err)
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "presence unavailable"})
		return
	}
	if members == nil {
		members = []signaling.ParticipantID{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"room": room, "members": members})
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.Verifier == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
		if err == nil {
			_, err = s.opts.Verifier.Verify(cred)
		}
		if err != nil {
			if s.opts.Metrics != nil {
				reason := "invalid_credentials"
				if errors.Is(err, auth.ErrMissingCredentials) {
					reason = "missing_credentials"
				}
				s.opts.Metrics.AuthFailure(reason)
			}
			WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the signaling WebSocket upgrade through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
