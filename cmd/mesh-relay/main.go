package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/turnrest"
)

const redisConnectTimeout = 5 * time.Second

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Common)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting mesh-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"ws_path", cfg.WSPath,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"max_room_members", cfg.MaxRoomMembers,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"redis_enabled", cfg.Redis.Enabled(),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ice server configuration; /readyz will report not ready", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), redisConnectTimeout)
	presence, err := relay.NewPresence(startupCtx, cfg.Redis)
	cancelStartup()
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(2)
	}
	defer presence.Close()

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure signaling auth", "err", err)
		os.Exit(2)
	}

	turnGen, err := turnrest.FromConfig(cfg.TURNREST)
	if err != nil {
		logger.Error("failed to configure turn rest credentials", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	hub := relay.NewHub(relay.HubConfig{
		MaxRoomMembers: cfg.MaxRoomMembers,
		Presence:       presence,
		Metrics:        m,
		Logger:         logger,
	})
	wsServer := relay.NewServer(hub, relay.ServerConfigFromRelay(cfg, verifier, m, logger))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)

	opts := httpserver.Options{
		Metrics:  m,
		TURNREST: turnGen,
		Rooms:    presence,
	}
	if cfg.AuthMode != config.AuthModeNone {
		opts.Verifier = verifier
	}
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, opts)
	srv.Mux().Handle("GET "+cfg.WSPath, wsServer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		hub.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server; closing
	// the hub ends their writers, which closes the sockets.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
