package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/relay"
)

// A permissive relay for browser E2E runs: no auth, any origin, in-memory
// presence, STUN-free ICE.
func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 0)
	maxMembers := envIntOrDefault("MAX_ROOM_MEMBERS", 0)

	if v := os.Getenv("AUTH_MODE"); v != "" && v != "none" {
		fmt.Fprintf(os.Stderr, "unsupported AUTH_MODE=%s\n", v)
		os.Exit(2)
	}

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	m := metrics.New()
	hub := relay.NewHub(relay.HubConfig{MaxRoomMembers: maxMembers, Metrics: m, Logger: logger})
	defer hub.Close()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		// Host candidates are enough on loopback.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[]}`))
	})
	mux.Handle("GET /mesh", relay.NewServer(hub, relay.ServerConfig{
		Origins: origin.Policy{AllowedOrigins: []string{"*"}},
		Metrics: m,
		Logger:  logger,
	}))
	mux.Handle("GET /metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		hub.Close()
		_ = srv.Shutdown(context.Background())
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
