package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

// Joins a room over signaling only and echoes every chat message sent by
// someone else. Browser E2E runs use it to check chat fan-out without a
// second browser.
func main() {
	relayURL := envOrDefault("RELAY_URL", "ws://127.0.0.1:8080/mesh")
	room := envOrDefault("ROOM", "e2e")
	name := envOrDefault("NAME", "echo-bot")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := signaling.Dial(ctx, signaling.ChannelConfig{
		URL:    relayURL,
		Room:   room,
		Name:   name,
		Logger: logger,
	})
	defer ch.Close()

	var self signaling.ParticipantID
	for ev := range ch.Events() {
		switch ev := ev.(type) {
		case signaling.Joined:
			self = ev.Self
			fmt.Printf("READY %s\n", self)
		case signaling.Chat:
			if ev.SenderID == self {
				continue
			}
			if err := ch.SendChat("echo: "+ev.Body, name); err != nil {
				fmt.Fprintf(os.Stderr, "echo failed: %v\n", err)
			}
		case signaling.Closed:
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "signaling closed: %v\n", ev.Err)
				os.Exit(1)
			}
			return
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
