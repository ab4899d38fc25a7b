package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/mesh"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/webrtcpeer"
)

const iceFetchTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadPeer(os.Args[1:])
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout); err != nil {
		logger.Error("mesh-peer exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Peer, logger *slog.Logger, in io.Reader, out io.Writer) error {
	logger.Info("starting mesh-peer",
		"relay_url", cfg.RelayURL,
		"room", cfg.Room,
		"name", cfg.Name,
		"mode", cfg.Mode,
		"ice_from_relay", cfg.ICEFromRelay,
		"start_video", cfg.StartVideo,
		"start_audio", cfg.StartAudio,
	)

	iceServers, err := resolveICEServers(ctx, cfg, logger)
	if err != nil {
		return err
	}

	api, err := webrtcpeer.NewAPI(cfg.Common, webrtcpeer.WithLoggerFactory(webrtcpeer.NewLoggerFactory(logger)))
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}
	factory := webrtcpeer.NewFactory(api, webrtcpeer.FactoryConfig{
		ICEServers:     iceServers,
		ConnectTimeout: cfg.WebRTC.ConnectTimeout,
		Logger:         logger,
	})

	audioPlaceholder, err := media.NewPlaceholder(media.KindAudio)
	if err != nil {
		return err
	}
	videoPlaceholder, err := media.NewPlaceholder(media.KindVideo)
	if err != nil {
		return err
	}

	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	channel := signaling.Dial(ctx, signaling.ChannelConfig{
		URL:                  cfg.RelayURL,
		Room:                 cfg.Room,
		Name:                 cfg.Name,
		Token:                cfg.Token,
		APIKey:               cfg.APIKey,
		Header:               header,
		Backoff:              signaling.Backoff{Min: cfg.ReconnectMinBackoff, Max: cfg.ReconnectMaxBackoff},
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
	})

	session := mesh.NewSession(mesh.Config{
		Name:       cfg.Name,
		Transports: factory,
		Source: media.FileSource{
			VideoFile:  cfg.VideoFile,
			AudioFile:  cfg.AudioFile,
			ScreenFile: cfg.ScreenFile,
			Logger:     logger,
		},
		Media:      media.NewState(audioPlaceholder, videoPlaceholder),
		StartVideo: cfg.StartVideo,
		StartAudio: cfg.StartAudio,
		OnChange:   viewLogger(logger),
		Logger:     logger,
	}, channel)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		err := runCommands(in, out, session)
		switch {
		case errors.Is(err, errLeave):
			cancel()
		case err != nil && !mesh.IsClosed(err):
			logger.Warn("command input failed", "err", err)
		}
	}()

	err = session.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("left room", "room", cfg.Room)
	return nil
}

func resolveICEServers(ctx context.Context, cfg config.Peer, logger *slog.Logger) ([]webrtc.ICEServer, error) {
	if !cfg.ICEFromRelay {
		return cfg.PeerICEServers(nil), nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
	defer cancel()
	fetched, err := signaling.FetchICEServers(fetchCtx, nil, cfg.RelayURL, cfg.Token, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	logger.Info("fetched ice servers from relay", "count", len(fetched))
	return cfg.PeerICEServers(fetched), nil
}

// viewLogger logs the room view whenever its summary changes.
func viewLogger(logger *slog.Logger) func(mesh.RoomView) {
	var last string
	return func(v mesh.RoomView) {
		summary := describeView(v)
		if summary == last {
			return
		}
		last = summary
		logger.Info("room view changed",
			"status", v.Status,
			"self", v.Self,
			"peers", len(v.Peers),
			"unread", v.Unread,
			"summary", summary,
		)
	}
}
