package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

const (
	envVarRelayURL   = "MESH_RELAY_URL"
	envVarRoom       = "MESH_ROOM"
	envVarName       = "MESH_NAME"
	envVarToken      = "MESH_TOKEN"
	envVarPeerAPIKey = "MESH_API_KEY"
	envVarOrigin     = "MESH_ORIGIN"

	envVarVideoFile  = "MESH_VIDEO_FILE"
	envVarAudioFile  = "MESH_AUDIO_FILE"
	envVarScreenFile = "MESH_SCREEN_FILE"
	envVarStartVideo = "MESH_START_VIDEO"
	envVarStartAudio = "MESH_START_AUDIO"

	envVarICEFromRelay = "MESH_ICE_FROM_RELAY"

	envVarReconnectMinBackoff  = "MESH_RECONNECT_MIN_BACKOFF"
	envVarReconnectMaxBackoff  = "MESH_RECONNECT_MAX_BACKOFF"
	envVarMaxReconnectAttempts = "MESH_MAX_RECONNECT_ATTEMPTS"
)

const (
	DefaultRelayURL             = "ws://127.0.0.1:8080/mesh"
	DefaultPeerName             = "guest"
	DefaultReconnectMinBackoff  = signaling.DefaultReconnectMinBackoff
	DefaultReconnectMaxBackoff  = signaling.DefaultReconnectMaxBackoff
	DefaultMaxReconnectAttempts = signaling.DefaultMaxReconnectAttempts
)

// Peer configures cmd/mesh-peer.
type Peer struct {
	Common

	RelayURL string
	Room     string
	Name     string
	Token    string
	APIKey   string
	// Origin is sent on the WebSocket upgrade when set.
	Origin string

	VideoFile  string
	AudioFile  string
	ScreenFile string
	StartVideo bool
	StartAudio bool

	// ICEFromRelay fetches ICE servers from the relay's /webrtc/ice
	// endpoint instead of using Common.ICEServers.
	ICEFromRelay bool

	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects; negative
	// retries forever.
	MaxReconnectAttempts int
}

func LoadPeer(args []string) (Peer, error) {
	return loadPeer(os.LookupEnv, args)
}

func loadPeer(lookup func(string) (string, bool), args []string) (Peer, error) {
	fs := flag.NewFlagSet("mesh-peer", flag.ContinueOnError)

	common, err := bindCommon(fs, lookup)
	if err != nil {
		return Peer{}, err
	}

	relayURL := envOrDefault(lookup, envVarRelayURL, DefaultRelayURL)
	room := envOrDefault(lookup, envVarRoom, "")
	name := envOrDefault(lookup, envVarName, DefaultPeerName)
	token := envOrDefault(lookup, envVarToken, "")
	apiKey := envOrDefault(lookup, envVarPeerAPIKey, "")
	originHeader := envOrDefault(lookup, envVarOrigin, "")
	videoFile := envOrDefault(lookup, envVarVideoFile, "")
	audioFile := envOrDefault(lookup, envVarAudioFile, "")
	screenFile := envOrDefault(lookup, envVarScreenFile, "")

	startVideo, err := envBoolOrDefault(lookup, envVarStartVideo, false)
	if err != nil {
		return Peer{}, err
	}
	startAudio, err := envBoolOrDefault(lookup, envVarStartAudio, false)
	if err != nil {
		return Peer{}, err
	}
	iceFromRelay, err := envBoolOrDefault(lookup, envVarICEFromRelay, false)
	if err != nil {
		return Peer{}, err
	}
	minBackoff, err := envDurationOrDefault(lookup, envVarReconnectMinBackoff, DefaultReconnectMinBackoff)
	if err != nil {
		return Peer{}, err
	}
	maxBackoff, err := envDurationOrDefault(lookup, envVarReconnectMaxBackoff, DefaultReconnectMaxBackoff)
	if err != nil {
		return Peer{}, err
	}
	maxAttempts, err := envIntOrDefault(lookup, envVarMaxReconnectAttempts, DefaultMaxReconnectAttempts)
	if err != nil {
		return Peer{}, err
	}

	fs.StringVar(&relayURL, "relay-url", relayURL, "Relay WebSocket URL (env "+envVarRelayURL+")")
	fs.StringVar(&room, "room", room, "Room to join (env "+envVarRoom+")")
	fs.StringVar(&name, "name", name, "Display name (env "+envVarName+")")
	fs.StringVar(&token, "token", token, "JWT passed to the relay (env "+envVarToken+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "API key passed to the relay (env "+envVarPeerAPIKey+")")
	fs.StringVar(&originHeader, "origin", originHeader, "Origin header for the WebSocket upgrade (env "+envVarOrigin+")")
	fs.StringVar(&videoFile, "video-file", videoFile, "IVF (VP8) file used as the camera (env "+envVarVideoFile+")")
	fs.StringVar(&audioFile, "audio-file", audioFile, "Ogg Opus file used as the microphone (env "+envVarAudioFile+")")
	fs.StringVar(&screenFile, "screen-file", screenFile, "IVF (VP8) file used for screen share (env "+envVarScreenFile+")")
	fs.BoolVar(&startVideo, "start-video", startVideo, "Enable video on join (env "+envVarStartVideo+")")
	fs.BoolVar(&startAudio, "start-audio", startAudio, "Enable audio on join (env "+envVarStartAudio+")")
	fs.BoolVar(&iceFromRelay, "ice-from-relay", iceFromRelay, "Fetch ICE servers from the relay (env "+envVarICEFromRelay+")")
	fs.DurationVar(&minBackoff, "reconnect-min-backoff", minBackoff, "First reconnect delay (env "+envVarReconnectMinBackoff+")")
	fs.DurationVar(&maxBackoff, "reconnect-max-backoff", maxBackoff, "Max reconnect delay (env "+envVarReconnectMaxBackoff+")")
	fs.IntVar(&maxAttempts, "max-reconnect-attempts", maxAttempts, "Consecutive reconnect attempts before giving up, negative = forever (env "+envVarMaxReconnectAttempts+")")

	setFlags, err := parseFlags(fs, args)
	if err != nil {
		return Peer{}, err
	}

	c, err := common.finish(setFlags, false)
	if err != nil {
		return Peer{}, err
	}
	if c.ICEConfigError() == nil && len(c.ICEServers) == 0 && !iceFromRelay {
		c.ICEServers = DefaultICEServers()
	}

	u, err := url.Parse(strings.TrimSpace(relayURL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return Peer{}, fmt.Errorf("invalid %s/--relay-url %q (expected ws:// or wss:// URL)", envVarRelayURL, relayURL)
	}
	if strings.TrimSpace(room) == "" {
		return Peer{}, fmt.Errorf("%s/--room must be set", envVarRoom)
	}
	if strings.TrimSpace(name) == "" {
		return Peer{}, fmt.Errorf("%s/--name must not be empty", envVarName)
	}
	if originHeader != "" {
		normalized, err := normalizeOriginValue(originHeader)
		if err != nil {
			return Peer{}, fmt.Errorf("invalid %s/--origin %q: %w", envVarOrigin, originHeader, err)
		}
		originHeader = normalized
	}
	if minBackoff <= 0 {
		return Peer{}, fmt.Errorf("%s/--reconnect-min-backoff must be > 0", envVarReconnectMinBackoff)
	}
	if maxBackoff < minBackoff {
		return Peer{}, fmt.Errorf("%s/--reconnect-max-backoff must be >= %s/--reconnect-min-backoff", envVarReconnectMaxBackoff, envVarReconnectMinBackoff)
	}
	if maxAttempts == 0 {
		return Peer{}, fmt.Errorf("%s/--max-reconnect-attempts must not be 0", envVarMaxReconnectAttempts)
	}

	return Peer{
		Common:               c,
		RelayURL:             u.String(),
		Room:                 strings.TrimSpace(room),
		Name:                 strings.TrimSpace(name),
		Token:                token,
		APIKey:               apiKey,
		Origin:               originHeader,
		VideoFile:            videoFile,
		AudioFile:            audioFile,
		ScreenFile:           screenFile,
		StartVideo:           startVideo,
		StartAudio:           startAudio,
		ICEFromRelay:         iceFromRelay,
		ReconnectMinBackoff:  minBackoff,
		ReconnectMaxBackoff:  maxBackoff,
		MaxReconnectAttempts: maxAttempts,
	}, nil
}

// PeerICEServers returns the configured servers, or the default STUN server
// when none are configured.
func (p Peer) PeerICEServers(fetched []webrtc.ICEServer) []webrtc.ICEServer {
	if p.ICEFromRelay && len(fetched) > 0 {
		return fetched
	}
	if len(p.ICEServers) > 0 {
		return p.ICEServers
	}
	return DefaultICEServers()
}
