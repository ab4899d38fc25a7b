package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/origin"
)

const (
	envVarListenAddr      = "MESH_LISTEN_ADDR"
	envVarPublicBaseURL   = "MESH_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarShutdownTimeout = "MESH_SHUTDOWN_TIMEOUT"
	envVarWSPath          = "MESH_WS_PATH"

	envVarAuthMode  = "AUTH_MODE"
	envVarAPIKey    = "API_KEY"
	envVarJWTSecret = "JWT_SECRET"

	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxRoomMembers                = "MAX_ROOM_MEMBERS"

	envVarRedisAddr        = "REDIS_ADDR"
	envVarRedisPassword    = "REDIS_PASSWORD"
	envVarRedisDB          = "REDIS_DB"
	envVarRedisPresenceTTL = "REDIS_PRESENCE_TTL"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultWSPath          = "/mesh"

	DefaultAuthMode AuthMode = AuthModeNone

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 256 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultMaxRoomMembers                = 8

	DefaultRedisPresenceTTL = 24 * time.Hour

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "mesh"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

// Relay configures cmd/mesh-relay.
type Relay struct {
	Common

	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	WSPath          string

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int
	MaxSignalingMessagesPerSecond int
	// MaxRoomMembers caps room size; 0 means unlimited.
	MaxRoomMembers int

	Redis    RedisConfig
	TURNREST TurnRESTConfig
}

func LoadRelay(args []string) (Relay, error) {
	return loadRelay(os.LookupEnv, args)
}

func loadRelay(lookup func(string) (string, bool), args []string) (Relay, error) {
	fs := flag.NewFlagSet("mesh-relay", flag.ContinueOnError)

	common, err := bindCommon(fs, lookup)
	if err != nil {
		return Relay{}, err
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	wsPath := envOrDefault(lookup, envVarWSPath, DefaultWSPath)
	authModeStr := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Relay{}, err
	}
	idleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Relay{}, err
	}
	pingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Relay{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Relay{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Relay{}, err
	}
	maxRoomMembers, err := envIntOrDefault(lookup, envVarMaxRoomMembers, DefaultMaxRoomMembers)
	if err != nil {
		return Relay{}, err
	}

	redisAddr := envOrDefault(lookup, envVarRedisAddr, "")
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Relay{}, err
	}
	redisPresenceTTL, err := envDurationOrDefault(lookup, envVarRedisPresenceTTL, DefaultRedisPresenceTTL)
	if err != nil {
		return Relay{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	ttl, err := envIntOrDefault(lookup, envVarTURNRESTTTLSeconds, int(DefaultTURNRESTTTLSeconds))
	if err != nil {
		return Relay{}, err
	}
	turnRESTTTLSeconds := int64(ttl)
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (env "+envVarListenAddr+")")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL used in logs (env "+envVarPublicBaseURL+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to connect (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&wsPath, "ws-path", wsPath, "WebSocket signaling path (env "+envVarWSPath+")")
	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Signaling auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "API key for auth-mode=api_key (env "+envVarAPIKey+")")
	fs.StringVar(&jwtSecret, "jwt-secret", jwtSecret, "HS256 secret for auth-mode=jwt (env "+envVarJWTSecret+")")
	fs.DurationVar(&idleTimeout, "signaling-ws-idle-timeout", idleTimeout, "Close signaling sockets idle for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "Signaling ping interval (env "+envVarSignalingWSPingInterval+")")
	fs.IntVar(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling frame size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling frames per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&maxRoomMembers, "max-room-members", maxRoomMembers, "Max participants per room, 0 = unlimited (env "+envVarMaxRoomMembers+")")
	fs.StringVar(&redisAddr, "redis-addr", redisAddr, "Redis address for room presence (env "+envVarRedisAddr+")")
	fs.StringVar(&redisPassword, "redis-password", redisPassword, "Redis password (env "+envVarRedisPassword+")")
	fs.IntVar(&redisDB, "redis-db", redisDB, "Redis database (env "+envVarRedisDB+")")
	fs.DurationVar(&redisPresenceTTL, "redis-presence-ttl", redisPresenceTTL, "Expiry of room presence keys (env "+envVarRedisPresenceTTL+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+envVarTURNRESTRealm+")")

	setFlags, err := parseFlags(fs, args)
	if err != nil {
		return Relay{}, err
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
		Realm:          turnRESTRealm,
	}
	c, err := common.finish(setFlags, turnREST.Enabled())
	if err != nil {
		return Relay{}, err
	}

	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Relay{}, err
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Relay{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Relay{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Relay{}, fmt.Errorf("%s/--listen-addr must not be empty", envVarListenAddr)
	}
	if publicBaseURL != "" {
		if _, err := url.ParseRequestURI(publicBaseURL); err != nil {
			return Relay{}, fmt.Errorf("invalid %s/--public-base-url %q: %w", envVarPublicBaseURL, publicBaseURL, err)
		}
	}
	if !strings.HasPrefix(wsPath, "/") {
		return Relay{}, fmt.Errorf("%s/--ws-path must start with '/'", envVarWSPath)
	}
	if shutdownTimeout <= 0 {
		return Relay{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if idleTimeout <= 0 {
		return Relay{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if pingInterval <= 0 {
		return Relay{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if pingInterval >= idleTimeout {
		return Relay{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Relay{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Relay{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if maxRoomMembers < 0 {
		return Relay{}, fmt.Errorf("%s/--max-room-members must be >= 0", envVarMaxRoomMembers)
	}
	if redisAddr != "" && redisPresenceTTL <= 0 {
		return Relay{}, fmt.Errorf("%s/--redis-presence-ttl must be > 0 when %s is set", envVarRedisPresenceTTL, envVarRedisAddr)
	}

	if turnREST.Enabled() {
		if turnRESTTTLSeconds <= 0 {
			return Relay{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Relay{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Relay{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Relay{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	return Relay{
		Common:                        c,
		ListenAddr:                    listenAddr,
		PublicBaseURL:                 publicBaseURL,
		AllowedOrigins:                allowedOrigins,
		ShutdownTimeout:               shutdownTimeout,
		WSPath:                        wsPath,
		AuthMode:                      authMode,
		APIKey:                        apiKey,
		JWTSecret:                     jwtSecret,
		SignalingWSIdleTimeout:        idleTimeout,
		SignalingWSPingInterval:       pingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		MaxRoomMembers:                maxRoomMembers,
		Redis: RedisConfig{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDB,
			PresenceTTL: redisPresenceTTL,
		},
		TURNREST: turnREST,
	}, nil
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(raw))) {
	case AuthModeNone:
		return AuthModeNone, nil
	case AuthModeAPIKey:
		return AuthModeAPIKey, nil
	case AuthModeJWT:
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeOriginValue(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	normalized, _, ok := origin.NormalizeHeader(raw)
	if !ok {
		return "", fmt.Errorf("expected full origin like https://example.com")
	}
	return normalized, nil
}
