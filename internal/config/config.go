package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarMode      = "MESH_MODE"
	envVarLogFormat = "MESH_LOG_FORMAT"
	envVarLogLevel  = "MESH_LOG_LEVEL"

	envVarWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	envVarWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"
	// envVarWebRTCConnectTimeout bounds how long a peer connection may stay
	// unconnected before it is reported as failed.
	envVarWebRTCConnectTimeout = "WEBRTC_CONNECT_TIMEOUT"

	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
	flagWebRTCConnectTimeout         = "webrtc-connect-timeout"

	DefaultMode                 Mode = ModeDev
	DefaultWebRTCUDPListenIP         = "0.0.0.0"
	DefaultWebRTCConnectTimeout      = 30 * time.Second
)

// recommendedWebRTCUDPPortRangeSize is a conservative minimum: a mesh of N
// participants holds N-1 peer connections, each needing its own ports.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// WebRTCConfig holds the pion network settings.
type WebRTCConfig struct {
	// UDPPortRange restricts the UDP ports used for ICE. When nil, pion uses
	// its defaults (OS ephemeral port selection).
	UDPPortRange *UDPPortRange

	// NAT1To1IPs are advertised for ICE when running behind a 1:1 NAT. Values
	// must be literal IPs.
	NAT1To1IPs             []string
	NAT1To1IPCandidateType NAT1To1IPCandidateType

	// UDPListenIP restricts which local interface ICE binds to. 0.0.0.0 means
	// all interfaces.
	UDPListenIP net.IP

	ConnectTimeout time.Duration
}

// Common holds the settings shared by the relay and the peer binaries.
type Common struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ICEServers []webrtc.ICEServer
	WebRTC     WebRTCConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from load errors so the relay can still start and report the
// problem from /readyz.
func (c Common) ICEConfigError() error {
	return c.iceConfigErr
}

// commonFlags binds the shared settings to a FlagSet. Environment values
// become flag defaults; explicit flags win.
type commonFlags struct {
	modeStr      string
	logFormatStr string
	logLevelStr  string

	envLogFormatSet bool
	envLogLevelSet  bool

	iceServersJSON string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string

	portMin        uint
	portMax        uint
	listenIP       string
	nat1To1IPs     string
	candidateType  string
	connectTimeout time.Duration
}

func bindCommon(fs *flag.FlagSet, lookup func(string) (string, bool)) (*commonFlags, error) {
	f := &commonFlags{}

	f.modeStr = envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat, ok := lookup(envVarLogFormat)
	f.envLogFormatSet = ok && envLogFormat != ""
	f.logFormatStr = envLogFormat
	if !f.envLogFormatSet {
		f.logFormatStr = defaultLogFormatForMode(f.modeStr)
	}

	envLogLevel, ok := lookup(envVarLogLevel)
	f.envLogLevelSet = ok && envLogLevel != ""
	f.logLevelStr = envLogLevel
	if !f.envLogLevelSet {
		f.logLevelStr = defaultLogLevelForMode(f.modeStr)
	}

	f.iceServersJSON = envOrDefault(lookup, envICEServersJSON, "")
	f.stunURLs = envOrDefault(lookup, envStunURLs, "")
	f.turnURLs = envOrDefault(lookup, envTurnURLs, "")
	f.turnUsername = envOrDefault(lookup, envTurnUsername, "")
	f.turnCredential = envOrDefault(lookup, envTurnCredential, "")

	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		f.portMin = uint(p)
	}
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		f.portMax = uint(p)
	}
	f.listenIP = envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	f.nat1To1IPs = envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	f.candidateType = envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))

	var err error
	f.connectTimeout, err = envDurationOrDefault(lookup, envVarWebRTCConnectTimeout, DefaultWebRTCConnectTimeout)
	if err != nil {
		return nil, err
	}

	fs.StringVar(&f.modeStr, "mode", f.modeStr, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&f.logFormatStr, "log-format", f.logFormatStr, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&f.logLevelStr, "log-level", f.logLevelStr, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")

	fs.StringVar(&f.iceServersJSON, "ice-servers-json", f.iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&f.stunURLs, "stun-urls", f.stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&f.turnURLs, "turn-urls", f.turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&f.turnUsername, "turn-username", f.turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&f.turnCredential, "turn-credential", f.turnCredential, "TURN credential (env "+envTurnCredential+")")

	fs.UintVar(&f.portMin, flagWebRTCUDPPortMin, f.portMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&f.portMax, flagWebRTCUDPPortMax, f.portMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&f.listenIP, flagWebRTCUDPListenIP, f.listenIP, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&f.nat1To1IPs, flagWebRTCNAT1To1IPs, f.nat1To1IPs, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&f.candidateType, flagWebRTCNAT1To1IPCandidateType, f.candidateType, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")
	fs.DurationVar(&f.connectTimeout, flagWebRTCConnectTimeout, f.connectTimeout, "Max time a peer connection may stay unconnected (env "+envVarWebRTCConnectTimeout+")")

	return f, nil
}

// finish validates the parsed shared settings. allowTURNWithoutCreds is set
// when TURN credentials are minted per request (TURN REST).
func (f *commonFlags) finish(setFlags map[string]bool, allowTURNWithoutCreds bool) (Common, error) {
	mode, err := parseMode(f.modeStr)
	if err != nil {
		return Common{}, err
	}
	if !f.envLogFormatSet && !setFlags["log-format"] {
		f.logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !f.envLogLevelSet && !setFlags["log-level"] {
		f.logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(f.logFormatStr)
	if err != nil {
		return Common{}, err
	}
	level, err := parseLogLevel(f.logLevelStr)
	if err != nil {
		return Common{}, err
	}

	webrtcCfg, err := f.webrtc()
	if err != nil {
		return Common{}, err
	}

	c := Common{
		Mode:      mode,
		LogFormat: logFormat,
		LogLevel:  level,
		WebRTC:    webrtcCfg,
	}
	iceServers, err := parseICEServersFromValues(f.iceServersJSON, f.stunURLs, f.turnURLs, f.turnUsername, f.turnCredential, allowTURNWithoutCreds)
	if err != nil {
		c.iceConfigErr = err
	} else {
		c.ICEServers = iceServers
	}
	return c, nil
}

func (f *commonFlags) webrtc() (WebRTCConfig, error) {
	if f.connectTimeout <= 0 {
		return WebRTCConfig{}, fmt.Errorf("%s/--%s must be > 0", envVarWebRTCConnectTimeout, flagWebRTCConnectTimeout)
	}

	var portRange *UDPPortRange
	if f.portMin != 0 || f.portMax != 0 {
		if f.portMin == 0 || f.portMax == 0 {
			return WebRTCConfig{}, fmt.Errorf("%s/--%s and %s/--%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, flagWebRTCUDPPortMin,
				envVarWebRTCUDPPortMax, flagWebRTCUDPPortMax,
			)
		}
		min, err := parsePortUint(f.portMin)
		if err != nil {
			return WebRTCConfig{}, fmt.Errorf("%s/--%s: %w", envVarWebRTCUDPPortMin, flagWebRTCUDPPortMin, err)
		}
		max, err := parsePortUint(f.portMax)
		if err != nil {
			return WebRTCConfig{}, fmt.Errorf("%s/--%s: %w", envVarWebRTCUDPPortMax, flagWebRTCUDPPortMax, err)
		}
		if min > max {
			return WebRTCConfig{}, fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", min, max)
		}
		if size := int(max) - int(min) + 1; size < recommendedWebRTCUDPPortRangeSize {
			return WebRTCConfig{}, fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, recommendedWebRTCUDPPortRangeSize)
		}
		portRange = &UDPPortRange{Min: min, Max: max}
	}

	listenIP := net.ParseIP(strings.TrimSpace(f.listenIP))
	if listenIP == nil {
		return WebRTCConfig{}, fmt.Errorf("invalid %s/--%s %q", envVarWebRTCUDPListenIP, flagWebRTCUDPListenIP, f.listenIP)
	}

	var nat1To1IPs []string
	if strings.TrimSpace(f.nat1To1IPs) != "" {
		ips, err := parseIPList(f.nat1To1IPs)
		if err != nil {
			return WebRTCConfig{}, fmt.Errorf("invalid %s/--%s %q: %w", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, f.nat1To1IPs, err)
		}
		nat1To1IPs = ips
	}
	if strings.TrimSpace(f.candidateType) == "" {
		f.candidateType = string(NAT1To1CandidateTypeHost)
	}
	candidateType, err := parseCandidateType(f.candidateType)
	if err != nil {
		return WebRTCConfig{}, fmt.Errorf("invalid %s/--%s %q: %w", envVarWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, f.candidateType, err)
	}

	return WebRTCConfig{
		UDPPortRange:           portRange,
		NAT1To1IPs:             nat1To1IPs,
		NAT1To1IPCandidateType: candidateType,
		UDPListenIP:            listenIP,
		ConnectTimeout:         f.connectTimeout,
	}, nil
}

func parseFlags(fs *flag.FlagSet, args []string) (map[string]bool, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	return setFlags, nil
}

func NewLogger(cfg Common) (*slog.Logger, error) {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg Common) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
