// Package webrtcpeer implements the mesh transport on top of pion/webrtc.
package webrtcpeer

import (
	"fmt"
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
)

type apiOptions struct {
	net           transport.Net
	loggerFactory logging.LoggerFactory
}

type Option func(*apiOptions)

// WithNet routes all ICE traffic through n (a vnet.Net in tests).
func WithNet(n transport.Net) Option {
	return func(o *apiOptions) { o.net = n }
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(o *apiOptions) { o.loggerFactory = f }
}

// NewAPI builds a pion API with the default audio/video codecs, the default
// interceptors (NACK, RTCP reports, TWCC) and the configured network settings.
func NewAPI(cfg config.Common, opts ...Option) (*webrtc.API, error) {
	var o apiOptions
	for _, opt := range opts {
		opt(&o)
	}

	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg.WebRTC); err != nil {
		return nil, err
	}
	if o.net != nil {
		se.SetNet(o.net)
	}
	if o.loggerFactory != nil {
		se.LoggerFactory = o.loggerFactory
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.WebRTCConfig) error {
	if cfg.UDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortRange.Min, cfg.UDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.NAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.NAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost, "":
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.NAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.NAT1To1IPs, candidateType)
	}

	// There is no bind address setting; an IP filter restricts both gathering
	// and socket binding to the listen IP.
	if !config.IsUnspecifiedIP(cfg.UDPListenIP) {
		listenIP := cfg.UDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
