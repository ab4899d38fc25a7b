// Package turnrest mints coturn-compatible time-limited TURN credentials
// (the "TURN REST API" scheme, use-auth-secret in coturn):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
)

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	Now       func() time.Time
	SessionID func() string
}

type Generator struct {
	secret    []byte
	ttl       int64
	prefix    string
	now       func() time.Time
	sessionID func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("shared secret is required")
	case cfg.TTLSeconds <= 0:
		return nil, errors.New("TTLSeconds must be > 0")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("UsernamePrefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionID == nil {
		cfg.SessionID = uuid.NewString
	}
	return &Generator{
		secret:    []byte(cfg.SharedSecret),
		ttl:       cfg.TTLSeconds,
		prefix:    cfg.UsernamePrefix,
		now:       cfg.Now,
		sessionID: cfg.SessionID,
	}, nil
}

// FromConfig returns nil when TURN REST is disabled.
func FromConfig(cfg config.TurnRESTConfig) (*Generator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewGenerator(GeneratorConfig{
		SharedSecret:   cfg.SharedSecret,
		TTLSeconds:     cfg.TTLSeconds,
		UsernamePrefix: cfg.UsernamePrefix,
	})
}

func (g *Generator) TTL() time.Duration {
	return time.Duration(g.ttl) * time.Second
}

func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("sessionID is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("sessionID must not contain ':'")
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + g.prefix + ":" + sessionID
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		ExpiryUnix: expiry,
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.sessionID())
}

// Apply returns a copy of servers with fresh credentials on every entry that
// lists a TURN URL. STUN-only entries are unchanged.
func (g *Generator) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)

	var creds *Credentials
	for i, server := range out {
		if !hasTURNURL(server) {
			continue
		}
		if creds == nil {
			c, err := g.GenerateRandom()
			if err != nil {
				return nil, fmt.Errorf("turn rest credentials: %w", err)
			}
			creds = &c
		}
		out[i].Username = creds.Username
		out[i].Credential = creds.Credential
	}
	return out, nil
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, u := range server.URLs {
		if config.IsTURNURL(u) {
			return true
		}
	}
	return false
}

func Sign(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
