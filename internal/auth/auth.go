package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoomMismatch is returned when a credential scoped to one room is
	// used to join another.
	ErrRoomMismatch = errors.New("credential not valid for room")
)

// Claims is what a verified credential grants.
type Claims struct {
	Subject string
	// Room restricts the credential to a single room when non-empty.
	Room string
}

// AllowsRoom reports whether the claims permit joining room.
func (c Claims) AllowsRoom(room string) error {
	if c.Room != "" && c.Room != room {
		return fmt.Errorf("%w: %q", ErrRoomMismatch, room)
	}
	return nil
}

type Verifier interface {
	Verify(credential string) (Claims, error)
}

func NewVerifier(cfg config.Relay) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return NoneVerifier{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// NoneVerifier accepts every connection.
type NoneVerifier struct{}

func (NoneVerifier) Verify(string) (Claims, error) {
	return Claims{}, nil
}

// CredentialFromQuery reads ?apiKey= or ?token=. Each mode prefers its own
// parameter but accepts the other as an alias.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		return firstNonEmpty(q.Get("apiKey"), q.Get("token"))
	case config.AuthModeJWT:
		return firstNonEmpty(q.Get("token"), q.Get("apiKey"))
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// CredentialFromRequest checks the query string first, then the
// Authorization (Bearer or ApiKey) and X-API-Key headers.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	cred, err := CredentialFromQuery(mode, r.URL.Query())
	if err == nil || !errors.Is(err, ErrMissingCredentials) {
		return cred, err
	}

	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v, nil
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok {
		switch strings.ToLower(scheme) {
		case "bearer", "apikey":
			if v := strings.TrimSpace(value); v != "" {
				return v, nil
			}
		}
	}
	return "", ErrMissingCredentials
}

func firstNonEmpty(values ...string) (string, error) {
	for _, v := range values {
		if v != "" {
			return v, nil
		}
	}
	return "", ErrMissingCredentials
}
