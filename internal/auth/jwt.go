package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoomClaims is the JWT payload accepted by the relay.
type RoomClaims struct {
	Room string `json:"room,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens. exp and nbf are enforced when present.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{secret: []byte(secret)}
}

func (v JWTVerifier) Verify(token string) (Claims, error) {
	if token == "" || len(v.secret) == 0 {
		return Claims{}, ErrInvalidCredentials
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}

	var claims RoomClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidCredentials
	}
	return Claims{Subject: claims.Subject, Room: claims.Room}, nil
}

// SignRoomToken issues an HS256 token for room (empty = any room), valid for
// ttl from now.
func SignRoomToken(secret, subject, room string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := RoomClaims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
