package auth

import "crypto/subtle"

type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (Claims, error) {
	if apiKey == "" || v.Expected == "" {
		return Claims{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return Claims{}, ErrInvalidCredentials
	}
	return Claims{}, nil
}
