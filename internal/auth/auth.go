// Package auth gates the signaling socket and the REST API behind an optional
// shared API key or HS256 JWT.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

var ErrMissingCredentials = errors.New("missing credentials")

type Verifier interface {
	Verify(credential string) error
}

// ClaimsVerifier is implemented by verifiers whose credentials carry claims.
type ClaimsVerifier interface {
	VerifyClaims(credential string) (Claims, error)
}

// AllowAll accepts every credential, including the empty one.
type AllowAll struct{}

func (AllowAll) Verify(string) error { return nil }

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone, "":
		return AllowAll{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromQuery reads the apiKey or token query parameter, preferring
// the one that matches mode.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	apiKey, token := q.Get("apiKey"), q.Get("token")
	switch mode {
	case config.AuthModeNone, "":
		return "", nil
	case config.AuthModeAPIKey:
		if apiKey != "" {
			return apiKey, nil
		}
		if token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if token != "" {
			return token, nil
		}
		if apiKey != "" {
			return apiKey, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// CredentialFromRequest checks the Authorization and X-API-Key headers before
// falling back to the query string. Browsers cannot set headers on a WebSocket
// handshake, so the query form stays supported for /ws.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if disabled(mode) {
		return "", nil
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, value, ok := strings.Cut(authz, " ")
		value = strings.TrimSpace(value)
		if ok && value != "" {
			switch strings.ToLower(scheme) {
			case "bearer", "apikey":
				return value, nil
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, nil
	}
	return CredentialFromQuery(mode, r.URL.Query())
}

// Authenticate extracts and verifies the request's credential.
func Authenticate(mode config.AuthMode, v Verifier, r *http.Request) error {
	_, err := AuthenticateClaims(mode, v, r)
	return err
}

// AuthenticateClaims is Authenticate for callers that bind the credential's
// claims to what the caller may do. Credentials without claims, and the none
// mode, yield zero Claims.
func AuthenticateClaims(mode config.AuthMode, v Verifier, r *http.Request) (Claims, error) {
	if disabled(mode) {
		return Claims{}, nil
	}
	cred, err := CredentialFromRequest(mode, r)
	if err != nil {
		return Claims{}, err
	}
	if cv, ok := v.(ClaimsVerifier); ok {
		return cv.VerifyClaims(cred)
	}
	return Claims{}, v.Verify(cred)
}

// disabled reports whether mode skips authentication. The zero mode behaves
// like none, matching NewVerifier.
func disabled(mode config.AuthMode) bool {
	return mode == config.AuthModeNone || mode == ""
}
