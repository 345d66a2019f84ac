// Package turnrest mints short-lived coturn TURN REST credentials for the ICE
// server list handed to patient and nurse browsers.
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
	newSessionID   func() string
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// SessionIDSource defaults to a random UUID without dashes.
	SessionIDSource func() string
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionIDSource == nil {
		cfg.SessionIDSource = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		newSessionID:   cfg.SessionIDSource,
	}, nil
}

// NewGeneratorFromConfig returns nil, nil when TURN REST is not configured.
func NewGeneratorFromConfig(cfg config.TurnRESTConfig) (*Generator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewGenerator(GeneratorConfig{
		SharedSecret:   cfg.SharedSecret,
		TTLSeconds:     cfg.TTLSeconds,
		UsernamePrefix: cfg.UsernamePrefix,
	})
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials bound to sessionID, which may be a participant
// identifier.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("sessionID is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("sessionID must not contain ':'")
	}
	expiry := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiry, g.usernamePrefix, sessionID)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiry,
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.newSessionID())
}

// Apply returns a copy of servers with creds set on every TURN entry. STUN
// entries are passed through unchanged.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.IsTURNServer(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
