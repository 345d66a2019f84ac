// Package livekit issues LiveKit access tokens so patients and nurses can join
// the audio monitoring room for a bed.
package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

var ErrNotConfigured = errors.New("livekit not configured")

// VideoGrant mirrors the "video" claim LiveKit servers read from an access
// token.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

type claims struct {
	Issuer    string     `json:"iss"`
	Subject   string     `json:"sub"`
	ID        string     `json:"jti"`
	Name      string     `json:"name,omitempty"`
	NotBefore int64      `json:"nbf"`
	IssuedAt  int64      `json:"iat"`
	Expiry    int64      `json:"exp"`
	Video     VideoGrant `json:"video"`
}

type Issuer struct {
	url    string
	key    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer even when cfg is incomplete; Issue then fails
// with ErrNotConfigured so callers can report it per request.
func NewIssuer(cfg config.LiveKitConfig) *Issuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultLiveKitTokenTTL
	}
	return &Issuer{
		url:    cfg.URL,
		key:    cfg.APIKey,
		secret: []byte(cfg.APISecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *Issuer) Configured() bool {
	return i != nil && i.url != "" && i.key != "" && len(i.secret) > 0
}

// URL is the LiveKit server address clients should connect to.
func (i *Issuer) URL() string { return i.url }

// Issue mints a token letting identity join room with publish, subscribe and
// data permissions.
func (i *Issuer) Issue(room, identity string) (string, error) {
	if !i.Configured() {
		return "", ErrNotConfigured
	}
	if room == "" || identity == "" {
		return "", errors.New("room and identity are required")
	}

	allow := true
	now := i.now()
	token, err := auth.SignHS256(i.secret, claims{
		Issuer:    i.key,
		Subject:   identity,
		ID:        identity,
		Name:      identity,
		NotBefore: now.Unix(),
		IssuedAt:  now.Unix(),
		Expiry:    now.Add(i.ttl).Unix(),
		Video: VideoGrant{
			RoomJoin:       true,
			Room:           room,
			CanPublish:     &allow,
			CanSubscribe:   &allow,
			CanPublishData: &allow,
		},
	})
	if err != nil {
		return "", fmt.Errorf("sign livekit token: %w", err)
	}
	return token, nil
}
