package auth

import (
	"bytes"
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	hmacSHA256SigLen = 32
	// 32 bytes in unpadded base64url.
	hmacSHA256SigB64Len = 43
	maxJWTHeaderB64Len  = 4 * 1024
	maxJWTPayloadB64Len = 16 * 1024
	maxJWTLen           = maxJWTHeaderB64Len + 1 + maxJWTPayloadB64Len + 1 + hmacSHA256SigB64Len
)

// Claims are the registered claims the relay inspects. Subject, when set, is
// the only participant id the socket may register as. Role is a private claim
// naming the participant role ("patient" or "nurse") the token was issued for.
type Claims struct {
	Subject string
	Role    string
	Exp     int64
	Iat     int64
}

type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (v JWTVerifier) Verify(token string) error {
	_, err := v.VerifyClaims(token)
	return err
}

// VerifyClaims checks the HS256 signature and the exp/nbf window, and returns
// the token's claims. exp and iat are required.
func (v JWTVerifier) VerifyClaims(token string) (Claims, error) {
	headerB64, payloadB64, sigB64, ok := splitJWTParts(token)
	if !ok {
		return Claims{}, ErrInvalidCredentials
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	var header struct {
		Alg *string         `json:"alg"`
		Typ json.RawMessage `json:"typ"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg == nil {
		return Claims{}, ErrInvalidCredentials
	}
	if *header.Alg != "HS256" {
		return Claims{}, ErrUnsupportedJWT
	}
	if len(header.Typ) > 0 {
		var typ string
		if err := json.Unmarshal(header.Typ, &typ); err != nil {
			return Claims{}, ErrInvalidCredentials
		}
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil || len(gotSig) != hmacSHA256SigLen {
		return Claims{}, ErrInvalidCredentials
	}
	if !hmac.Equal(gotSig, signHS256(v.secret, headerB64+"."+payloadB64)) {
		return Claims{}, ErrInvalidCredentials
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	// Exactly one JSON object.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Claims{}, ErrInvalidCredentials
	}

	now := v.now().Unix()

	exp, err := requiredUnix(raw, "exp")
	if err != nil || now >= exp {
		return Claims{}, ErrInvalidCredentials
	}
	iat, err := requiredUnix(raw, "iat")
	if err != nil {
		return Claims{}, ErrInvalidCredentials
	}
	if _, ok := raw["nbf"]; ok {
		nbf, err := requiredUnix(raw, "nbf")
		if err != nil || now < nbf {
			return Claims{}, ErrInvalidCredentials
		}
	}

	sub, err := optionalString(raw, "sub")
	if err != nil {
		return Claims{}, err
	}
	role, err := optionalString(raw, "role")
	if err != nil {
		return Claims{}, err
	}
	return Claims{Subject: sub, Role: role, Exp: exp, Iat: iat}, nil
}

func requiredUnix(claims map[string]any, key string) (int64, error) {
	v, ok := claims[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("invalid %s timestamp %T", key, v)
	}
	return n.Int64()
}

func optionalString(claims map[string]any, key string) (string, error) {
	v, ok := claims[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrInvalidCredentials
	}
	return s, nil
}

func splitJWTParts(token string) (headerB64, payloadB64, sigB64 string, ok bool) {
	if token == "" || len(token) > maxJWTLen {
		return "", "", "", false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	headerB64, payloadB64, sigB64 = parts[0], parts[1], parts[2]
	if len(sigB64) != hmacSHA256SigB64Len {
		return "", "", "", false
	}
	if !isBase64urlNoPad(headerB64, maxJWTHeaderB64Len) ||
		!isBase64urlNoPad(payloadB64, maxJWTPayloadB64Len) ||
		!isBase64urlNoPad(sigB64, hmacSHA256SigB64Len) {
		return "", "", "", false
	}
	return headerB64, payloadB64, sigB64, true
}

// isBase64urlNoPad accepts only canonical unpadded base64url: the unused low
// bits of the final quantum must be zero.
func isBase64urlNoPad(raw string, maxLen int) bool {
	if raw == "" || len(raw) > maxLen || len(raw)%4 == 1 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if _, ok := b64urlValue(raw[i]); !ok {
			return false
		}
	}
	last, _ := b64urlValue(raw[len(raw)-1])
	switch len(raw) % 4 {
	case 2:
		return last&0x0f == 0
	case 3:
		return last&0x03 == 0
	default:
		return true
	}
}

func b64urlValue(b byte) (byte, bool) {
	switch {
	case b >= 'A' && b <= 'Z':
		return b - 'A', true
	case b >= 'a' && b <= 'z':
		return b - 'a' + 26, true
	case b >= '0' && b <= '9':
		return b - '0' + 52, true
	case b == '-':
		return 62, true
	case b == '_':
		return 63, true
	default:
		return 0, false
	}
}
