package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var b64 = base64.RawURLEncoding

// SignHS256 builds a compact HS256 JWT for claims.
func SignHS256(claims map[string]interface{}, secret string) (string, error) {
	headerJSON, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := b64.EncodeToString(headerJSON) + "." + b64.EncodeToString(payloadJSON)
	return signing + "." + b64.EncodeToString(sign(signing, secret)), nil
}

func sign(signing, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return mac.Sum(nil)
}

// ValidateHS256 verifies an HS256 JWT and returns its claims.
// It checks:
// - signature (HS256) with secret
// - exp/nbf/iat when present
func ValidateHS256(token, secret string, now time.Time) (map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	headerJSON, err := b64.DecodeString(headerB64)
	if err != nil {
		return nil, errors.New("invalid header encoding")
	}
	var header map[string]interface{}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.New("invalid header json")
	}
	if alg, _ := header["alg"].(string); alg != "" && alg != "HS256" {
		return nil, errors.New("unsupported alg")
	}

	sig, err := b64.DecodeString(sigB64)
	if err != nil {
		return nil, errors.New("invalid signature encoding")
	}
	if !hmac.Equal(sig, sign(headerB64+"."+payloadB64, secret)) {
		return nil, errors.New("invalid signature")
	}

	payloadJSON, err := b64.DecodeString(payloadB64)
	if err != nil {
		return nil, errors.New("invalid payload encoding")
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, errors.New("invalid payload json")
	}

	nowSec := now.Unix()
	checks := []struct {
		key string
		ok  func(int64) bool
	}{
		{"nbf", func(sec int64) bool { return nowSec >= sec }},
		{"iat", func(sec int64) bool { return nowSec >= sec }},
		{"exp", func(sec int64) bool { return nowSec < sec }},
	}
	for _, c := range checks {
		if v, ok := claims[c.key].(float64); ok && !c.ok(int64(v)) {
			return nil, errors.New("token time constraint failed: " + c.key)
		}
	}
	return claims, nil
}
