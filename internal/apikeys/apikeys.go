// Package apikeys generates and hashes enterprise API keys.
package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix marks a bearer token as an API key rather than a session JWT.
const Prefix = "vbk_"

const (
	secretBytes   = 32
	displayPrefix = len(Prefix) + 8
)

// Generate returns a new raw key and the short prefix shown to operators.
// The raw key is shown once and never stored.
func Generate() (raw, display string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = Prefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, raw[:displayPrefix], nil
}

// Hash is the lookup value persisted for a key.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// Looks reports whether a bearer token carries the API key prefix.
func Looks(token string) bool {
	return strings.HasPrefix(strings.TrimSpace(token), Prefix)
}
