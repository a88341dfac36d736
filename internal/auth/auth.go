// Package auth validates the credentials webhook sources present.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

var (
	// ErrMissingKey means no API key was presented.
	ErrMissingKey = eris.New("auth: missing api key")
	// ErrUnknownSource means the source does not exist or is disabled.
	ErrUnknownSource = eris.New("auth: unknown source")
	// ErrInvalidKey means the key does not match the source.
	ErrInvalidKey = eris.New("auth: invalid api key")
)

// SourceGetter looks up webhook sources.
type SourceGetter interface {
	GetSource(ctx context.Context, sourceID string) (*model.Source, error)
}

// Authenticator checks (source, key) pairs.
type Authenticator struct {
	sources SourceGetter
}

// New creates an Authenticator backed by sources.
func New(sources SourceGetter) *Authenticator {
	return &Authenticator{sources: sources}
}

// Authenticate returns the source when apiKey is its key. The checks run in
// a fixed order: missing key, unknown or inactive source, wrong key.
func (a *Authenticator) Authenticate(ctx context.Context, sourceID, apiKey string) (*model.Source, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingKey
	}

	src, err := a.sources.GetSource(ctx, sourceID)
	if store.IsNotFound(err) {
		return nil, ErrUnknownSource
	}
	if err != nil {
		return nil, eris.Wrapf(err, "auth: load source %s", sourceID)
	}
	if !src.Active {
		return nil, ErrUnknownSource
	}

	if !KeyMatches(src.APIKeyHash, apiKey) {
		return nil, ErrInvalidKey
	}
	return src, nil
}

// HashKey returns the stored form of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyMatches compares a presented key against a stored hash in constant time.
func KeyMatches(storedHash, key string) bool {
	got := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// GenerateKey returns a fresh random API key.
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "auth: generate key")
	}
	return "lk_" + hex.EncodeToString(buf), nil
}
