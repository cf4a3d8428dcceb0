// Package userstore persists caller identities, the API keys they
// authenticate with, and their upstream provider credentials. Provider
// credentials are read once per request and handed to the registry; nothing
// in this package caches them.
package userstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const (
	apiKeyTokenPrefix  = "rs_"
	apiKeyPrefixLength = 11
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("userstore: not found")

// Status captures whether a user is active or suspended.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// User represents a caller identity.
type User struct {
	ID          int64
	Email       string
	DisplayName string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// APIKey is an inbound credential. Only the hash is stored; the token itself
// is shown once at creation. AllowedModels, when non-empty, restricts which
// models the key may stream.
type APIKey struct {
	ID            int64
	UserID        int64
	Name          string
	Prefix        string
	AllowedModels []string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
}

// ModelAllowed reports whether the key may use the model. An empty list
// allows everything.
func (k *APIKey) ModelAllowed(model string) bool {
	if len(k.AllowedModels) == 0 {
		return true
	}
	for _, m := range k.AllowedModels {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(model)) {
			return true
		}
	}
	return false
}

// Store persists users, API keys and provider credentials across the
// SQLite/Postgres backends.
type Store interface {
	EnsureUser(ctx context.Context, email, displayName string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	CreateAPIKey(ctx context.Context, userID int64, name string, allowedModels []string) (*APIKey, string, error)
	ListAPIKeys(ctx context.Context, userID int64) ([]APIKey, error)
	LookupAPIKey(ctx context.Context, token string) (*APIKey, *User, error)
	DeleteAPIKey(ctx context.Context, id int64) error

	SetProviderCredential(ctx context.Context, userID int64, provider, secret string) error
	ProviderCredentials(ctx context.Context, userID int64) (map[string]string, error)
	DeleteProviderCredential(ctx context.Context, userID int64, provider string) error

	Close() error
}

// GenerateAPIKey mints a token and its stored representation.
func GenerateAPIKey() (token, prefix, hash string, err error) {
	var buf [32]byte
	if _, err = rand.Read(buf[:]); err != nil {
		return "", "", "", err
	}
	token = apiKeyTokenPrefix + base64.RawURLEncoding.EncodeToString(buf[:])
	prefix = token[:apiKeyPrefixLength]
	sum := sha256.Sum256([]byte(token))
	hash = hex.EncodeToString(sum[:])
	return token, prefix, hash, nil
}

// DeriveAPIKeyLookup recomputes the stored prefix and hash for a presented
// token. Empty results mean the token cannot be one of ours.
func DeriveAPIKeyLookup(token string) (prefix, hash string) {
	if !strings.HasPrefix(token, apiKeyTokenPrefix) || len(token) <= apiKeyPrefixLength {
		return "", ""
	}
	sum := sha256.Sum256([]byte(token))
	return token[:apiKeyPrefixLength], hex.EncodeToString(sum[:])
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
