package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/finsight/reportstream/internal/userstore"
)

// Store implements userstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite user store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS api_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	prefix TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	allowed_models TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
CREATE TABLE IF NOT EXISTS provider_credentials (
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	secret TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, provider)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser finds or creates a user by email.
func (s *Store) EnsureUser(ctx context.Context, email, displayName string) (*userstore.User, error) {
	email = userstore.NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("email required")
	}
	if u, err := s.FindByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, userstore.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users(email, display_name, status, created_at, updated_at)
VALUES(?, ?, 'active', ?, ?)`, email, displayName, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &userstore.User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Status:      userstore.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FindByEmail looks up a user by email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, display_name, status, created_at, updated_at
FROM users WHERE email = ?`, userstore.NormalizeEmail(email))
	return scanUser(row)
}

// CreateAPIKey mints a key for the user and returns the one-time token.
func (s *Store) CreateAPIKey(ctx context.Context, userID int64, name string, allowedModels []string) (*userstore.APIKey, string, error) {
	if userID == 0 {
		return nil, "", errors.New("user id required")
	}
	token, prefix, hash, err := userstore.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(user_id, name, prefix, hash, allowed_models, created_at)
VALUES(?, ?, ?, ?, ?, ?)`, userID, name, prefix, hash, joinModels(allowedModels), now)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, "", err
	}
	return &userstore.APIKey{
		ID:            id,
		UserID:        userID,
		Name:          name,
		Prefix:        prefix,
		AllowedModels: allowedModels,
		CreatedAt:     now,
	}, token, nil
}

// ListAPIKeys returns the user's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]userstore.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, name, prefix, allowed_models, created_at, last_used_at
FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []userstore.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// LookupAPIKey resolves a presented token to its key and owning user, and
// touches last_used_at.
func (s *Store) LookupAPIKey(ctx context.Context, token string) (*userstore.APIKey, *userstore.User, error) {
	prefix, hash := userstore.DeriveAPIKeyLookup(token)
	if hash == "" {
		return nil, nil, userstore.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, name, prefix, allowed_models, created_at, last_used_at
FROM api_keys WHERE prefix = ? AND hash = ?`, prefix, hash)
	key, err := scanAPIKey(row)
	if err != nil {
		return nil, nil, err
	}

	row = s.db.QueryRowContext(ctx, `
SELECT id, email, display_name, status, created_at, updated_at
FROM users WHERE id = ?`, key.UserID)
	user, err := scanUser(row)
	if err != nil {
		return nil, nil, err
	}
	if user.Status != userstore.StatusActive {
		return nil, nil, userstore.ErrNotFound
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), key.ID)
	return key, user, nil
}

// DeleteAPIKey removes a key.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

// SetProviderCredential stores or replaces one provider secret for a user.
func (s *Store) SetProviderCredential(ctx context.Context, userID int64, provider, secret string) error {
	if userID == 0 || strings.TrimSpace(provider) == "" || strings.TrimSpace(secret) == "" {
		return errors.New("user id, provider and secret required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provider_credentials(user_id, provider, secret, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(user_id, provider) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`,
		userID, strings.ToLower(provider), secret, time.Now().UTC())
	return err
}

// ProviderCredentials returns the user's provider secrets keyed by provider.
func (s *Store) ProviderCredentials(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, secret FROM provider_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := make(map[string]string)
	for rows.Next() {
		var provider, secret string
		if err := rows.Scan(&provider, &secret); err != nil {
			return nil, err
		}
		creds[provider] = secret
	}
	return creds, rows.Err()
}

// DeleteProviderCredential removes one provider secret.
func (s *Store) DeleteProviderCredential(ctx context.Context, userID int64, provider string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM provider_credentials WHERE user_id = ? AND provider = ?`, userID, strings.ToLower(provider))
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (*userstore.User, error) {
	var u userstore.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanAPIKey(row rowScanner) (*userstore.APIKey, error) {
	var (
		k      userstore.APIKey
		models string
		last   sql.NullTime
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &models, &k.CreatedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.AllowedModels = splitModels(models)
	if last.Valid {
		t := last.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func joinModels(models []string) string {
	cleaned := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitModels(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
