package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/finsight/reportstream/internal/userstore"
)

// Store implements userstore.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed user store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
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
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS api_keys (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	prefix TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	allowed_models TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
CREATE TABLE IF NOT EXISTS provider_credentials (
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	secret TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users(email, display_name)
VALUES($1, $2)
ON CONFLICT(email) DO UPDATE SET updated_at = NOW()
RETURNING id, email, display_name, status, created_at, updated_at`, email, displayName)
	return scanUser(row)
}

// FindByEmail looks up a user by email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, display_name, status, created_at, updated_at
FROM users WHERE email = $1`, userstore.NormalizeEmail(email))
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
	var (
		key userstore.APIKey
	)
	err = s.db.QueryRowContext(ctx, `
INSERT INTO api_keys(user_id, name, prefix, hash, allowed_models)
VALUES($1, $2, $3, $4, $5)
RETURNING id, created_at`, userID, name, prefix, hash, pq.Array(normalizeModels(allowedModels))).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	key.UserID = userID
	key.Name = name
	key.Prefix = prefix
	key.AllowedModels = allowedModels
	return &key, token, nil
}

// ListAPIKeys returns the user's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]userstore.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, name, prefix, allowed_models, created_at, last_used_at
FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
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

// LookupAPIKey resolves a presented token to its key and owning user.
func (s *Store) LookupAPIKey(ctx context.Context, token string) (*userstore.APIKey, *userstore.User, error) {
	prefix, hash := userstore.DeriveAPIKeyLookup(token)
	if hash == "" {
		return nil, nil, userstore.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, name, prefix, allowed_models, created_at, last_used_at
FROM api_keys WHERE prefix = $1 AND hash = $2`, prefix, hash)
	key, err := scanAPIKey(row)
	if err != nil {
		return nil, nil, err
	}

	row = s.db.QueryRowContext(ctx, `
SELECT id, email, display_name, status, created_at, updated_at
FROM users WHERE id = $1`, key.UserID)
	user, err := scanUser(row)
	if err != nil {
		return nil, nil, err
	}
	if user.Status != userstore.StatusActive {
		return nil, nil, userstore.ErrNotFound
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, key.ID)
	return key, user, nil
}

// DeleteAPIKey removes a key.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	return err
}

// SetProviderCredential stores or replaces one provider secret for a user.
func (s *Store) SetProviderCredential(ctx context.Context, userID int64, provider, secret string) error {
	if userID == 0 || strings.TrimSpace(provider) == "" || strings.TrimSpace(secret) == "" {
		return errors.New("user id, provider and secret required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO provider_credentials(user_id, provider, secret, updated_at)
VALUES($1, $2, $3, NOW())
ON CONFLICT(user_id, provider) DO UPDATE SET secret = EXCLUDED.secret, updated_at = NOW()`,
		userID, strings.ToLower(provider), secret)
	return err
}

// ProviderCredentials returns the user's provider secrets keyed by provider.
func (s *Store) ProviderCredentials(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, secret FROM provider_credentials WHERE user_id = $1`, userID)
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
DELETE FROM provider_credentials WHERE user_id = $1 AND provider = $2`, userID, strings.ToLower(provider))
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
		models []string
		last   sql.NullTime
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, pq.Array(&models), &k.CreatedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.AllowedModels = models
	if last.Valid {
		t := last.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func normalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
