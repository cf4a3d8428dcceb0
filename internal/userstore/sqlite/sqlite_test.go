package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/finsight/reportstream/internal/userstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "  Alice@Example.COM ", "Alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Status != userstore.StatusActive {
		t.Fatalf("new users start active: %+v", u)
	}

	again, err := s.EnsureUser(ctx, "alice@example.com", "ignored")
	if err != nil {
		t.Fatalf("EnsureUser second call: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("EnsureUser must be idempotent: %d vs %d", again.ID, u.ID)
	}

	if _, err := s.EnsureUser(ctx, "   ", ""); err == nil {
		t.Fatalf("blank email must fail")
	}
}

func TestFindByEmailNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindByEmail(context.Background(), "missing@example.com")
	if !errors.Is(err, userstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	key, token, err := s.CreateAPIKey(ctx, u.ID, "laptop", []string{"claude-3-5-sonnet-20241022", " gpt-4o "})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(token, "rs_") {
		t.Fatalf("token missing prefix: %q", token)
	}
	if key.Prefix != token[:len(key.Prefix)] {
		t.Fatalf("stored prefix must match token: %q vs %q", key.Prefix, token)
	}

	gotKey, gotUser, err := s.LookupAPIKey(ctx, token)
	if err != nil {
		t.Fatalf("LookupAPIKey: %v", err)
	}
	if gotUser.ID != u.ID || gotKey.ID != key.ID {
		t.Fatalf("lookup resolved the wrong records: %+v %+v", gotKey, gotUser)
	}
	if len(gotKey.AllowedModels) != 2 {
		t.Fatalf("allowed models lost: %+v", gotKey.AllowedModels)
	}
	if !gotKey.ModelAllowed("GPT-4O") {
		t.Fatalf("model matching must be case insensitive")
	}
	if gotKey.ModelAllowed("gemini-1.5-pro") {
		t.Fatalf("unlisted model must be rejected")
	}

	keys, err := s.ListAPIKeys(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "laptop" {
		t.Fatalf("key listing wrong: %+v", keys)
	}

	if err := s.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, _, err := s.LookupAPIKey(ctx, token); !errors.Is(err, userstore.ErrNotFound) {
		t.Fatalf("deleted key must not resolve, got %v", err)
	}
}

func TestLookupAPIKeyRejectsForeignTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cases := []string{"", "sk-openai-shaped", "rs_", "rs_short"}
	for _, token := range cases {
		if _, _, err := s.LookupAPIKey(ctx, token); !errors.Is(err, userstore.ErrNotFound) {
			t.Fatalf("token %q must yield ErrNotFound, got %v", token, err)
		}
	}
}

func TestProviderCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "carol@example.com", "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	if err := s.SetProviderCredential(ctx, u.ID, "Anthropic", "sk-ant-1"); err != nil {
		t.Fatalf("SetProviderCredential: %v", err)
	}
	if err := s.SetProviderCredential(ctx, u.ID, "openai", "sk-oai-1"); err != nil {
		t.Fatalf("SetProviderCredential: %v", err)
	}
	// Same provider again replaces the secret.
	if err := s.SetProviderCredential(ctx, u.ID, "anthropic", "sk-ant-2"); err != nil {
		t.Fatalf("SetProviderCredential upsert: %v", err)
	}

	creds, err := s.ProviderCredentials(ctx, u.ID)
	if err != nil {
		t.Fatalf("ProviderCredentials: %v", err)
	}
	if len(creds) != 2 || creds["anthropic"] != "sk-ant-2" || creds["openai"] != "sk-oai-1" {
		t.Fatalf("credential map wrong: %+v", creds)
	}

	if err := s.DeleteProviderCredential(ctx, u.ID, "ANTHROPIC"); err != nil {
		t.Fatalf("DeleteProviderCredential: %v", err)
	}
	creds, err = s.ProviderCredentials(ctx, u.ID)
	if err != nil {
		t.Fatalf("ProviderCredentials: %v", err)
	}
	if _, ok := creds["anthropic"]; ok {
		t.Fatalf("credential not deleted: %+v", creds)
	}

	if err := s.SetProviderCredential(ctx, u.ID, "anthropic", "  "); err == nil {
		t.Fatalf("blank secret must fail")
	}
}
