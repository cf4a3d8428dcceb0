// Command reportstream administers the service's identity and usage stores
// from the command line: API keys, provider credentials, and usage queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight/reportstream/internal/config"
	"github.com/finsight/reportstream/internal/ledger"
	ledgerpostgres "github.com/finsight/reportstream/internal/ledger/postgres"
	ledgersqlite "github.com/finsight/reportstream/internal/ledger/sqlite"
	"github.com/finsight/reportstream/internal/userstore"
	userstorepostgres "github.com/finsight/reportstream/internal/userstore/postgres"
	userstoresqlite "github.com/finsight/reportstream/internal/userstore/sqlite"
)

const usageText = `Usage: reportstream <command> [flags]

Commands:
  create-key      mint an API key for a user
  list-keys       list a user's API keys
  revoke-key      delete an API key by id
  set-credential  store an upstream provider secret for a user
  usage           show a user's usage summary and recent streams
`

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "create-key":
		err = runCreateKey(ctx, cfg, os.Args[2:])
	case "list-keys":
		err = runListKeys(ctx, cfg, os.Args[2:])
	case "revoke-key":
		err = runRevokeKey(ctx, cfg, os.Args[2:])
	case "set-credential":
		err = runSetCredential(ctx, cfg, os.Args[2:])
	case "usage":
		err = runUsage(ctx, cfg, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runCreateKey(ctx context.Context, cfg config.ServiceConfig, args []string) error {
	fs := flag.NewFlagSet("create-key", flag.ExitOnError)
	email := fs.String("email", cfg.AdminEmail, "owner email; the user is created if missing")
	name := fs.String("name", "default", "key label")
	models := fs.String("models", "", "comma separated model allowlist; empty allows all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.EnsureUser(ctx, *email, "")
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	key, token, err := store.CreateAPIKey(ctx, user.ID, *name, splitCSV(*models))
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	// The token is derivable from nothing we store; print it exactly once.
	fmt.Printf("key id=%d prefix=%s user=%s\n", key.ID, key.Prefix, user.Email)
	fmt.Printf("token: %s\n", token)
	return nil
}

func runListKeys(ctx context.Context, cfg config.ServiceConfig, args []string) error {
	fs := flag.NewFlagSet("list-keys", flag.ExitOnError)
	email := fs.String("email", cfg.AdminEmail, "owner email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.FindByEmail(ctx, *email)
	if err != nil {
		return fmt.Errorf("find user %s: %w", *email, err)
	}
	keys, err := store.ListAPIKeys(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tMODELS\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		models := "all"
		if len(k.AllowedModels) > 0 {
			models = strings.Join(k.AllowedModels, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.Prefix, models, k.CreatedAt.UTC().Format(time.RFC3339), lastUsed)
	}
	return tw.Flush()
}

func runRevokeKey(ctx context.Context, cfg config.ServiceConfig, args []string) error {
	fs := flag.NewFlagSet("revoke-key", flag.ExitOnError)
	id := fs.Int64("id", 0, "key id to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("missing -id")
	}

	store, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteAPIKey(ctx, *id); err != nil {
		return fmt.Errorf("delete key %d: %w", *id, err)
	}
	fmt.Printf("key %d revoked\n", *id)
	return nil
}

func runSetCredential(ctx context.Context, cfg config.ServiceConfig, args []string) error {
	fs := flag.NewFlagSet("set-credential", flag.ExitOnError)
	email := fs.String("email", cfg.AdminEmail, "owner email; the user is created if missing")
	provider := fs.String("provider", "", "provider name, e.g. anthropic or openai")
	secret := fs.String("secret", "", "provider API key; - reads from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*provider) == "" {
		return fmt.Errorf("missing -provider")
	}
	value := *secret
	if value == "-" {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return fmt.Errorf("read secret from stdin: %w", err)
		}
		value = line
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing -secret")
	}

	store, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.EnsureUser(ctx, *email, "")
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if err := store.SetProviderCredential(ctx, user.ID, *provider, value); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	fmt.Printf("credential stored provider=%s user=%s\n", strings.ToLower(*provider), user.Email)
	return nil
}

func runUsage(ctx context.Context, cfg config.ServiceConfig, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	email := fs.String("email", cfg.AdminEmail, "owner email")
	recent := fs.Int("recent", 10, "number of recent streams to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	identity, err := openIdentityStore(cfg)
	if err != nil {
		return err
	}
	defer identity.Close()

	user, err := identity.FindByEmail(ctx, *email)
	if err != nil {
		return fmt.Errorf("find user %s: %w", *email, err)
	}

	usage, err := openLedgerStore(cfg)
	if err != nil {
		return err
	}
	defer usage.Close()

	summary, err := usage.Summary(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	fmt.Printf("user=%s requests=%d input_tokens=%d output_tokens=%d fallbacks=%d\n",
		user.Email, summary.Requests, summary.InputTokens, summary.OutputTokens, summary.Fallbacks)

	if *recent <= 0 {
		return nil
	}
	entries, err := usage.ListRecent(ctx, user.ID, *recent)
	if err != nil {
		return fmt.Errorf("list recent: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tPROVIDER\tMODEL\tIN\tOUT\tFALLBACK")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Provider, e.Model,
			e.InputTokens, e.OutputTokens, e.Fallback)
	}
	return tw.Flush()
}

func openIdentityStore(cfg config.ServiceConfig) (userstore.Store, error) {
	if dsn := strings.TrimSpace(cfg.IdentityDSN); dsn != "" {
		return userstorepostgres.New(dsn)
	}
	return userstoresqlite.New(cfg.IdentityPath)
}

func openLedgerStore(cfg config.ServiceConfig) (ledger.Store, error) {
	if dsn := strings.TrimSpace(cfg.LedgerDSN); dsn != "" {
		return ledgerpostgres.New(dsn, 4, 2, time.Hour)
	}
	return ledgersqlite.New(cfg.LedgerPath)
}

func splitCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
