package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight/reportstream/internal/adapter"
	adapteranthropic "github.com/finsight/reportstream/internal/adapter/anthropic"
	adaptergoogle "github.com/finsight/reportstream/internal/adapter/google"
	adaptergroq "github.com/finsight/reportstream/internal/adapter/groq"
	adapteropenai "github.com/finsight/reportstream/internal/adapter/openai"
	"github.com/finsight/reportstream/internal/adapter/registry"
	"github.com/finsight/reportstream/internal/chat"
	"github.com/finsight/reportstream/internal/compliance"
	"github.com/finsight/reportstream/internal/config"
	"github.com/finsight/reportstream/internal/health"
	"github.com/finsight/reportstream/internal/httpserver"
	"github.com/finsight/reportstream/internal/ledger"
	ledgerasync "github.com/finsight/reportstream/internal/ledger/async"
	ledgerpostgres "github.com/finsight/reportstream/internal/ledger/postgres"
	ledgersqlite "github.com/finsight/reportstream/internal/ledger/sqlite"
	"github.com/finsight/reportstream/internal/logging"
	"github.com/finsight/reportstream/internal/metrics"
	"github.com/finsight/reportstream/internal/modelmeta"
	"github.com/finsight/reportstream/internal/orchestrator"
	"github.com/finsight/reportstream/internal/ratelimit"
	"github.com/finsight/reportstream/internal/userstore"
	userstorepostgres "github.com/finsight/reportstream/internal/userstore/postgres"
	userstoresqlite "github.com/finsight/reportstream/internal/userstore/sqlite"
	"github.com/finsight/reportstream/internal/version"
)

const requestTimeout = 120 * time.Second

func main() {
	// Local .env files are a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, logging.DefaultMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[reportstreamd] ")
		defer rot.Close()
	}
	log.Printf("reportstream %s starting env=%s", version.FullInfo(), cfg.Environment)

	identityStore, err := openIdentityStore(cfg)
	if err != nil {
		log.Fatalf("open identity store: %v", err)
	}
	defer identityStore.Close()

	admin, err := identityStore.EnsureUser(context.Background(), cfg.AdminEmail, "Administrator")
	if err != nil {
		log.Fatalf("ensure admin user: %v", err)
	}

	ledgerStore, err := openLedgerStore(cfg)
	if err != nil {
		log.Fatalf("open usage ledger: %v", err)
	}
	asyncLedger := ledgerasync.New(ledgerStore, ledgerasync.Config{
		Logger: log.New(log.Writer(), "[reportstreamd/ledger] ", log.LstdFlags),
	})
	defer asyncLedger.Close()

	reg := buildRegistry(cfg)

	catalog := modelmeta.NewCatalog()
	if path := strings.TrimSpace(cfg.ModelCatalogFile); path != "" {
		if n, err := catalog.Load(path); err != nil {
			log.Printf("model catalog overlay %s rejected: %v", path, err)
		} else {
			log.Printf("model catalog overlay applied entries=%d", n)
		}
	}

	tweaks := httpserver.RuleTweaks{
		ArtifactDeltaBudget: cfg.ArtifactDeltaBudget,
		QuestionMinLength:   cfg.QuestionMinLength,
		LookaheadDeltas:     cfg.LookaheadDeltas,
	}
	if path := strings.TrimSpace(cfg.PatternFile); path != "" {
		patterns, err := compliance.LoadPatterns(path)
		if err != nil {
			log.Fatalf("load pattern file %s: %v", path, err)
		}
		tweaks.Patterns = patterns
		log.Printf("compliance patterns loaded file=%s markers=%d questions=%d",
			path, len(patterns.ArtifactMarkers), len(patterns.QuestionPatterns))
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry: reg,
		Usage:    usageRecorder{store: asyncLedger},
		Cost:     catalog,
		Logger:   log.New(log.Writer(), "[reportstreamd/orch] ", log.LstdFlags|log.Lmicroseconds),
	})

	if cfg.AuthDisabled {
		log.Printf("authorization disabled: requests run with service credentials")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			PerMinute: cfg.RateLimitPerMinute,
			Burst:     cfg.RateLimitBurst,
		})
		log.Printf("rate limiting enabled per_minute=%d burst=%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	checker := health.NewChecker(0)
	checker.Register("identity", func(ctx context.Context) error {
		_, err := identityStore.FindByEmail(ctx, cfg.AdminEmail)
		return err
	})
	checker.Register("ledger", func(ctx context.Context) error {
		_, err := ledgerStore.Summary(ctx, admin.ID)
		return err
	})

	httpSrv := httpserver.New(httpserver.Config{
		Orchestrator:    orch,
		Identity:        identityStore,
		Ledger:          asyncLedger,
		Catalog:         catalog,
		Registry:        reg,
		AuthDisabled:    cfg.AuthDisabled,
		AnonymousUserID: admin.ID,
		DefaultCredentials: registry.Credentials{
			"anthropic": cfg.AnthropicAPIKey,
			"openai":    cfg.OpenAIAPIKey,
			"google":    cfg.GoogleAPIKey,
			"groq":      cfg.GroqAPIKey,
		},
		RuleTweaks:     tweaks,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        collector,
		Health:         checker,
		Logger:         log.New(log.Writer(), "[reportstreamd/http] ", log.LstdFlags|log.Lmicroseconds),
		LogLevel:       cfg.LogLevel,
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// Streams stay open well past a typical response; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("report stream server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openIdentityStore(cfg config.ServiceConfig) (userstore.Store, error) {
	if dsn := strings.TrimSpace(cfg.IdentityDSN); dsn != "" {
		return userstorepostgres.New(dsn)
	}
	return userstoresqlite.New(cfg.IdentityPath)
}

func openLedgerStore(cfg config.ServiceConfig) (ledger.Store, error) {
	if dsn := strings.TrimSpace(cfg.LedgerDSN); dsn != "" {
		return ledgerpostgres.New(dsn, 8, 4, time.Hour)
	}
	return ledgersqlite.New(cfg.LedgerPath)
}

func buildRegistry(cfg config.ServiceConfig) *registry.Registry {
	reg := registry.New()

	register := func(name string, factory registry.Factory) {
		if err := reg.RegisterProvider(name, factory); err != nil {
			log.Printf("provider %s rejected: %v", name, err)
		}
	}
	register("anthropic", func(secret string) (adapter.StreamingAdapter, error) {
		return adapteranthropic.New(adapteranthropic.Config{
			APIKey:         secret,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: requestTimeout,
		})
	})
	register("openai", func(secret string) (adapter.StreamingAdapter, error) {
		return adapteropenai.New(adapteropenai.Config{
			APIKey:         secret,
			BaseURL:        cfg.OpenAIBaseURL,
			RequestTimeout: requestTimeout,
		})
	})
	register("google", func(secret string) (adapter.StreamingAdapter, error) {
		return adaptergoogle.New(adaptergoogle.Config{
			APIKey:         secret,
			BaseURL:        cfg.GoogleBaseURL,
			RequestTimeout: requestTimeout,
		})
	})
	register("groq", func(secret string) (adapter.StreamingAdapter, error) {
		return adaptergroq.New(adaptergroq.Config{
			APIKey:         secret,
			BaseURL:        cfg.GroqBaseURL,
			RequestTimeout: requestTimeout,
		})
	})

	for _, rule := range cfg.Routes {
		if err := reg.RegisterRoute(rule.Pattern, rule.Target); err != nil {
			log.Printf("route rule %q=>%q rejected: %v", rule.Pattern, rule.Target, err)
		}
	}
	reg.SetDefaultModel(cfg.DefaultModel)

	log.Printf("providers registered: %v", reg.ListProviders())
	log.Printf("routes configured: %v", reg.ListRoutes())
	return reg
}

// usageRecorder adapts the ledger to the orchestrator's fire-and-forget
// recording contract.
type usageRecorder struct {
	store ledger.Store
}

func (u usageRecorder) RecordUsage(userID int64, provider, model string, usage chat.UsageReport, fallback bool) {
	_ = u.store.Record(context.Background(), ledger.Entry{
		UserID:       userID,
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Fallback:     fallback,
		CreatedAt:    time.Now().UTC(),
	})
}
