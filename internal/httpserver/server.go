// Package httpserver exposes the report streaming service over REST.
package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finsight/reportstream/internal/adapter/registry"
	"github.com/finsight/reportstream/internal/compliance"
	"github.com/finsight/reportstream/internal/health"
	"github.com/finsight/reportstream/internal/ledger"
	"github.com/finsight/reportstream/internal/metrics"
	"github.com/finsight/reportstream/internal/modelmeta"
	"github.com/finsight/reportstream/internal/orchestrator"
	"github.com/finsight/reportstream/internal/ratelimit"
	"github.com/finsight/reportstream/internal/userstore"
	"github.com/finsight/reportstream/internal/version"
)

// RuleTweaks overrides compliance thresholds and phrase lists service-wide.
// Zero values leave the built-in defaults in place.
type RuleTweaks struct {
	ArtifactDeltaBudget int
	QuestionMinLength   int
	LookaheadDeltas     int
	Patterns            compliance.PatternFile
}

func (t RuleTweaks) empty() bool {
	return t.ArtifactDeltaBudget == 0 && t.QuestionMinLength == 0 && t.LookaheadDeltas == 0 &&
		len(t.Patterns.ArtifactMarkers) == 0 && len(t.Patterns.QuestionPatterns) == 0
}

// Server exposes REST endpoints for the report stream service.
type Server struct {
	orch     *orchestrator.Orchestrator
	identity userstore.Store
	ledger   ledger.Store
	catalog  *modelmeta.Catalog
	registry *registry.Registry

	authDisabled bool
	// anonUserID attributes unauthenticated usage when auth is disabled.
	anonUserID int64
	// defaultCreds backs requests from users without stored credentials.
	defaultCreds   registry.Credentials
	tweaks         RuleTweaks
	allowedOrigins []string

	limiter *ratelimit.Limiter
	stats   *metrics.Collector
	checker *health.Checker

	logger   *log.Logger
	logLevel string
}

// Config wires a Server.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Identity     userstore.Store
	Ledger       ledger.Store
	Catalog      *modelmeta.Catalog
	Registry     *registry.Registry

	AuthDisabled       bool
	AnonymousUserID    int64
	DefaultCredentials registry.Credentials
	RuleTweaks         RuleTweaks
	AllowedOrigins     []string

	// Limiter, Metrics, and Health are optional; nil disables the feature.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Collector
	Health  *health.Checker

	Logger   *log.Logger
	LogLevel string
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	return &Server{
		orch:           cfg.Orchestrator,
		identity:       cfg.Identity,
		ledger:         cfg.Ledger,
		catalog:        cfg.Catalog,
		registry:       cfg.Registry,
		authDisabled:   cfg.AuthDisabled,
		anonUserID:     cfg.AnonymousUserID,
		defaultCreds:   cfg.DefaultCredentials,
		tweaks:         cfg.RuleTweaks,
		allowedOrigins: cfg.AllowedOrigins,
		limiter:        cfg.Limiter,
		stats:          cfg.Metrics,
		checker:        cfg.Health,
		logger:         cfg.Logger,
		logLevel:       cfg.LogLevel,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))

	r.Get("/healthz", s.handleHealth)
	if s.stats != nil {
		r.Get("/metrics", s.handleMetrics)
	}
	r.Route("/v1", func(api chi.Router) {
		api.Post("/reports/stream", s.handleReportStream)
		api.Post("/reports", s.handleReport)
		api.Get("/models", s.handleModels)
		api.Get("/usage", s.handleUsage)
	})
	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}
}

// authenticate resolves the caller's identity from the Authorization header.
// With auth disabled it returns a nil user and nil key, which the handlers
// treat as an anonymous caller with the service-level credentials.
func (s *Server) authenticate(r *http.Request) (*userstore.User, *userstore.APIKey, error) {
	if s.authDisabled {
		return nil, nil, nil
	}
	if s.identity == nil {
		return nil, nil, errors.New("identity store unavailable")
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	if token == "" {
		return nil, nil, errors.New("missing api key")
	}
	key, user, err := s.identity.LookupAPIKey(r.Context(), token)
	if err != nil {
		return nil, nil, errors.New("invalid api key")
	}
	if key == nil || user == nil || user.Status != userstore.StatusActive {
		return nil, nil, errors.New("invalid api key")
	}
	return user, key, nil
}

// credentialsFor merges the user's stored provider secrets over the service
// defaults. Looked up once per request; the streaming path never touches the
// identity store again.
func (s *Server) credentialsFor(r *http.Request, user *userstore.User) registry.Credentials {
	creds := make(registry.Credentials, len(s.defaultCreds))
	for k, v := range s.defaultCreds {
		creds[k] = v
	}
	if user != nil && s.identity != nil {
		if stored, err := s.identity.ProviderCredentials(r.Context(), user.ID); err == nil {
			for k, v := range stored {
				creds[k] = v
			}
		}
	}
	return creds
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"version": version.Info(),
	}
	status := http.StatusOK
	if s.checker != nil {
		report := s.checker.Check(r.Context())
		payload["status"] = string(report.Status)
		payload["components"] = report.Components
		if report.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.stats.GetSnapshot())))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
