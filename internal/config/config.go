package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/reportstream.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RouteRule captures an ordered pattern => provider mapping while preserving
// declaration order.
type RouteRule struct {
	Pattern string
	Target  string
}

// ServiceConfig describes runtime options for the daemon.
type ServiceConfig struct {
	Environment string
	ListenAddr  string
	LogFile     string
	LogLevel    string
	// CORS origins allowed on the HTTP surface; empty means allow all.
	AllowedOrigins []string

	AuthDisabled bool
	AdminEmail   string

	// Ledger storage: sqlite path used unless a Postgres DSN is set.
	LedgerPath  string
	LedgerDSN   string
	IdentityDSN string
	// Identity storage follows the same rule.
	IdentityPath string

	// Provider credentials used when a user supplies none of their own.
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GoogleAPIKey     string
	GoogleBaseURL    string
	GroqAPIKey       string
	GroqBaseURL      string

	// Routing: ordered model-pattern => provider rules plus a default model.
	Routes       []RouteRule
	DefaultModel string

	// Compliance tuning. Zero values fall back to rule-set defaults.
	ArtifactDeltaBudget int
	QuestionMinLength   int
	LookaheadDeltas     int
	PatternFile         string

	// Optional pricing/metadata overlay for the model catalog.
	ModelCatalogFile string

	// Per-caller stream admission rate. Zero disables rate limiting.
	RateLimitPerMinute int
	RateLimitBurst     int

	// MetricsEnabled exposes the Prometheus endpoint when set.
	MetricsEnabled bool
}

// Load reads the current environment and the matching service config file.
func Load(root string) (ServiceConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServiceConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServiceConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServiceConfig{
		Environment:    s.Environment,
		ListenAddr:     firstNonEmpty(os.Getenv("REPORTSTREAM_LISTEN_ADDR"), merged["listen_addr"], ":8084"),
		LogFile:        firstNonEmpty(os.Getenv("REPORTSTREAM_LOG_FILE"), merged["log_file"]),
		LogLevel:       firstNonEmpty(merged["log_level"], "info"),
		AllowedOrigins: parseCSV(firstNonEmpty(os.Getenv("REPORTSTREAM_ALLOWED_ORIGINS"), merged["allowed_origins"])),
		AuthDisabled:   parseOptionalBool(firstNonEmpty(os.Getenv("REPORTSTREAM_AUTH_DISABLED"), merged["auth_disabled"]), true),
		AdminEmail:     firstNonEmpty(os.Getenv("REPORTSTREAM_ADMIN_EMAIL"), merged["admin_email"], "admin@local"),
		LedgerPath:     firstNonEmpty(os.Getenv("REPORTSTREAM_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:      firstNonEmpty(os.Getenv("REPORTSTREAM_LEDGER_DSN"), merged["ledger_dsn"]),
		IdentityPath:   firstNonEmpty(os.Getenv("REPORTSTREAM_IDENTITY_PATH"), merged["identity_path"], DefaultIdentityPath()),
		IdentityDSN:    firstNonEmpty(os.Getenv("REPORTSTREAM_IDENTITY_DSN"), merged["identity_dsn"]),
		DefaultModel:   firstNonEmpty(os.Getenv("REPORTSTREAM_DEFAULT_MODEL"), merged["default_model"], "claude-3-5-sonnet-20241022"),
		PatternFile:    firstNonEmpty(os.Getenv("REPORTSTREAM_PATTERN_FILE"), merged["pattern_file"]),
	}

	cfg.AnthropicAPIKey = firstNonEmpty(os.Getenv("REPORTSTREAM_ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), merged["anthropic_api_key"])
	cfg.AnthropicBaseURL = firstNonEmpty(os.Getenv("REPORTSTREAM_ANTHROPIC_BASE_URL"), merged["anthropic_base_url"])
	cfg.AnthropicVersion = firstNonEmpty(os.Getenv("REPORTSTREAM_ANTHROPIC_VERSION"), merged["anthropic_version"], "2023-06-01")
	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("REPORTSTREAM_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"])
	cfg.OpenAIBaseURL = firstNonEmpty(os.Getenv("REPORTSTREAM_OPENAI_BASE_URL"), merged["openai_base_url"])
	cfg.GoogleAPIKey = firstNonEmpty(os.Getenv("REPORTSTREAM_GOOGLE_API_KEY"), os.Getenv("GOOGLE_API_KEY"), merged["google_api_key"])
	cfg.GoogleBaseURL = firstNonEmpty(os.Getenv("REPORTSTREAM_GOOGLE_BASE_URL"), merged["google_base_url"])
	cfg.GroqAPIKey = firstNonEmpty(os.Getenv("REPORTSTREAM_GROQ_API_KEY"), os.Getenv("GROQ_API_KEY"), merged["groq_api_key"])
	cfg.GroqBaseURL = firstNonEmpty(os.Getenv("REPORTSTREAM_GROQ_BASE_URL"), merged["groq_base_url"])

	cfg.Routes = parseRouteList(firstNonEmpty(os.Getenv("REPORTSTREAM_ROUTES"), merged["routes"]))
	if len(cfg.Routes) == 0 {
		cfg.Routes = []RouteRule{
			{Pattern: "claude-*", Target: "anthropic"},
			{Pattern: "gpt-*", Target: "openai"},
			{Pattern: "o1-*", Target: "openai"},
			{Pattern: "chatgpt-*", Target: "openai"},
			{Pattern: "gemini-*", Target: "google"},
			{Pattern: "llama-*", Target: "groq"},
			{Pattern: "mixtral-*", Target: "groq"},
		}
	}

	cfg.ArtifactDeltaBudget = parseOptionalInt(firstNonEmpty(os.Getenv("REPORTSTREAM_ARTIFACT_DELTA_BUDGET"), merged["artifact_delta_budget"]), 0)
	cfg.QuestionMinLength = parseOptionalInt(firstNonEmpty(os.Getenv("REPORTSTREAM_QUESTION_MIN_LENGTH"), merged["question_min_length"]), 0)
	cfg.LookaheadDeltas = parseOptionalInt(firstNonEmpty(os.Getenv("REPORTSTREAM_LOOKAHEAD_DELTAS"), merged["lookahead_deltas"]), 0)
	cfg.ModelCatalogFile = firstNonEmpty(os.Getenv("REPORTSTREAM_MODEL_CATALOG_FILE"), merged["model_catalog_file"])

	cfg.RateLimitPerMinute = parseOptionalInt(firstNonEmpty(os.Getenv("REPORTSTREAM_RATE_LIMIT_PER_MINUTE"), merged["rate_limit_per_minute"]), 0)
	cfg.RateLimitBurst = parseOptionalInt(firstNonEmpty(os.Getenv("REPORTSTREAM_RATE_LIMIT_BURST"), merged["rate_limit_burst"]), 0)
	cfg.MetricsEnabled = parseOptionalBool(firstNonEmpty(os.Getenv("REPORTSTREAM_METRICS_ENABLED"), merged["metrics_enabled"]), false)

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseRouteList preserves ordering for pattern=>target rules (comma or
// newline separated). Both "claude-*=anthropic" and "claude-*=>anthropic"
// forms are accepted.
func parseRouteList(input string) []RouteRule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []RouteRule
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			pattern := strings.TrimSpace(kv[0])
			target := strings.TrimSpace(kv[1])
			if pattern == "" || target == "" {
				continue
			}
			rules = append(rules, RouteRule{Pattern: pattern, Target: target})
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// DefaultLedgerPath returns the fallback usage database location under the
// user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "usage.db"
	}
	return filepath.Join(home, ".reportstream", "usage.db")
}

// DefaultIdentityPath returns the fallback identity database path.
func DefaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "identity.db"
	}
	return filepath.Join(home, ".reportstream", "identity.db")
}
