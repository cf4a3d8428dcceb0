package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/finsight/reportstream/internal/adapter/registry"
	"github.com/finsight/reportstream/internal/chat"
	"github.com/finsight/reportstream/internal/compliance"
	"github.com/finsight/reportstream/internal/ledger"
	"github.com/finsight/reportstream/internal/orchestrator"
	"github.com/finsight/reportstream/internal/sse"
	"github.com/finsight/reportstream/internal/userstore"
)

// reportRequest is the wire shape of a report invocation. Mode is a pointer
// so an omitted mode can default to the strict profile instead of zero flags.
type reportRequest struct {
	Messages      []chat.Message `json:"messages"`
	Model         string         `json:"model,omitempty"`
	SystemPrompt  string         `json:"systemPrompt,omitempty"`
	Mode          *chat.Mode     `json:"mode,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (rr reportRequest) toChatRequest() chat.Request {
	mode := chat.Mode{RequireArtifact: true, RequireNoQuestions: true}
	if rr.Mode != nil {
		mode = *rr.Mode
	}
	correlationID := rr.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return chat.Request{
		Messages:      rr.Messages,
		Model:         rr.Model,
		SystemPrompt:  rr.SystemPrompt,
		Mode:          mode,
		CorrelationID: correlationID,
	}
}

// handleReportStream runs one streaming invocation over SSE.
func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user, key, err := s.authenticate(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, err)
		return
	}
	if !s.admit(w, s.callerID(user)) {
		return
	}

	var rr reportRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req := rr.toChatRequest()

	model := req.Model
	if model == "" {
		model = s.registry.DefaultModel()
	}
	if key != nil && !key.ModelAllowed(model) {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("model %s not allowed for this key", model))
		return
	}

	inv := orchestrator.Invocation{
		Request:     req,
		Credentials: s.credentialsFor(r, user),
		UserID:      s.callerID(user),
		Rules:       s.rulesOverride(req.Mode),
	}

	// Resolution problems surface before any SSE bytes are written, so the
	// writer is only opened here; its headers commit the response.
	writer := sse.NewWriter(w)
	result, err := s.orch.Stream(r.Context(), inv, writer)
	if err != nil {
		s.respondError(w, statusForStreamError(err), err)
		return
	}
	s.recordResult(result)

	s.logf("report.stream state=%s model=%s provider=%s fallback=%t estimated=%t tokens_in=%d tokens_out=%d total_ms=%d",
		result.State, result.Model, result.Provider, result.Fallback, result.UsageEstimated,
		result.Usage.InputTokens, result.Usage.OutputTokens, time.Since(start).Milliseconds())
}

// handleReport runs the same invocation but buffers the outcome into one JSON
// response instead of an event stream.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	user, key, err := s.authenticate(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, err)
		return
	}
	if !s.admit(w, s.callerID(user)) {
		return
	}

	var rr reportRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req := rr.toChatRequest()

	model := req.Model
	if model == "" {
		model = s.registry.DefaultModel()
	}
	if key != nil && !key.ModelAllowed(model) {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("model %s not allowed for this key", model))
		return
	}

	inv := orchestrator.Invocation{
		Request:     req,
		Credentials: s.credentialsFor(r, user),
		UserID:      s.callerID(user),
		Rules:       s.rulesOverride(req.Mode),
	}

	result, err := s.orch.Stream(r.Context(), inv, discardWriter{})
	if err != nil {
		s.respondError(w, statusForStreamError(err), err)
		return
	}
	s.recordResult(result)
	if result.State == orchestrator.StateFailed {
		s.respondError(w, http.StatusBadGateway, errors.New("report generation failed"))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"state":         result.State,
		"model":         result.Model,
		"provider":      result.Provider,
		"fallback":      result.Fallback,
		"report":        result.Text,
		"correlationId": req.CorrelationID,
		"usage": map[string]any{
			"input_tokens":  result.Usage.InputTokens,
			"output_tokens": result.Usage.OutputTokens,
			"estimated":     result.UsageEstimated,
		},
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.authenticate(r); err != nil {
		s.respondError(w, http.StatusUnauthorized, err)
		return
	}
	payload := map[string]any{
		"default_model": s.registry.DefaultModel(),
		"providers":     s.registry.ListProviders(),
	}
	if s.catalog != nil {
		payload["models"] = s.catalog.List()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user, _, err := s.authenticate(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, err)
		return
	}
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errors.New("usage ledger unavailable"))
		return
	}
	id := s.callerID(user)
	summary, err := s.ledger.Summary(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	payload := map[string]any{"summary": summary}

	limit := 0
	if v := r.URL.Query().Get("recent"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 0 {
		entries, err := s.ledger.ListRecent(r.Context(), id, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		if entries == nil {
			entries = []ledger.Entry{}
		}
		payload["recent"] = entries
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// rulesOverride folds service-level threshold and phrase overrides into the
// rule set for the given mode. Returns nil when no overrides are configured
// so the orchestrator applies its own defaults.
func (s *Server) rulesOverride(mode chat.Mode) *compliance.RuleSet {
	if s.tweaks.empty() {
		return nil
	}
	rules := compliance.DefaultRuleSet(mode.RequireArtifact, mode.RequireNoQuestions)
	if mode.Visual {
		rules.ArtifactDeltaBudget = 1
	}
	if s.tweaks.ArtifactDeltaBudget > 0 && !mode.Visual {
		rules.ArtifactDeltaBudget = s.tweaks.ArtifactDeltaBudget
	}
	if s.tweaks.QuestionMinLength > 0 {
		rules.QuestionMinLength = s.tweaks.QuestionMinLength
	}
	if s.tweaks.LookaheadDeltas > 0 {
		rules.LookaheadBudget = s.tweaks.LookaheadDeltas
	}
	rules = s.tweaks.Patterns.Apply(rules)
	return &rules
}

func statusForStreamError(err error) int {
	var missing *registry.MissingCredentialError
	if errors.As(err, &missing) {
		return http.StatusForbidden
	}
	if errors.Is(err, registry.ErrUnknownModel) {
		return http.StatusBadRequest
	}
	return http.StatusBadRequest
}

// callerID attributes the request for usage accounting. Anonymous callers
// fall back to the service identity so their streams still hit the ledger.
func (s *Server) callerID(user *userstore.User) int64 {
	if user == nil {
		return s.anonUserID
	}
	return user.ID
}

// admit applies the per-caller rate limit. When the caller is over budget it
// writes the 429 response and returns false.
func (s *Server) admit(w http.ResponseWriter, callerID int64) bool {
	ok, retryAfter := s.limiter.Allow(callerID)
	if ok {
		return true
	}
	if s.stats != nil {
		s.stats.RecordRateLimited()
	}
	seconds := int64(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		seconds++
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	s.respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
	return false
}

func (s *Server) recordResult(result orchestrator.Result) {
	if s.stats == nil {
		return
	}
	switch result.State {
	case orchestrator.StateFailed:
		s.stats.RecordFailure()
	case orchestrator.StateCanceled:
		s.stats.RecordCancellation()
	default:
		s.stats.RecordStream(result.Provider, result.Model, result.Fallback,
			result.Usage.InputTokens, result.Usage.OutputTokens, result.Duration)
	}
}

// discardWriter satisfies the event writer contract for buffered requests.
type discardWriter struct{}

func (discardWriter) WriteEvent(any) error { return nil }
func (discardWriter) WriteDone() error     { return nil }
func (discardWriter) Close()               {}
