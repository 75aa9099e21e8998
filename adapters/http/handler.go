// Package http exposes the quota engine over a JSON API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/adapters/clock"
	"github.com/quotagate/quotagate/app"
	"github.com/quotagate/quotagate/domain/quota"
	"github.com/quotagate/quotagate/domain/usage"
	"github.com/quotagate/quotagate/ports"
)

// Handler provides the quota API endpoints.
type Handler struct {
	engine   *app.Engine
	recorder *app.Recorder
	reports  *app.Reports
	clock    ports.Clock
	logger   zerolog.Logger

	// failOpen decides the response when the ledger is unreachable during
	// an admission check: admit with a warning header (true) or 503 (false).
	failOpen func() bool
}

// Deps contains dependencies for the API handler.
type Deps struct {
	Engine   *app.Engine
	Recorder *app.Recorder
	Reports  *app.Reports
	Clock    ports.Clock
	Logger   zerolog.Logger
	FailOpen func() bool // optional; defaults to fail closed
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	failOpen := deps.FailOpen
	if failOpen == nil {
		failOpen = func() bool { return false }
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Handler{
		engine:   deps.Engine,
		recorder: deps.Recorder,
		reports:  deps.Reports,
		clock:    deps.Clock,
		logger:   deps.Logger.With().Str("component", "api").Logger(),
		failOpen: failOpen,
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/admit", h.Admit)
		r.Post("/usage", h.RecordUsage)
		r.Get("/users/{id}/tier", h.UserTier)
		r.Get("/users/{id}/usage", h.UserUsage)
		r.Get("/users/{id}/events", h.UserEvents)
		r.Get("/tiers", h.Tiers)
	})

	return r
}

type admitRequest struct {
	UserID          string `json:"user_id"`
	Tier            string `json:"tier"`
	Feature         string `json:"feature"`
	EstimatedTokens int64  `json:"estimated_tokens"`
}

type admitResponse struct {
	Allowed        bool              `json:"allowed"`
	ExceededLimits []string          `json:"exceeded_limits,omitempty"`
	Remaining      remainingBody     `json:"remaining"`
	ResetTimes     map[string]string `json:"reset_times"`
	Warning        string            `json:"warning,omitempty"`
}

type remainingBody struct {
	RequestsThisMinute int   `json:"requests_this_minute"`
	RequestsToday      int   `json:"requests_today"`
	TokensToday        int64 `json:"tokens_today"`
}

// Admit decides whether a gated call may proceed. Denials return 429 with
// the full set of exceeded windows and standard rate-limit headers.
func (h *Handler) Admit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	tier, ok := h.engine.Policies().Parse(req.Tier)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown tier "+strconv.Quote(req.Tier))
		return
	}
	feature := req.Feature
	if feature == "" {
		feature = "default"
	}

	decision, err := h.engine.Admit(r.Context(), req.UserID, tier, feature, req.EstimatedTokens)
	if err != nil {
		var unavailable *app.QuotaUnavailableError
		if errors.As(err, &unavailable) {
			if h.failOpen() {
				h.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("quota backend down, admitting per fail-open policy")
				h.writeJSON(w, http.StatusOK, admitResponse{
					Allowed:    true,
					ResetTimes: map[string]string{},
					Warning:    "quota backend unavailable, request admitted without limit check",
				})
				return
			}
			h.writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.setRateHeaders(w, decision)

	resp := admitResponse{
		Allowed: decision.Allowed,
		Remaining: remainingBody{
			RequestsThisMinute: decision.Remaining.RequestsThisMinute,
			RequestsToday:      decision.Remaining.RequestsToday,
			TokensToday:        decision.Remaining.TokensToday,
		},
		ResetTimes: map[string]string{
			"minute": decision.ResetAt.Minute.Format(time.RFC3339),
			"day":    decision.ResetAt.Day.Format(time.RFC3339),
		},
	}
	for _, win := range decision.Exceeded {
		resp.ExceededLimits = append(resp.ExceededLimits, string(win))
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
		wait := quota.RetryAfter(decision, h.clock.Now())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) setRateHeaders(w http.ResponseWriter, d quota.Decision) {
	w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(d.Remaining.RequestsThisMinute))
	w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(d.Remaining.RequestsToday))
	w.Header().Set("X-RateLimit-Remaining-Tokens", strconv.FormatInt(d.Remaining.TokensToday, 10))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.Minute.Format(time.RFC3339))
}

// retryAfterSeconds rounds up so a client sleeping the advertised time
// never retries early.
func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

type usageRequest struct {
	UserID    string  `json:"user_id"`
	Feature   string  `json:"feature"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	LatencyMs int64   `json:"latency_ms"`
	CostUSD   float64 `json:"cost_usd"`
}

// RecordUsage appends one consumption event to the ledger.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec := usage.Record{
		UserID:    req.UserID,
		Feature:   req.Feature,
		Provider:  req.Provider,
		Model:     req.Model,
		TokensIn:  req.TokensIn,
		TokensOut: req.TokensOut,
		LatencyMs: req.LatencyMs,
		CostUSD:   req.CostUSD,
	}

	if err := h.recorder.Record(r.Context(), rec); err != nil {
		var storage *app.StorageError
		if errors.As(err, &storage) {
			h.writeError(w, http.StatusServiceUnavailable, "ledger unavailable, event not recorded")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type tierResponse struct {
	Tier    string        `json:"tier"`
	Limits  limitsBody    `json:"limits"`
	Current currentBody   `json:"current_usage"`
	Remain  remainingBody `json:"remaining"`
	ResetAt resetBody     `json:"reset_times"`
}

type limitsBody struct {
	RequestsPerMinute int   `json:"requests_per_minute"`
	RequestsPerDay    int   `json:"requests_per_day"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

type currentBody struct {
	RequestsToday      int   `json:"requests_today"`
	RequestsThisMinute int   `json:"requests_this_minute"`
	TokensToday        int64 `json:"tokens_today"`
}

type resetBody struct {
	Minute string `json:"minute"`
	Day    string `json:"day"`
}

// UserTier reports a user's limits, current usage, and remaining quota.
func (h *Handler) UserTier(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	tierStr := r.URL.Query().Get("tier")
	if tierStr == "" {
		tierStr = "free"
	}
	tier, ok := h.engine.Policies().Parse(tierStr)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown tier "+strconv.Quote(tierStr))
		return
	}

	info, err := h.engine.TierInfo(r.Context(), userID, tier)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, tierResponse{
		Tier: string(info.Tier),
		Limits: limitsBody{
			RequestsPerMinute: info.Limits.RequestsPerMinute,
			RequestsPerDay:    info.Limits.RequestsPerDay,
			TokensPerDay:      info.Limits.TokensPerDay,
		},
		Current: currentBody{
			RequestsToday:      info.Current.RequestsToday,
			RequestsThisMinute: info.Current.RequestsThisMinute,
			TokensToday:        info.Current.TokensToday,
		},
		Remain: remainingBody{
			RequestsThisMinute: info.Remain.RequestsThisMinute,
			RequestsToday:      info.Remain.RequestsToday,
			TokensToday:        info.Remain.TokensToday,
		},
		ResetAt: resetBody{
			Minute: info.ResetAt.Minute.Format(time.RFC3339),
			Day:    info.ResetAt.Day.Format(time.RFC3339),
		},
	})
}

// UserUsage returns aggregated usage for the past days (default 30).
func (h *Handler) UserUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		days, _ = strconv.Atoi(v)
	}

	report, err := h.reports.UsageSummary(r.Context(), userID, days)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// UserEvents returns the newest ledger rows for a user.
func (h *Handler) UserEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	events, err := h.reports.RecentEvents(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]usage.Event{"events": events})
}

// Tiers lists the configured tier policies.
func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	policies := h.engine.Policies().Tiers()
	out := make([]limitsBodyNamed, 0, len(policies))
	for _, pol := range policies {
		out = append(out, limitsBodyNamed{
			Name: string(pol.Tier),
			Limits: limitsBody{
				RequestsPerMinute: pol.RequestsPerMinute,
				RequestsPerDay:    pol.RequestsPerDay,
				TokensPerDay:      pol.TokensPerDay,
			},
		})
	}
	h.writeJSON(w, http.StatusOK, map[string][]limitsBodyNamed{"tiers": out})
}

type limitsBodyNamed struct {
	Name   string     `json:"name"`
	Limits limitsBody `json:"limits"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
