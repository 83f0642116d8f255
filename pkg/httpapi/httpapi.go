// Package httpapi exposes the read-only status surface over the limiter and
// the quota manager. The endpoints are diagnostic, not load-bearing: when a
// read fails entirely they answer with an error field rather than a 5xx.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/pkg/clock"
	"github.com/quotaguard/quotaguard/pkg/limiter"
	"github.com/quotaguard/quotaguard/pkg/quota"
)

// defaultDashboardQuotas are the quota types the dashboard reports daily
// usage for when none are configured.
var defaultDashboardQuotas = []string{"emails_sent", "api_calls", "workflow_runs"}

// Handler serves the /quotas endpoints.
type Handler struct {
	limiter    *limiter.Limiter
	quotas     *quota.Manager
	dashQuotas []string
	clk        clock.Clock
	log        *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithDashboardQuotaTypes sets the quota types the dashboard endpoint
// reports.
func WithDashboardQuotaTypes(types []string) Option {
	return func(h *Handler) { h.dashQuotas = types }
}

// WithClock replaces the wall clock used for response timestamps.
func WithClock(clk clock.Clock) Option {
	return func(h *Handler) { h.clk = clk }
}

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// New constructs a Handler over the two core components.
func New(l *limiter.Limiter, q *quota.Manager, opts ...Option) *Handler {
	h := &Handler{
		limiter:    l,
		quotas:     q,
		dashQuotas: defaultDashboardQuotas,
		clk:        clock.System{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for the status surface, mountable under any
// path prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/quotas/rate-limits/{service}", h.rateLimitStatus)
	r.Get("/quotas/usage/{scope}/{quotaType}", h.quotaUsage)
	r.Get("/quotas/dashboard/{scope}", h.dashboard)
	return r
}

type rateLimitResponse struct {
	Service         string  `json:"service"`
	Scope           string  `json:"scope"`
	Tokens          float64 `json:"tokens_available"`
	Capacity        int64   `json:"capacity"`
	RefillPerMinute int64   `json:"refill_rate_per_minute"`
	Utilization     float64 `json:"utilization"`
	ResetAt         string  `json:"estimated_reset_time"`
	Error           string  `json:"error,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

func (h *Handler) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	scope := r.URL.Query().Get("scope")

	st, err := h.limiter.Status(r.Context(), service, scope)
	if err != nil {
		h.writeJSON(w, http.StatusOK, rateLimitResponse{
			Service:   service,
			Error:     err.Error(),
			Timestamp: h.timestamp(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, h.rateLimitBody(st))
}

type usageResponse struct {
	Scope     string `json:"scope"`
	QuotaType string `json:"quota_type"`
	Period    string `json:"period"`
	Used      int64  `json:"used"`
	PeriodKey string `json:"period_key"`
	ResetsAt  string `json:"resets_at"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) quotaUsage(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	quotaType := chi.URLParam(r, "quotaType")

	raw := r.URL.Query().Get("period")
	if raw == "" {
		raw = string(quota.Daily)
	}
	period, err := quota.ParsePeriod(raw)
	if err != nil {
		// Caller-input error: rejected, unlike store trouble below.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := usageResponse{
		Scope:     scope,
		QuotaType: quotaType,
		Period:    string(period),
		Timestamp: h.timestamp(),
	}
	usage, err := h.quotas.Usage(r.Context(), scope, quotaType, period)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Used = usage.Used
		resp.PeriodKey = usage.PeriodKey
		resp.ResetsAt = usage.ResetsAt.Format(time.RFC3339)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type dashboardResponse struct {
	Scope      string              `json:"scope"`
	RateLimits []rateLimitResponse `json:"rate_limits"`
	Usage      []usageResponse     `json:"usage"`
	Timestamp  string              `json:"timestamp"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	resp := dashboardResponse{Scope: scope, Timestamp: h.timestamp()}

	for _, service := range h.limiter.Services() {
		st, err := h.limiter.Status(r.Context(), service, scope)
		if err != nil {
			resp.RateLimits = append(resp.RateLimits, rateLimitResponse{
				Service:   service,
				Error:     err.Error(),
				Timestamp: h.timestamp(),
			})
			continue
		}
		resp.RateLimits = append(resp.RateLimits, h.rateLimitBody(st))
	}

	for _, quotaType := range h.dashQuotas {
		entry := usageResponse{
			Scope:     scope,
			QuotaType: quotaType,
			Period:    string(quota.Daily),
			Timestamp: h.timestamp(),
		}
		usage, err := h.quotas.Usage(r.Context(), scope, quotaType, quota.Daily)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Used = usage.Used
			entry.PeriodKey = usage.PeriodKey
			entry.ResetsAt = usage.ResetsAt.Format(time.RFC3339)
		}
		resp.Usage = append(resp.Usage, entry)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) rateLimitBody(st limiter.Status) rateLimitResponse {
	return rateLimitResponse{
		Service:         st.Service,
		Scope:           st.Scope,
		Tokens:          st.Tokens,
		Capacity:        st.Capacity,
		RefillPerMinute: st.RefillPerMinute,
		Utilization:     st.Utilization,
		ResetAt:         st.ResetAt.Format(time.RFC3339),
		Timestamp:       h.timestamp(),
	}
}

func (h *Handler) timestamp() string {
	return h.clk.Now().UTC().Format(time.RFC3339)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("encoding status response", zap.Error(err))
	}
}
