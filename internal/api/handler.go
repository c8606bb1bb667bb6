package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Config holds HTTP settings plus the verdict memoisation window.
type Config struct {
	Server     domain.ServerConfig
	VerdictTTL time.Duration
}

// Deps are the components the handlers call into. Cache and Bus may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Catalog   *catalog.Store
	Processor *decision.Processor
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	store      *catalog.Store
	processor  *decision.Processor
	velocity   *velocity.Service
	version    string
	verdictTTL time.Duration
	now        func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, verdictTTL time.Duration) *Handler {
	processor := deps.Processor
	if processor == nil {
		processor = decision.NewProcessor()
	}
	store := deps.Catalog
	if store == nil {
		store = catalog.NewStore(nil)
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		store:      store,
		processor:  processor,
		velocity:   velocity.NewService(deps.Repo),
		version:    deps.Version,
		verdictTTL: verdictTTL,
		now:        time.Now,
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	CatalogVersion string            `json:"catalogVersion"`
	Cache          *cache.Stats      `json:"cache,omitempty"`
	Bus            *bus.ChannelStats `json:"bus,omitempty"`
}

// In-process components report counters on /health.
type (
	cacheStatser interface{ Stats() cache.Stats }
	busStatser   interface{ Stats() bus.ChannelStats }
)

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "healthy", Version: h.version}

	checks := []func(context.Context) error{}
	if h.repo != nil {
		checks = append(checks, h.repo.Ping)
	}
	if h.cache != nil {
		checks = append(checks, h.cache.Ping)
	}
	if h.bus != nil {
		checks = append(checks, h.bus.Ping)
	}
	for _, ping := range checks {
		if err := ping(ctx); err != nil {
			resp.Status = "degraded"
		}
	}

	if cat := h.store.Load(); cat != nil {
		resp.CatalogVersion = cat.Version
	}
	if cs, ok := h.cache.(cacheStatser); ok {
		stats := cs.Stats()
		resp.Cache = &stats
	}
	if bs, ok := h.bus.(busStatser); ok {
		stats := bs.Stats()
		resp.Bus = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the server can evaluate: a repository and a catalog
// must both be available.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.store.Load() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

// writeRepoError maps repository sentinels to HTTP statuses.
func writeRepoError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("repository error",
			"entity", what,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requireRepo writes 503 and returns false when no repository is wired.
func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

// requireCatalog returns the active catalog or writes 503.
func (h *Handler) requireCatalog(w http.ResponseWriter) *catalog.Catalog {
	cat := h.store.Load()
	if cat == nil {
		writeError(w, http.StatusServiceUnavailable, "no catalog loaded")
	}
	return cat
}

// writeUnknownProduct answers 404 with close catalog IDs.
func writeUnknownProduct(w http.ResponseWriter, cat *catalog.Catalog, productID string) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":       fmt.Sprintf("unknown product %q", productID),
		"suggestions": cat.Suggest(productID, 3),
	})
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns the UTC calendar day.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return calendar.StartOfDay(t.UTC()), nil
}

// asOf resolves an optional evaluation date, defaulting to today.
func (h *Handler) asOf(s string) (time.Time, error) {
	if s == "" {
		return calendar.StartOfDay(h.now().UTC()), nil
	}
	return parseDate(s)
}

// purgeVerdicts drops a user's memoised verdicts after their history changes.
func (h *Handler) purgeVerdicts(ctx context.Context, userID string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Purge(ctx, userID); err != nil {
		slog.Warn("failed to purge cached verdicts", "user_id", userID, "error", err)
	}
}

// publish sends an event, logging failures; events are best effort.
func (h *Handler) publish(ctx context.Context, scope, topic string, event interface{}) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, scope, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"scope", scope,
			"error", err,
		)
	}
}
