package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/retention"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/tracing"
)

// EligibilityRequest is the request body for POST /eligibility.
type EligibilityRequest struct {
	ProductID string `json:"productId"`
	AsOf      string `json:"asOf,omitempty"`
}

// EligibilityResponse is the response for POST /eligibility.
type EligibilityResponse struct {
	EvaluationID string                    `json:"evaluationId"`
	Verdict      domain.EligibilityVerdict `json:"verdict"`
	Reasons      []string                  `json:"reasons,omitempty"`
	Metadata     struct {
		TraceID        string `json:"traceId"`
		CatalogVersion string `json:"catalogVersion"`
		Cached         bool   `json:"cached"`
		TotalMs        int64  `json:"totalMs"`
		Version        string `json:"version"`
	} `json:"metadata"`
}

// RetentionRequest is the request body for POST /retention.
type RetentionRequest struct {
	CardID string `json:"cardId"`
	AsOf   string `json:"asOf,omitempty"`
}

// Eligibility handles POST /eligibility requests.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	userID := GetUserID(ctx)
	traceID := GetTraceID(ctx)

	if !h.requireRepo(w) {
		return
	}

	var req EligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cat := h.requireCatalog(w)
	if cat == nil {
		return
	}
	product, err := cat.Product(req.ProductID)
	if err != nil {
		writeUnknownProduct(w, cat, req.ProductID)
		return
	}

	cards, err := h.repo.ListCards(ctx, userID)
	if err != nil {
		writeRepoError(w, err, "cards")
		return
	}

	key := cache.VerdictKey(product.ID, cards, cat.Version, asOf)
	verdict, cached := h.cachedVerdict(r, userID, key)
	ruleset := rules.ForIssuer(cat.Rules(), product.Issuer)

	if verdict == nil {
		_, span := tracing.Start(ctx, "rules.Evaluate", trace.WithAttributes(
			attribute.String("product.id", product.ID),
			attribute.Int("cards", len(cards)),
			attribute.Int("rules", len(ruleset)),
		))
		v := rules.Evaluate(product, cards, ruleset, asOf)
		span.End()
		verdict = &v

		if h.cache != nil {
			if err := cache.SetVerdict(ctx, h.cache, userID, key, verdict, h.verdictTTL); err != nil {
				slog.Warn("failed to cache verdict", "user_id", userID, "error", err)
			}
		}
	}

	record := h.processor.Process(ctx, &decision.DecisionInput{
		UserID:         userID,
		TraceID:        traceID,
		CatalogVersion: cat.Version,
		Verdict:        *verdict,
		RulesApplied:   len(ruleset),
		CardsReviewed:  len(cards),
		Cached:         cached,
		StartTime:      start,
	})

	if err := h.repo.SaveEvaluation(ctx, userID, record); err != nil {
		slog.Error("failed to save evaluation",
			"user_id", userID,
			"product_id", product.ID,
			"error", err,
		)
	}

	h.publish(ctx, userID, domain.TopicEligibilityChecked, record)

	slog.Info("eligibility evaluated",
		"user_id", userID,
		"product_id", product.ID,
		"catalog_version", cat.Version,
		"can_apply", verdict.CanApply,
		"can_receive_bonus", verdict.CanReceiveBonus,
		"cached", cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	resp := EligibilityResponse{
		EvaluationID: record.ID,
		Verdict:      *verdict,
		Reasons:      decision.Reasons(*verdict),
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.CatalogVersion = cat.Version
	resp.Metadata.Cached = cached
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// cachedVerdict returns a memoised verdict; cache errors count as misses.
func (h *Handler) cachedVerdict(r *http.Request, userID, key string) (*domain.EligibilityVerdict, bool) {
	if h.cache == nil {
		return nil, false
	}
	v, err := cache.GetVerdict(r.Context(), h.cache, userID, key)
	if err != nil {
		slog.Warn("verdict cache lookup failed", "user_id", userID, "error", err)
		return nil, false
	}
	return v, v != nil
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "evaluation")
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// IssuerStatus handles GET /issuers/status.
func (h *Handler) IssuerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	if !h.requireRepo(w) {
		return
	}
	asOf, err := h.asOf(r.URL.Query().Get("asOf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cat := h.requireCatalog(w)
	if cat == nil {
		return
	}

	cards, err := h.repo.ListCards(ctx, userID)
	if err != nil {
		writeRepoError(w, err, "cards")
		return
	}

	_, span := tracing.Start(ctx, "rules.Summarize")
	issuers := rules.Summarize(cards, cat, asOf)
	span.End()

	writeJSON(w, http.StatusOK, domain.IssuerStatusEvent{
		UserID:         userID,
		CatalogVersion: cat.Version,
		AsOf:           asOf,
		Issuers:        issuers,
	})
}

// Velocity handles GET /velocity.
func (h *Handler) Velocity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}
	asOf, err := h.asOf(r.URL.Query().Get("asOf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.velocity.Snapshot(ctx, GetUserID(ctx), asOf)
	if err != nil {
		writeRepoError(w, err, "cards")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Retention handles POST /retention.
func (h *Handler) Retention(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	if !h.requireRepo(w) {
		return
	}

	var req RetentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CardID == "" {
		writeError(w, http.StatusBadRequest, "cardId is required")
		return
	}
	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cat := h.requireCatalog(w)
	if cat == nil {
		return
	}

	card, err := h.repo.GetCard(ctx, userID, req.CardID)
	if err != nil {
		writeRepoError(w, err, "card")
		return
	}
	product, err := cat.Product(card.ProductID)
	if err != nil {
		writeUnknownProduct(w, cat, card.ProductID)
		return
	}
	usage, err := h.repo.ListBenefitUsage(ctx, userID, card.ID)
	if err != nil {
		writeRepoError(w, err, "usage")
		return
	}

	_, span := tracing.Start(ctx, "retention.Analyze", trace.WithAttributes(
		attribute.String("card.id", card.ID),
		attribute.String("product.id", product.ID),
	))
	verdict := retention.Analyze(*card, product, cat.RulesFor(product.Issuer), usage, asOf)
	span.End()

	slog.Info("retention analyzed",
		"user_id", userID,
		"card_id", card.ID,
		"product_id", product.ID,
		"catalog_version", cat.Version,
		"recommendation", verdict.Recommendation,
	)

	writeJSON(w, http.StatusOK, verdict)
}
