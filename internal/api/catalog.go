package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
)

// maxCatalogBytes bounds PUT /catalog bodies.
const maxCatalogBytes = 8 << 20

// CatalogSummary describes the active catalog.
type CatalogSummary struct {
	Version  string           `json:"version"`
	Issuers  []domain.Issuer  `json:"issuers"`
	Products int              `json:"products"`
	Rules    int              `json:"rules"`
	Warnings []domain.Warning `json:"warnings,omitempty"`
}

func summarize(c *catalog.Catalog) CatalogSummary {
	return CatalogSummary{
		Version:  c.Version,
		Issuers:  c.Issuers(),
		Products: len(c.Products()),
		Rules:    len(c.Rules()),
		Warnings: c.Warnings,
	}
}

// GetCatalog handles GET /catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.requireCatalog(w)
	if cat == nil {
		return
	}
	writeJSON(w, http.StatusOK, summarize(cat))
}

// PutCatalog handles PUT /catalog: the body replaces the active catalog.
// The snapshot is persisted before it is swapped in.
func (h *Handler) PutCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCatalogBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(raw) > maxCatalogBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "catalog too large")
		return
	}

	cat, err := catalog.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.SaveCatalogSnapshot(ctx, cat.Version, cat.Raw()); err != nil {
		writeRepoError(w, err, "catalog")
		return
	}

	prev := h.store.Swap(cat)
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version
	}

	h.publish(ctx, domain.GlobalScope, domain.TopicCatalogUpdated, domain.CatalogUpdatedEvent{
		Version:  cat.Version,
		Rules:    len(cat.Rules()),
		Products: len(cat.Products()),
	})

	slog.Info("catalog replaced",
		"catalog_version", cat.Version,
		"previous_version", prevVersion,
		"warnings", len(cat.Warnings),
	)

	writeJSON(w, http.StatusOK, summarize(cat))
}
