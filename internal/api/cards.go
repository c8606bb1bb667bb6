package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// CardRequest is the request body for POST /cards. Dates are YYYY-MM-DD.
// Issuer and family default to the catalog product's when omitted.
type CardRequest struct {
	ID                      string  `json:"id"`
	ProductID               string  `json:"productId"`
	Issuer                  string  `json:"issuer"`
	OpenDate                string  `json:"openDate"`
	ClosedDate              *string `json:"closedDate,omitempty"`
	SignupBonusReceivedDate *string `json:"signupBonusReceivedDate,omitempty"`
	IsBusinessCard          *bool   `json:"isBusinessCard,omitempty"`
	ProductFamily           string  `json:"productFamily,omitempty"`
	ProductChangedFromID    string  `json:"productChangedFromId,omitempty"`
}

// UsageRequest is the request body for POST /cards/{id}/usage.
type UsageRequest struct {
	BenefitID  string  `json:"benefitId"`
	UsedAmount float64 `json:"usedAmount"`
}

// toCard converts the request, filling gaps from the catalog.
func (h *Handler) toCard(req CardRequest) (*domain.UserCard, error) {
	card := &domain.UserCard{
		ID:                   req.ID,
		ProductID:            req.ProductID,
		Issuer:               req.Issuer,
		ProductFamily:        req.ProductFamily,
		ProductChangedFromID: req.ProductChangedFromID,
	}
	if card.ID == "" {
		card.ID = uuid.New().String()
	}

	if req.OpenDate == "" {
		return nil, fmt.Errorf("%w: card %s: openDate is required", domain.ErrInvalidCard, card.ID)
	}
	open, err := parseDate(req.OpenDate)
	if err != nil {
		return nil, fmt.Errorf("openDate: %w", err)
	}
	card.OpenDate = open

	if req.ClosedDate != nil && *req.ClosedDate != "" {
		d, err := parseDate(*req.ClosedDate)
		if err != nil {
			return nil, fmt.Errorf("closedDate: %w", err)
		}
		card.ClosedDate = &d
	}
	if req.SignupBonusReceivedDate != nil && *req.SignupBonusReceivedDate != "" {
		d, err := parseDate(*req.SignupBonusReceivedDate)
		if err != nil {
			return nil, fmt.Errorf("signupBonusReceivedDate: %w", err)
		}
		card.BonusReceivedDate = &d
	}

	if cat := h.store.Load(); cat != nil {
		if p, err := cat.Product(card.ProductID); err == nil {
			if card.Issuer == "" {
				card.Issuer = p.Issuer
			}
			if card.ProductFamily == "" {
				card.ProductFamily = p.Family
			}
			if req.IsBusinessCard == nil {
				card.IsBusiness = p.IsBusiness
			}
		}
	}
	if req.IsBusinessCard != nil {
		card.IsBusiness = *req.IsBusinessCard
	}

	if card.Issuer == "" {
		return nil, fmt.Errorf("%w: card %s: issuer is required", domain.ErrInvalidCard, card.ID)
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// SaveCard handles POST /cards. Saving an existing ID replaces the record.
func (h *Handler) SaveCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	if !h.requireRepo(w) {
		return
	}

	var req CardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	card, err := h.toCard(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.SaveCard(ctx, userID, card); err != nil {
		writeRepoError(w, err, "card")
		return
	}
	h.purgeVerdicts(ctx, userID)

	h.publish(ctx, domain.GlobalScope, domain.TopicCardsChanged, domain.CardsChangedEvent{
		UserID: userID,
		CardID: card.ID,
		Action: "saved",
	})

	writeJSON(w, http.StatusCreated, card)
}

// ListCards handles GET /cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	cards, err := h.repo.ListCards(ctx, GetUserID(ctx))
	if err != nil {
		writeRepoError(w, err, "cards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cards": cards,
		"count": len(cards),
	})
}

// GetCard handles GET /cards/{id}.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	card, err := h.repo.GetCard(ctx, GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "card")
		return
	}

	writeJSON(w, http.StatusOK, card)
}

// DeleteCard handles DELETE /cards/{id}.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)
	cardID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteCard(ctx, userID, cardID); err != nil {
		writeRepoError(w, err, "card")
		return
	}
	h.purgeVerdicts(ctx, userID)

	h.publish(ctx, domain.GlobalScope, domain.TopicCardsChanged, domain.CardsChangedEvent{
		UserID: userID,
		CardID: cardID,
		Action: "deleted",
	})

	w.WriteHeader(http.StatusNoContent)
}

// RecordUsage handles POST /cards/{id}/usage.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)
	cardID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	var req UsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.BenefitID == "" {
		writeError(w, http.StatusBadRequest, "benefitId is required")
		return
	}

	if _, err := h.repo.GetCard(ctx, userID, cardID); err != nil {
		writeRepoError(w, err, "card")
		return
	}

	usage := &domain.BenefitUsage{
		CardID:     cardID,
		BenefitID:  req.BenefitID,
		UsedAmount: req.UsedAmount,
		RecordedAt: h.now().UTC(),
	}
	if err := h.repo.SaveBenefitUsage(ctx, userID, usage); err != nil {
		writeRepoError(w, err, "usage")
		return
	}

	h.publish(ctx, domain.GlobalScope, domain.TopicCardsChanged, domain.CardsChangedEvent{
		UserID: userID,
		CardID: cardID,
		Action: "usage",
	})

	writeJSON(w, http.StatusCreated, usage)
}
