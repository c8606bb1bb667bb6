package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// ErrInvalidCatalog is returned when a catalog document cannot be read at all.
// Individual bad records never produce it; they become warnings.
var ErrInvalidCatalog = errors.New("invalid catalog")

// document is the catalog wire format.
type document struct {
	Version  string               `json:"version"`
	Issuers  []domain.Issuer      `json:"issuers"`
	Products []domain.CardProduct `json:"products"`
	Rules    []ruleRecord         `json:"rules"`
}

// ruleRecord is the flat rule shape published by the feed. Optional numeric
// fields are pointers so a missing value is distinguishable from zero.
type ruleRecord struct {
	ID                           string   `json:"id"`
	Issuer                       string   `json:"issuer"`
	RuleKind                     string   `json:"ruleKind"`
	Category                     string   `json:"category"`
	WindowMonths                 *int     `json:"windowMonths,omitempty"`
	MaxCount                     *int     `json:"maxCount,omitempty"`
	CountsAcrossAllIssuers       bool     `json:"countsAcrossAllIssuers,omitempty"`
	BusinessCardsExempt          bool     `json:"businessCardsExempt,omitempty"`
	CooldownMonths               *int     `json:"cooldownMonths,omitempty"`
	CooldownAnchor               string   `json:"cooldownAnchor,omitempty"`
	ConflictingProductIDs        []string `json:"conflictingProductIds,omitempty"`
	ProductFamily                string   `json:"productFamily,omitempty"`
	RequiresCardNotCurrentlyHeld bool     `json:"requiresCardNotCurrentlyHeld,omitempty"`
	CountsWhen                   string   `json:"countsWhen,omitempty"`
	Description                  string   `json:"description,omitempty"`
}

// Legacy spellings accepted alongside the snake_case names.
var (
	kindAliases = map[string]domain.RuleKind{
		"application":            domain.KindApplication,
		"applicationeligibility": domain.KindApplication,
		"bonus":                  domain.KindBonus,
		"bonuseligibility":       domain.KindBonus,
	}
	categoryAliases = map[string]domain.Category{
		"velocitylimit":                 domain.CategoryVelocityLimit,
		"productfamilyconflict":         domain.CategoryProductFamilyConflict,
		"maxopencards":                  domain.CategoryMaxOpenCards,
		"existingrelationshippreferred": domain.CategoryExistingRelationshipPreferred,
		"bonuscooldown":                 domain.CategoryBonusCooldown,
		"lifetimeonceperproduct":        domain.CategoryLifetimeOncePerProduct,
		"inquirysensitivity":            domain.CategoryInquirySensitivity,
	}
	anchorAliases = map[string]domain.CooldownAnchor{
		"bonusreceived":     domain.AnchorBonusReceived,
		"bonusreceiveddate": domain.AnchorBonusReceived,
		"cardclosed":        domain.AnchorCardClosed,
		"cardcloseddate":    domain.AnchorCardClosed,
		"cardopened":        domain.AnchorCardOpened,
		"cardopeneddate":    domain.AnchorCardOpened,
	}
)

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

// LoadFile reads and parses a catalog document from disk.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a catalog document. Malformed rule and product records are
// skipped and reported in Catalog.Warnings.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if strings.TrimSpace(doc.Version) == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}

	c := newCatalog(doc.Version, raw)
	for _, iss := range doc.Issuers {
		if iss.ID == "" {
			c.warn(domain.WarnInvalidProduct, "issuers", "issuer without id skipped")
			continue
		}
		c.addIssuer(iss)
	}

	for i, p := range doc.Products {
		switch {
		case p.ID == "":
			c.warn(domain.WarnInvalidProduct, fmt.Sprintf("products[%d]", i), "product without id skipped")
			continue
		case p.Issuer == "":
			c.warn(domain.WarnInvalidProduct, p.ID, "product without issuer skipped")
			continue
		}
		if _, dup := c.products[p.ID]; dup {
			c.warn(domain.WarnInvalidProduct, p.ID, "duplicate product id, later record skipped")
			continue
		}
		c.addProduct(p)
	}

	for i, rec := range doc.Rules {
		subject := rec.ID
		if subject == "" {
			subject = fmt.Sprintf("rules[%d]", i)
		}
		rule, warnings, err := decodeRule(rec)
		for _, w := range warnings {
			c.warn(w.Code, subject, w.Message)
		}
		if err != nil {
			c.warn(domain.WarnInvalidRule, subject, err.Error())
			continue
		}
		c.addRule(rule)
	}

	c.finish()
	return c, nil
}

// decodeRule turns a flat record into its category's variant.
func decodeRule(rec ruleRecord) (domain.Rule, []domain.Warning, error) {
	if rec.ID == "" {
		return nil, nil, fmt.Errorf("rule id is required")
	}
	if rec.Issuer == "" {
		return nil, nil, fmt.Errorf("issuer is required")
	}

	category, ok := categoryAliases[normalize(rec.Category)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown category %q", rec.Category)
	}
	wantKind, _ := domain.KindOf(category)
	if rec.RuleKind != "" {
		kind, ok := kindAliases[normalize(rec.RuleKind)]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ruleKind %q", rec.RuleKind)
		}
		if kind != wantKind {
			return nil, nil, fmt.Errorf("ruleKind %s does not match category %s", kind, category)
		}
	}

	meta := domain.RuleMeta{ID: rec.ID, Issuer: rec.Issuer, Description: rec.Description}
	var warnings []domain.Warning

	switch category {
	case domain.CategoryVelocityLimit:
		if !positive(rec.WindowMonths) || !positive(rec.MaxCount) {
			return nil, nil, fmt.Errorf("velocity_limit requires positive windowMonths and maxCount")
		}
		scope, err := decodeScope(rec)
		if err != nil {
			return nil, nil, err
		}
		return domain.VelocityLimitRule{RuleMeta: meta, WindowMonths: *rec.WindowMonths, MaxCount: *rec.MaxCount, Scope: scope}, nil, nil

	case domain.CategoryInquirySensitivity:
		if !positive(rec.WindowMonths) || !positive(rec.MaxCount) {
			return nil, nil, fmt.Errorf("inquiry_sensitivity requires positive windowMonths and maxCount")
		}
		scope, err := decodeScope(rec)
		if err != nil {
			return nil, nil, err
		}
		return domain.InquirySensitivityRule{RuleMeta: meta, WindowMonths: *rec.WindowMonths, MaxCount: *rec.MaxCount, Scope: scope}, nil, nil

	case domain.CategoryMaxOpenCards:
		if !positive(rec.MaxCount) {
			return nil, nil, fmt.Errorf("max_open_cards requires a positive maxCount")
		}
		scope, err := decodeScope(rec)
		if err != nil {
			return nil, nil, err
		}
		return domain.MaxOpenCardsRule{RuleMeta: meta, MaxCount: *rec.MaxCount, Scope: scope}, nil, nil

	case domain.CategoryProductFamilyConflict:
		if len(rec.ConflictingProductIDs) == 0 && rec.ProductFamily == "" {
			return nil, nil, fmt.Errorf("product_family_conflict requires conflictingProductIds or productFamily")
		}
		ids := append([]string(nil), rec.ConflictingProductIDs...)
		return domain.ProductFamilyConflictRule{RuleMeta: meta, ConflictingProductIDs: ids, ProductFamily: rec.ProductFamily}, nil, nil

	case domain.CategoryExistingRelationshipPreferred:
		return domain.RelationshipPreferredRule{RuleMeta: meta}, nil, nil

	case domain.CategoryBonusCooldown:
		if !positive(rec.CooldownMonths) {
			return nil, nil, fmt.Errorf("bonus_cooldown requires a positive cooldownMonths")
		}
		anchor := domain.AnchorBonusReceived
		if rec.CooldownAnchor == "" {
			warnings = append(warnings, domain.Warning{
				Code:    domain.WarnDefaultedAnchor,
				Message: "no cooldownAnchor given, using bonus_received",
			})
		} else {
			a, ok := anchorAliases[normalize(rec.CooldownAnchor)]
			if !ok {
				return nil, nil, fmt.Errorf("unknown cooldownAnchor %q", rec.CooldownAnchor)
			}
			anchor = a
		}
		return domain.BonusCooldownRule{
			RuleMeta:                     meta,
			CooldownMonths:               *rec.CooldownMonths,
			Anchor:                       anchor,
			ProductFamily:                rec.ProductFamily,
			RequiresCardNotCurrentlyHeld: rec.RequiresCardNotCurrentlyHeld,
		}, warnings, nil

	case domain.CategoryLifetimeOncePerProduct:
		return domain.LifetimeOncePerProductRule{RuleMeta: meta, ProductFamily: rec.ProductFamily}, nil, nil
	}

	return nil, nil, fmt.Errorf("unhandled category %s", category)
}

func decodeScope(rec ruleRecord) (domain.Scope, error) {
	scope := domain.Scope{
		AllIssuers:     rec.CountsAcrossAllIssuers,
		BusinessExempt: rec.BusinessCardsExempt,
	}
	if expr := strings.TrimSpace(rec.CountsWhen); expr != "" {
		f, err := rules.CompileFilter(expr)
		if err != nil {
			return scope, err
		}
		scope.CountsWhen = f
		scope.CountsWhenExpr = expr
	}
	return scope, nil
}

func positive(v *int) bool {
	return v != nil && *v > 0
}
