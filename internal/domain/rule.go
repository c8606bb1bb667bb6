package domain

// RuleKind separates rules that gate approval from rules that gate the signup bonus.
type RuleKind string

const (
	KindApplication RuleKind = "application"
	KindBonus       RuleKind = "bonus"
)

// Category identifies the policy shape of a rule.
type Category string

const (
	CategoryVelocityLimit                 Category = "velocity_limit"
	CategoryProductFamilyConflict         Category = "product_family_conflict"
	CategoryMaxOpenCards                  Category = "max_open_cards"
	CategoryExistingRelationshipPreferred Category = "existing_relationship_preferred"
	CategoryBonusCooldown                 Category = "bonus_cooldown"
	CategoryLifetimeOncePerProduct        Category = "lifetime_once_per_product"
	CategoryInquirySensitivity            Category = "inquiry_sensitivity"
)

// KindOf returns the rule kind a category belongs to.
// The second return value is false for unknown categories.
func KindOf(c Category) (RuleKind, bool) {
	switch c {
	case CategoryVelocityLimit, CategoryProductFamilyConflict, CategoryMaxOpenCards,
		CategoryExistingRelationshipPreferred, CategoryInquirySensitivity:
		return KindApplication, true
	case CategoryBonusCooldown, CategoryLifetimeOncePerProduct:
		return KindBonus, true
	default:
		return "", false
	}
}

// CooldownAnchor names the card event a bonus cooldown is measured from.
type CooldownAnchor string

const (
	AnchorBonusReceived CooldownAnchor = "bonus_received"
	AnchorCardClosed    CooldownAnchor = "card_closed"
	AnchorCardOpened    CooldownAnchor = "card_opened"
)

// Rule is one issuer policy. The concrete types below form a closed set;
// each carries only the fields its evaluation uses.
type Rule interface {
	Meta() RuleMeta
	Category() Category
	Kind() RuleKind
	isRule()
}

// RuleMeta holds the fields shared by every rule.
type RuleMeta struct {
	ID          string `json:"id"`
	Issuer      string `json:"issuer"`
	Description string `json:"description"`
}

// CardPredicate narrows which history records a rule counts.
type CardPredicate interface {
	Matches(card UserCard) bool
}

// Scope filters a user's history down to the cards a counting rule considers.
type Scope struct {
	AllIssuers     bool          `json:"countsAcrossAllIssuers"`
	BusinessExempt bool          `json:"businessCardsExempt"`
	CountsWhen     CardPredicate `json:"-"`
	CountsWhenExpr string        `json:"countsWhen,omitempty"`
}

// Includes reports whether card falls inside the scope of a rule owned by issuer.
func (s Scope) Includes(issuer string, card UserCard) bool {
	if !s.AllIssuers && card.Issuer != issuer {
		return false
	}
	if s.BusinessExempt && card.IsBusiness {
		return false
	}
	if s.CountsWhen != nil && !s.CountsWhen.Matches(card) {
		return false
	}
	return true
}

// VelocityLimitRule caps new accounts opened inside a rolling window (e.g. 5/24).
type VelocityLimitRule struct {
	RuleMeta
	WindowMonths int   `json:"windowMonths"`
	MaxCount     int   `json:"maxCount"`
	Scope        Scope `json:"scope"`
}

// ProductFamilyConflictRule denies approval while a conflicting product is held.
type ProductFamilyConflictRule struct {
	RuleMeta
	ConflictingProductIDs []string `json:"conflictingProductIds,omitempty"`
	ProductFamily         string   `json:"productFamily,omitempty"`
}

// Conflicts reports whether a held product trips the rule.
func (r ProductFamilyConflictRule) Conflicts(card UserCard) bool {
	for _, id := range r.ConflictingProductIDs {
		if card.ProductID == id {
			return true
		}
	}
	return r.ProductFamily != "" && card.ProductFamily == r.ProductFamily
}

// MaxOpenCardsRule caps the number of simultaneously open accounts.
type MaxOpenCardsRule struct {
	RuleMeta
	MaxCount int   `json:"maxCount"`
	Scope    Scope `json:"scope"`
}

// RelationshipPreferredRule signals that an existing banking relationship helps approval.
type RelationshipPreferredRule struct {
	RuleMeta
}

// InquirySensitivityRule flags issuers that react to many recent hard pulls.
type InquirySensitivityRule struct {
	RuleMeta
	WindowMonths int   `json:"windowMonths"`
	MaxCount     int   `json:"maxCount"`
	Scope        Scope `json:"scope"`
}

// BonusCooldownRule withholds a new bonus until a waiting period has passed.
type BonusCooldownRule struct {
	RuleMeta
	CooldownMonths               int            `json:"cooldownMonths"`
	Anchor                       CooldownAnchor `json:"cooldownAnchor"`
	ProductFamily                string         `json:"productFamily,omitempty"`
	RequiresCardNotCurrentlyHeld bool           `json:"requiresCardNotCurrentlyHeld"`
}

// LifetimeOncePerProductRule allows one bonus per product per customer, ever.
type LifetimeOncePerProductRule struct {
	RuleMeta
	ProductFamily string `json:"productFamily,omitempty"`
}

func (r VelocityLimitRule) Meta() RuleMeta          { return r.RuleMeta }
func (r ProductFamilyConflictRule) Meta() RuleMeta  { return r.RuleMeta }
func (r MaxOpenCardsRule) Meta() RuleMeta           { return r.RuleMeta }
func (r RelationshipPreferredRule) Meta() RuleMeta  { return r.RuleMeta }
func (r InquirySensitivityRule) Meta() RuleMeta     { return r.RuleMeta }
func (r BonusCooldownRule) Meta() RuleMeta          { return r.RuleMeta }
func (r LifetimeOncePerProductRule) Meta() RuleMeta { return r.RuleMeta }

func (VelocityLimitRule) Category() Category          { return CategoryVelocityLimit }
func (ProductFamilyConflictRule) Category() Category  { return CategoryProductFamilyConflict }
func (MaxOpenCardsRule) Category() Category           { return CategoryMaxOpenCards }
func (RelationshipPreferredRule) Category() Category  { return CategoryExistingRelationshipPreferred }
func (InquirySensitivityRule) Category() Category     { return CategoryInquirySensitivity }
func (BonusCooldownRule) Category() Category          { return CategoryBonusCooldown }
func (LifetimeOncePerProductRule) Category() Category { return CategoryLifetimeOncePerProduct }

func (VelocityLimitRule) Kind() RuleKind          { return KindApplication }
func (ProductFamilyConflictRule) Kind() RuleKind  { return KindApplication }
func (MaxOpenCardsRule) Kind() RuleKind           { return KindApplication }
func (RelationshipPreferredRule) Kind() RuleKind  { return KindApplication }
func (InquirySensitivityRule) Kind() RuleKind     { return KindApplication }
func (BonusCooldownRule) Kind() RuleKind          { return KindBonus }
func (LifetimeOncePerProductRule) Kind() RuleKind { return KindBonus }

func (VelocityLimitRule) isRule()          {}
func (ProductFamilyConflictRule) isRule()  {}
func (MaxOpenCardsRule) isRule()           {}
func (RelationshipPreferredRule) isRule()  {}
func (InquirySensitivityRule) isRule()     {}
func (BonusCooldownRule) isRule()          {}
func (LifetimeOncePerProductRule) isRule() {}
