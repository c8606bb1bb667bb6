package domain

import (
	"time"
)

// Blocker is one rule standing between the user and an application or bonus.
// A blocker without ResolveDate stays in force until the user acts. It
// carries only serialisable fields so a cached verdict equals a fresh one.
type Blocker struct {
	RuleID         string     `json:"ruleId"`
	Category       Category   `json:"category"`
	Reason         string     `json:"reason"`
	ResolveDate    *time.Time `json:"resolveDate,omitempty"`
	ActionRequired string     `json:"actionRequired,omitempty"`
}

// NewBlocker fills the rule identity fields from r.
func NewBlocker(r Rule, reason string, resolve *time.Time, action string) Blocker {
	return Blocker{
		RuleID:         r.Meta().ID,
		Category:       r.Category(),
		Reason:         reason,
		ResolveDate:    resolve,
		ActionRequired: action,
	}
}

// Warning codes attached to verdicts and catalogs.
const (
	WarnInvalidRule       = "invalid_rule"
	WarnInvalidProduct    = "invalid_product"
	WarnDefaultedAnchor   = "defaulted_anchor"
	WarnInvalidCard       = "invalid_card"
	WarnAnchorFallback    = "anchor_fallback"
	WarnUnusedBenefit     = "unused_benefit_assumed"
	WarnUnknownProduct    = "unknown_product"
	WarnCountsWhenFailure = "counts_when_failure"
)

// Warning is a data-quality signal: evaluation continued, but an input was imperfect.
type Warning struct {
	Code    string `json:"code"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// EligibilityVerdict answers "can I get this card, and its bonus".
type EligibilityVerdict struct {
	ProductID           string     `json:"productId"`
	Issuer              string     `json:"issuer"`
	AsOf                time.Time  `json:"asOf"`
	CanApply            bool       `json:"canApply"`
	CanReceiveBonus     bool       `json:"canReceiveBonus"`
	ApplicationBlockers []Blocker  `json:"applicationBlockers"`
	BonusBlockers       []Blocker  `json:"bonusBlockers"`
	Advisories          []Blocker  `json:"advisories,omitempty"`
	ResolveDate         *time.Time `json:"resolveDate,omitempty"`
	Recommendations     []string   `json:"recommendations"`
	Warnings            []Warning  `json:"warnings,omitempty"`
	Incomplete          bool       `json:"incomplete,omitempty"`
}

// StatusLevel is the tri-state issuer verdict.
type StatusLevel string

const (
	StatusSafe    StatusLevel = "safe"
	StatusCaution StatusLevel = "caution"
	StatusBlocked StatusLevel = "blocked"
)

// Slot is a projected future point where a velocity count drops.
type Slot struct {
	Date       time.Time `json:"date"`
	CountAfter int       `json:"countAfter"`
}

// IssuerStatus summarises whether applying to an issuer is advisable right now.
type IssuerStatus struct {
	Issuer        string      `json:"issuer"`
	Name          string      `json:"name"`
	Level         StatusLevel `json:"level"`
	Reasons       []string    `json:"reasons,omitempty"`
	NextChange    *time.Time  `json:"nextChange,omitempty"`
	UpcomingSlots []Slot      `json:"upcomingSlots,omitempty"`
}

// Recommendation is the retention analyzer's verdict on a held card.
type Recommendation string

const (
	RecommendKeep              Recommendation = "keep"
	RecommendCancel            Recommendation = "cancel"
	RecommendDowngrade         Recommendation = "downgrade"
	RecommendCallRetentionLine Recommendation = "call_retention_line"
	RecommendWaitForBonus      Recommendation = "wait_for_bonus"
)

// Alternative is one action the user could take instead of the recommendation.
type Alternative struct {
	Kind            Recommendation `json:"kind"`
	TargetProductID string         `json:"targetProductId,omitempty"`
	TargetName      string         `json:"targetName,omitempty"`
	Benefit         string         `json:"benefit"`
	Considerations  []string       `json:"considerations,omitempty"`
}

// RetentionVerdict answers "is this card worth keeping".
type RetentionVerdict struct {
	CardID                string         `json:"cardId"`
	ProductID             string         `json:"productId"`
	AsOf                  time.Time      `json:"asOf"`
	AnnualFee             float64        `json:"annualFee"`
	EstimatedBenefitValue float64        `json:"estimatedBenefitValue"`
	NetValue              float64        `json:"netValue"`
	Recommendation        Recommendation `json:"recommendation"`
	Reasoning             string         `json:"reasoning"`
	CanRechurn            bool           `json:"canRechurn"`
	BonusEligibleDate     *time.Time     `json:"bonusEligibleDate,omitempty"`
	Alternatives          []Alternative  `json:"alternatives"`
	Warnings              []Warning      `json:"warnings,omitempty"`
}

// EvaluationRecord is a persisted eligibility verdict.
type EvaluationRecord struct {
	ID             string             `json:"id"`
	UserID         string             `json:"userId"`
	CatalogVersion string             `json:"catalogVersion"`
	Verdict        EligibilityVerdict `json:"verdict"`
	CreatedAt      time.Time          `json:"createdAt"`
	Metadata       EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId"`
	TotalMs       int64  `json:"totalMs"`
	RulesApplied  int    `json:"rulesApplied"`
	CardsReviewed int    `json:"cardsReviewed"`
	Cached        bool   `json:"cached"`
	EngineVersion string `json:"engineVersion"`
}
