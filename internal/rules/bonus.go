package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
)

// BonusResult holds the outcome of the bonus-rule dispatch.
type BonusResult struct {
	Blockers []domain.Blocker
	Warnings []domain.Warning
	// Notes are user-facing caveats, such as a cooldown measured from a
	// fallback date.
	Notes []string
}

// Indefinite reports whether any blocker has no resolve date.
func (b BonusResult) Indefinite() bool {
	_, indefinite := latestResolve(b.Blockers)
	return indefinite
}

// EligibleDate is the latest resolve date across the blockers, or nil.
func (b BonusResult) EligibleDate() *time.Time {
	latest, _ := latestResolve(b.Blockers)
	return latest
}

// BonusBlockers applies the bonus rules of candidate's issuer to cards.
// Cards are assumed valid.
func BonusBlockers(candidate domain.CardProduct, cards []domain.UserCard, ruleset []domain.Rule, now time.Time) BonusResult {
	var res BonusResult

	for _, rule := range ruleset {
		if rule == nil || rule.Kind() != domain.KindBonus || rule.Meta().Issuer != candidate.Issuer {
			continue
		}

		switch r := rule.(type) {
		case domain.LifetimeOncePerProductRule:
			if r.ProductFamily != "" && candidate.Family != r.ProductFamily {
				continue
			}
			for _, c := range cards {
				if c.HeldProduct(candidate.ID) {
					reason := fmt.Sprintf("the bonus is once per lifetime and %s was already held (card %s)", candidate.ID, c.ID)
					res.Blockers = append(res.Blockers, domain.NewBlocker(r, reason, nil, ""))
					break
				}
			}

		case domain.BonusCooldownRule:
			if r.CooldownMonths <= 0 {
				res.Warnings = append(res.Warnings, invalidRule(r, "cooldownMonths must be positive"))
				continue
			}
			if r.ProductFamily != "" && candidate.Family != r.ProductFamily {
				continue
			}
			cooldown(&res, r, candidate, cards, now)
		}
	}

	return res
}

func cooldown(res *BonusResult, r domain.BonusCooldownRule, candidate domain.CardProduct, cards []domain.UserCard, now time.Time) {
	anchor := r.Anchor
	if anchor == "" {
		anchor = domain.AnchorBonusReceived
	}

	var (
		latest     *time.Time
		latestCard string
	)
	for _, c := range cards {
		if !cooldownMatches(r, candidate, c) {
			continue
		}

		var start *time.Time
		switch anchor {
		case domain.AnchorBonusReceived:
			start = c.BonusReceivedDate
		case domain.AnchorCardClosed:
			// A card still open at now has no closure to anchor on and
			// takes the open-date fallback below.
			if !c.IsOpenAt(now) {
				start = c.ClosedDate
			}
		case domain.AnchorCardOpened:
			open := c.OpenDate
			start = &open
		}

		if start == nil {
			open := c.OpenDate
			start = &open
			res.Warnings = append(res.Warnings, domain.Warning{
				Code:    domain.WarnAnchorFallback,
				Subject: c.ID,
				Message: fmt.Sprintf("rule %s: no %s date recorded, cooldown measured from open date", r.ID, anchorLabel(anchor)),
			})
			res.Notes = append(res.Notes, fmt.Sprintf(
				"Card %s has no %s date recorded; its cooldown was measured from the open date %s and may end later than shown.",
				c.ID, anchorLabel(anchor), c.OpenDate.Format(domain.DateLayout)))
		}

		eligible := calendar.AddMonths(*start, r.CooldownMonths)
		if !eligible.After(now) {
			continue
		}
		if latest == nil || eligible.After(*latest) {
			latest = &eligible
			latestCard = c.ID
		}
	}

	if latest != nil {
		reason := fmt.Sprintf("%d-month cooldown from %s on card %s runs until %s",
			r.CooldownMonths, anchorLabel(anchor), latestCard, latest.Format(domain.DateLayout))
		res.Blockers = append(res.Blockers, domain.NewBlocker(r, reason, latest, ""))
	}

	if r.RequiresCardNotCurrentlyHeld {
		for _, c := range cards {
			if c.ProductID == candidate.ID && c.IsOpenAt(now) {
				reason := fmt.Sprintf("the bonus requires that %s is not currently held (card %s is open)", candidate.ID, c.ID)
				action := fmt.Sprintf("Close card %s before applying.", c.ID)
				res.Blockers = append(res.Blockers, domain.NewBlocker(r, reason, nil, action))
				break
			}
		}
	}
}

// cooldownMatches reports whether a card falls under a cooldown rule: same
// family when the rule names one, otherwise the exact product.
func cooldownMatches(r domain.BonusCooldownRule, candidate domain.CardProduct, c domain.UserCard) bool {
	if c.HeldProduct(candidate.ID) {
		return true
	}
	return r.ProductFamily != "" && c.ProductFamily == r.ProductFamily
}

func anchorLabel(a domain.CooldownAnchor) string {
	switch a {
	case domain.AnchorCardClosed:
		return "card closure"
	case domain.AnchorCardOpened:
		return "card opening"
	default:
		return "bonus receipt"
	}
}
