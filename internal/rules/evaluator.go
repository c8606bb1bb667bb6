package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Evaluate decides whether the user may apply for candidate and whether its
// signup bonus would be honored as of now. It never mutates its inputs and
// returns the same verdict for the same arguments.
func Evaluate(candidate domain.CardProduct, cards []domain.UserCard, ruleset []domain.Rule, now time.Time) domain.EligibilityVerdict {
	valid, warnings := screenCards(cards)
	issuerRules := ForIssuer(ruleset, candidate.Issuer)

	verdict := domain.EligibilityVerdict{
		ProductID:           candidate.ID,
		Issuer:              candidate.Issuer,
		AsOf:                now,
		ApplicationBlockers: []domain.Blocker{},
		BonusBlockers:       []domain.Blocker{},
		Warnings:            warnings,
		Incomplete:          len(warnings) > 0,
	}

	app := applicationBlockers(valid, issuerRules, now)
	verdict.ApplicationBlockers = append(verdict.ApplicationBlockers, app.blockers...)
	verdict.Advisories = app.advisories
	verdict.Warnings = append(verdict.Warnings, app.warnings...)

	bonus := BonusBlockers(candidate, valid, issuerRules, now)
	verdict.BonusBlockers = append(verdict.BonusBlockers, bonus.Blockers...)
	verdict.Warnings = append(verdict.Warnings, bonus.Warnings...)

	verdict.CanApply = len(verdict.ApplicationBlockers) == 0
	verdict.CanReceiveBonus = len(verdict.BonusBlockers) == 0
	verdict.ResolveDate = earliestResolve(verdict.ApplicationBlockers, verdict.BonusBlockers)
	verdict.Recommendations = recommend(verdict, app.cautions, bonus.Notes)

	return verdict
}

// ForIssuer returns the rules owned by issuer, in catalog order.
func ForIssuer(ruleset []domain.Rule, issuer string) []domain.Rule {
	out := make([]domain.Rule, 0, len(ruleset))
	for _, r := range ruleset {
		if r != nil && r.Meta().Issuer == issuer {
			out = append(out, r)
		}
	}
	return out
}

// screenCards splits out records that fail validation.
func screenCards(cards []domain.UserCard) ([]domain.UserCard, []domain.Warning) {
	valid := make([]domain.UserCard, 0, len(cards))
	var warnings []domain.Warning
	for _, c := range cards {
		if err := c.Validate(); err != nil {
			subject := c.ID
			if subject == "" {
				subject = "(unidentified card)"
			}
			warnings = append(warnings, domain.Warning{
				Code:    domain.WarnInvalidCard,
				Subject: subject,
				Message: err.Error(),
			})
			continue
		}
		valid = append(valid, c)
	}
	return valid, warnings
}

type applicationResult struct {
	blockers   []domain.Blocker
	advisories []domain.Blocker
	cautions   []string
	warnings   []domain.Warning
}

func applicationBlockers(cards []domain.UserCard, ruleset []domain.Rule, now time.Time) applicationResult {
	var res applicationResult

	for _, rule := range ruleset {
		if rule.Kind() != domain.KindApplication {
			continue
		}

		switch r := rule.(type) {
		case domain.VelocityLimitRule:
			if r.WindowMonths <= 0 || r.MaxCount <= 0 {
				res.warnings = append(res.warnings, invalidRule(r, "windowMonths and maxCount must be positive"))
				continue
			}
			res.warnings = append(res.warnings, predicateWarnings(r, r.Scope, cards)...)

			sched := velocity.Schedule(cards, r.WindowMonths, now, velocity.Filter{Issuer: r.Issuer, Scope: r.Scope})
			count := len(sched)
			switch {
			case count >= r.MaxCount:
				reason := fmt.Sprintf("%d of %d new accounts allowed in %d months are already used", count, r.MaxCount, r.WindowMonths)
				res.blockers = append(res.blockers, domain.NewBlocker(r, reason, velocity.ClearsAt(sched, r.MaxCount), ""))
			case count == r.MaxCount-1:
				res.cautions = append(res.cautions, fmt.Sprintf(
					"One slot left under %s: a new account would reach the limit of %d in %d months.",
					ruleName(r), r.MaxCount, r.WindowMonths))
			}

		case domain.ProductFamilyConflictRule:
			var held []string
			for _, c := range cards {
				if c.IsOpenAt(now) && r.Conflicts(c) {
					held = append(held, c.ProductID)
				}
			}
			if len(held) > 0 {
				reason := fmt.Sprintf("an open card conflicts with this product (%s)", strings.Join(held, ", "))
				action := fmt.Sprintf("Product change %s to a card outside the conflicting family before applying.", strings.Join(held, ", "))
				res.blockers = append(res.blockers, domain.NewBlocker(r, reason, nil, action))
			}

		case domain.MaxOpenCardsRule:
			if r.MaxCount <= 0 {
				res.warnings = append(res.warnings, invalidRule(r, "maxCount must be positive"))
				continue
			}
			res.warnings = append(res.warnings, predicateWarnings(r, r.Scope, cards)...)

			open := 0
			for _, c := range cards {
				if c.IsOpenAt(now) && r.Scope.Includes(r.Issuer, c) {
					open++
				}
			}
			if open >= r.MaxCount {
				reason := fmt.Sprintf("%d open cards, limit is %d", open, r.MaxCount)
				res.blockers = append(res.blockers, domain.NewBlocker(r, reason, nil, "Close an existing card first."))
			}

		case domain.RelationshipPreferredRule:
			reason := "issuer favors applicants with an existing banking relationship"
			action := fmt.Sprintf("Consider opening a deposit account with %s before applying.", r.Issuer)
			res.advisories = append(res.advisories, domain.NewBlocker(r, reason, nil, action))

		case domain.InquirySensitivityRule:
			if r.WindowMonths <= 0 || r.MaxCount <= 0 {
				res.warnings = append(res.warnings, invalidRule(r, "windowMonths and maxCount must be positive"))
				continue
			}
			res.warnings = append(res.warnings, predicateWarnings(r, r.Scope, cards)...)

			sched := velocity.Schedule(cards, r.WindowMonths, now, velocity.Filter{Issuer: r.Issuer, Scope: r.Scope})
			if len(sched) >= r.MaxCount {
				reason := fmt.Sprintf("%d recent accounts in %d months may read as too many inquiries", len(sched), r.WindowMonths)
				res.advisories = append(res.advisories, domain.NewBlocker(r, reason, velocity.ClearsAt(sched, r.MaxCount), ""))
			}
		}
	}

	return res
}

func invalidRule(r domain.Rule, msg string) domain.Warning {
	return domain.Warning{
		Code:    domain.WarnInvalidRule,
		Subject: r.Meta().ID,
		Message: fmt.Sprintf("rule skipped: %s", msg),
	}
}

func ruleName(r domain.Rule) string {
	if d := r.Meta().Description; d != "" {
		return d
	}
	return r.Meta().ID
}

func earliestResolve(groups ...[]domain.Blocker) *time.Time {
	var out *time.Time
	for _, g := range groups {
		for i := range g {
			out = calendar.Earliest(out, g[i].ResolveDate)
		}
	}
	return out
}

func latestResolve(blockers []domain.Blocker) (latest *time.Time, indefinite bool) {
	for i := range blockers {
		if blockers[i].ResolveDate == nil {
			indefinite = true
			continue
		}
		latest = calendar.Latest(latest, blockers[i].ResolveDate)
	}
	return latest, indefinite
}
