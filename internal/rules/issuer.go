package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Catalog is the read side of a rule catalog the summarizer needs.
type Catalog interface {
	Issuers() []domain.Issuer
	RulesFor(issuer string) []domain.Rule
}

// Summarize classifies every catalog issuer as safe, caution or blocked for
// a new application as of now. Only application rules are consulted.
func Summarize(cards []domain.UserCard, catalog Catalog, now time.Time) []domain.IssuerStatus {
	valid, _ := screenCards(cards)

	issuers := append([]domain.Issuer(nil), catalog.Issuers()...)
	sort.SliceStable(issuers, func(i, j int) bool {
		if displayName(issuers[i]) == displayName(issuers[j]) {
			return issuers[i].ID < issuers[j].ID
		}
		return displayName(issuers[i]) < displayName(issuers[j])
	})

	out := make([]domain.IssuerStatus, 0, len(issuers))
	for _, iss := range issuers {
		out = append(out, summarizeIssuer(iss, valid, catalog.RulesFor(iss.ID), now))
	}
	return out
}

func summarizeIssuer(iss domain.Issuer, cards []domain.UserCard, ruleset []domain.Rule, now time.Time) domain.IssuerStatus {
	status := domain.IssuerStatus{
		Issuer: iss.ID,
		Name:   displayName(iss),
		Level:  domain.StatusSafe,
	}

	// The tightest velocity rule has the least headroom; its schedule
	// drives the slot projection.
	headroom := -1
	var tightest []velocity.Aging

	for _, rule := range ruleset {
		if rule.Kind() != domain.KindApplication {
			continue
		}

		switch r := rule.(type) {
		case domain.VelocityLimitRule:
			if r.WindowMonths <= 0 || r.MaxCount <= 0 {
				continue
			}
			sched := velocity.Schedule(cards, r.WindowMonths, now, velocity.Filter{Issuer: r.Issuer, Scope: r.Scope})
			count := len(sched)
			switch {
			case count >= r.MaxCount:
				status.Level = escalate(status.Level, domain.StatusBlocked)
				status.Reasons = append(status.Reasons, fmt.Sprintf("%s: %d of %d in %d months", ruleName(r), count, r.MaxCount, r.WindowMonths))
				status.NextChange = calendar.Earliest(status.NextChange, velocity.ClearsAt(sched, r.MaxCount))
			case count == r.MaxCount-1:
				status.Level = escalate(status.Level, domain.StatusCaution)
				status.Reasons = append(status.Reasons, fmt.Sprintf("%s: one slot left (%d of %d)", ruleName(r), count, r.MaxCount))
			}
			if h := r.MaxCount - count; headroom < 0 || h < headroom {
				headroom = h
				tightest = sched
			}

		case domain.MaxOpenCardsRule:
			if r.MaxCount <= 0 {
				continue
			}
			open := 0
			for _, c := range cards {
				if c.IsOpenAt(now) && r.Scope.Includes(r.Issuer, c) {
					open++
				}
			}
			if open >= r.MaxCount {
				status.Level = escalate(status.Level, domain.StatusBlocked)
				status.Reasons = append(status.Reasons, fmt.Sprintf("%d open cards, limit %d", open, r.MaxCount))
			}

		case domain.RelationshipPreferredRule:
			status.Level = escalate(status.Level, domain.StatusCaution)
			status.Reasons = append(status.Reasons, "existing banking relationship preferred")

		case domain.InquirySensitivityRule:
			if r.WindowMonths <= 0 || r.MaxCount <= 0 {
				continue
			}
			if n := velocity.Count(cards, r.WindowMonths, now, velocity.Filter{Issuer: r.Issuer, Scope: r.Scope}); n >= r.MaxCount {
				status.Level = escalate(status.Level, domain.StatusCaution)
				status.Reasons = append(status.Reasons, fmt.Sprintf("inquiry sensitive: %d accounts in %d months", n, r.WindowMonths))
			}
		}
	}

	if len(tightest) > 0 {
		status.UpcomingSlots = velocity.UpcomingSlots(tightest)
	}
	return status
}

var levelRank = map[domain.StatusLevel]int{
	domain.StatusSafe:    0,
	domain.StatusCaution: 1,
	domain.StatusBlocked: 2,
}

// escalate returns the more severe of cur and next.
func escalate(cur, next domain.StatusLevel) domain.StatusLevel {
	if levelRank[next] > levelRank[cur] {
		return next
	}
	return cur
}

func displayName(iss domain.Issuer) string {
	if iss.Name != "" {
		return iss.Name
	}
	return iss.ID
}
