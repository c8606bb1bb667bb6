package rules

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Fixed recommendation sentences.
const (
	msgIncomplete = "Some card records were rejected as invalid; this verdict may be overstated until they are corrected."
	msgEligible   = "Eligible to apply and to receive the signup bonus."
)

// recommend builds the ordered recommendation list for a verdict.
func recommend(v domain.EligibilityVerdict, cautions, notes []string) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	if v.Incomplete {
		add(msgIncomplete)
	}

	switch {
	case !v.CanApply:
		// The soonest date any blocker clears; undated blockers need action.
		if v.ResolveDate == nil {
			add("Not eligible to apply until action is taken.")
		} else {
			add(fmt.Sprintf("Not eligible to apply until %s.", v.ResolveDate.Format(domain.DateLayout)))
		}
		for _, b := range v.ApplicationBlockers {
			add(b.ActionRequired)
		}
		for _, b := range v.BonusBlockers {
			add(b.ActionRequired)
		}

	case !v.CanReceiveBonus:
		latest, indefinite := latestResolve(v.BonusBlockers)
		if indefinite || latest == nil {
			add("Approval possible, but the signup bonus would not be awarded under current history.")
		} else {
			add(fmt.Sprintf("Approval possible, but the signup bonus would not be awarded until %s.", latest.Format(domain.DateLayout)))
		}
		for _, b := range v.BonusBlockers {
			add(b.ActionRequired)
		}

	default:
		add(msgEligible)
	}

	for _, a := range v.Advisories {
		if a.ResolveDate != nil {
			add(fmt.Sprintf("Caution: %s (eases on %s).", a.Reason, a.ResolveDate.Format(domain.DateLayout)))
		} else {
			add(fmt.Sprintf("Caution: %s.", a.Reason))
		}
		add(a.ActionRequired)
	}
	for _, c := range cautions {
		add(c)
	}
	for _, n := range notes {
		add(n)
	}

	return out
}
