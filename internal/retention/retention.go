// Package retention decides whether a held card is worth its annual fee.
package retention

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Fixed thresholds, in cents of net annual value.
const (
	KeepThreshold      = 5000
	RetentionThreshold = -5000

	// A fresh bonus this many months out or sooner is worth waiting for.
	RechurnHorizonMonths = 6
)

// Analyze values card against product's annual fee and recommends what to do
// with it as of now. usage may hold records for other cards; only records for
// card.ID are used.
func Analyze(card domain.UserCard, product domain.CardProduct, ruleset []domain.Rule, usage []domain.BenefitUsage, now time.Time) domain.RetentionVerdict {
	v := domain.RetentionVerdict{
		CardID:       card.ID,
		ProductID:    product.ID,
		AsOf:         now,
		AnnualFee:    product.AnnualFee,
		Alternatives: []domain.Alternative{},
	}

	if card.ProductID != product.ID {
		v.Warnings = append(v.Warnings, domain.Warning{
			Code:    domain.WarnUnknownProduct,
			Subject: card.ID,
			Message: fmt.Sprintf("card is recorded as %s but was analyzed as %s", card.ProductID, product.ID),
		})
	}

	value, unused := benefitValue(card.ID, product, usage)
	v.EstimatedBenefitValue = fromCents(value)
	v.NetValue = fromCents(value - toCents(product.AnnualFee))
	for _, b := range unused {
		v.Warnings = append(v.Warnings, domain.Warning{
			Code:    domain.WarnUnusedBenefit,
			Subject: b.ID,
			Message: fmt.Sprintf("no usage recorded for %s; counted at face value %s", b.Name, money(b.FaceValue)),
		})
	}

	rc := rechurn(card, product, ruleset, now)
	v.CanRechurn = rc.canRechurn
	v.BonusEligibleDate = rc.eligible
	v.Warnings = append(v.Warnings, rc.warnings...)

	net := value - toCents(product.AnnualFee)
	v.Recommendation = decide(net, rc, len(product.DowngradeTargets) > 0, now)
	v.Reasoning = reasoning(v, product, unused, rc)
	v.Alternatives = alternatives(v, product, rc)

	return v
}

// benefitValue sums benefit value in cents. A benefit without usage counts
// at face value; otherwise usage is capped at face value.
func benefitValue(cardID string, product domain.CardProduct, usage []domain.BenefitUsage) (int64, []domain.Benefit) {
	var total int64
	var unused []domain.Benefit
	for _, b := range product.Benefits {
		used, seen := 0.0, false
		for _, u := range usage {
			if u.CardID == cardID && u.BenefitID == b.ID {
				used += u.UsedAmount
				seen = true
			}
		}
		if !seen {
			unused = append(unused, b)
			total += toCents(b.FaceValue)
			continue
		}
		total += toCents(math.Max(0, math.Min(b.FaceValue, used)))
	}
	return total, unused
}

type rechurnState struct {
	canRechurn bool
	eligible   *time.Time
	blockers   []domain.Blocker
	warnings   []domain.Warning
}

// rechurn runs the bonus rules as if the card were closed today.
func rechurn(card domain.UserCard, product domain.CardProduct, ruleset []domain.Rule, now time.Time) rechurnState {
	if err := card.Validate(); err != nil {
		return rechurnState{warnings: []domain.Warning{{
			Code:    domain.WarnInvalidCard,
			Subject: card.ID,
			Message: err.Error(),
		}}}
	}

	closed := card
	if card.IsOpenAt(now) {
		at := now
		closed.ClosedDate = &at
	}

	res := rules.BonusBlockers(product, []domain.UserCard{closed}, ruleset, now)
	return rechurnState{
		canRechurn: !res.Indefinite(),
		eligible:   res.EligibleDate(),
		blockers:   res.Blockers,
		warnings:   res.Warnings,
	}
}

// soon reports whether a fresh bonus is available now or within the horizon.
func (r rechurnState) soon(now time.Time) bool {
	if !r.canRechurn {
		return false
	}
	return r.eligible == nil || !r.eligible.After(calendar.AddMonths(now, RechurnHorizonMonths))
}

func decide(net int64, rc rechurnState, canDowngrade bool, now time.Time) domain.Recommendation {
	switch {
	case net >= KeepThreshold:
		return domain.RecommendKeep
	case net >= RetentionThreshold:
		return domain.RecommendCallRetentionLine
	case rc.soon(now):
		return domain.RecommendWaitForBonus
	case canDowngrade:
		return domain.RecommendDowngrade
	default:
		return domain.RecommendCancel
	}
}

func reasoning(v domain.RetentionVerdict, product domain.CardProduct, unused []domain.Benefit, rc rechurnState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Estimated benefit value of %s against a %s annual fee gives a net value of %s.",
		money(v.EstimatedBenefitValue), money(v.AnnualFee), money(v.NetValue))

	if len(unused) > 0 {
		var sum float64
		names := make([]string, 0, len(unused))
		for _, u := range unused {
			sum += u.FaceValue
			names = append(names, u.Name)
		}
		fmt.Fprintf(&b, " This includes %s from benefits with no recorded usage (%s), counted at full face value; actual value may be lower.",
			money(sum), strings.Join(names, ", "))
	}

	switch v.Recommendation {
	case domain.RecommendKeep:
		b.WriteString(" The card pays for itself; keep it.")
	case domain.RecommendCallRetentionLine:
		b.WriteString(" The card is close to break-even; ask the issuer for a retention offer before deciding.")
	case domain.RecommendWaitForBonus:
		if rc.eligible == nil {
			b.WriteString(" A fresh signup bonus is available now, so cancelling and reapplying recovers more than the fee.")
		} else {
			fmt.Fprintf(&b, " A fresh signup bonus becomes available on %s; hold until then and rechurn.", rc.eligible.Format(domain.DateLayout))
		}
	case domain.RecommendDowngrade:
		fmt.Fprintf(&b, " The fee is not justified and no bonus is close; product change to a cheaper card (%s) to keep the account history.",
			product.DowngradeTargets[0].Name)
	case domain.RecommendCancel:
		b.WriteString(" The fee is not justified, no bonus is close and no downgrade path exists; cancel the card.")
	}

	if !rc.canRechurn {
		reason := "under current history"
		for _, bl := range rc.blockers {
			if bl.ResolveDate == nil {
				reason = "because " + bl.Reason
				break
			}
		}
		fmt.Fprintf(&b, " A new signup bonus on this product is not available %s.", reason)
	}
	return b.String()
}

func alternatives(v domain.RetentionVerdict, product domain.CardProduct, rc rechurnState) []domain.Alternative {
	out := []domain.Alternative{}

	if v.Recommendation != domain.RecommendCallRetentionLine {
		out = append(out, domain.Alternative{
			Kind:    domain.RecommendCallRetentionLine,
			Benefit: "Ask for a retention offer such as a statement credit or bonus points",
			Considerations: []string{
				"Offers depend on spending history and are not guaranteed",
				"Accepting an offer usually commits you to another card year",
			},
		})
	}

	for _, t := range product.DowngradeTargets {
		cons := []string{
			"Keeps the account open, preserving credit history and limit",
			fmt.Sprintf("Benefits of %s are lost", productName(product)),
		}
		if t.AnnualFee == 0 {
			cons = append(cons, "No annual fee")
		} else {
			cons = append(cons, fmt.Sprintf("Annual fee drops from %s to %s", money(product.AnnualFee), money(t.AnnualFee)))
		}
		out = append(out, domain.Alternative{
			Kind:            domain.RecommendDowngrade,
			TargetProductID: t.ProductID,
			TargetName:      t.Name,
			Benefit:         fmt.Sprintf("Saves %s a year", money(product.AnnualFee-t.AnnualFee)),
			Considerations:  cons,
		})
	}

	if v.Recommendation != domain.RecommendCancel {
		cons := []string{"Closing lowers available credit and may raise utilization"}
		switch {
		case !rc.canRechurn:
			cons = append(cons, "The signup bonus cannot be earned again on this product")
		case rc.eligible == nil:
			cons = append(cons, "A new signup bonus is available immediately after closing")
		default:
			cons = append(cons, fmt.Sprintf("A new signup bonus becomes available on %s", rc.eligible.Format(domain.DateLayout)))
		}
		out = append(out, domain.Alternative{
			Kind:           domain.RecommendCancel,
			Benefit:        fmt.Sprintf("Avoids the %s annual fee", money(product.AnnualFee)),
			Considerations: cons,
		})
	}

	if v.Recommendation != domain.RecommendKeep {
		out = append(out, domain.Alternative{
			Kind:           domain.RecommendKeep,
			Benefit:        fmt.Sprintf("Retains benefits estimated at %s", money(v.EstimatedBenefitValue)),
			Considerations: []string{fmt.Sprintf("Net value is %s per year", money(v.NetValue))},
		})
	}

	return out
}

func productName(p domain.CardProduct) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}
