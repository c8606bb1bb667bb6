package rules

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/velocity"
)

var now = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func monthsAgo(n int) time.Time { return calendar.SubMonths(now, n) }

func ptr(t time.Time) *time.Time { return &t }

func opened(id, issuer, product string, months int) domain.UserCard {
	return domain.UserCard{ID: id, ProductID: product, Issuer: issuer, OpenDate: monthsAgo(months)}
}

var (
	sapphire = domain.CardProduct{ID: "chase-sapphire-preferred", Issuer: "chase", Name: "Sapphire Preferred", Family: "sapphire", AnnualFee: 95}
	platinum = domain.CardProduct{ID: "amex-platinum", Issuer: "amex", Name: "Platinum", AnnualFee: 695}

	chase524 = domain.VelocityLimitRule{
		RuleMeta:     domain.RuleMeta{ID: "chase-524", Issuer: "chase", Description: "Chase 5/24"},
		WindowMonths: 24,
		MaxCount:     5,
		Scope:        domain.Scope{AllIssuers: true, BusinessExempt: true},
	}
)

func fiveRecent() []domain.UserCard {
	return []domain.UserCard{
		opened("c1", "citi", "citi-premier", 23),
		opened("c2", "amex", "amex-gold", 20),
		opened("c3", "capital_one", "venture-x", 10),
		opened("c4", "chase", "freedom-unlimited", 5),
		opened("c5", "barclays", "aviator", 1),
	}
}

func TestVelocityLimitBlocks(t *testing.T) {
	cards := fiveRecent()
	v := Evaluate(sapphire, cards, []domain.Rule{chase524}, now)

	if v.CanApply {
		t.Fatal("expected application to be blocked at 5/24")
	}
	if !v.CanReceiveBonus {
		t.Error("velocity rules must not affect bonus eligibility")
	}
	if len(v.ApplicationBlockers) != 1 {
		t.Fatalf("expected 1 application blocker, got %d", len(v.ApplicationBlockers))
	}

	b := v.ApplicationBlockers[0]
	want := calendar.AddMonths(cards[0].OpenDate, 24)
	if b.ResolveDate == nil || !b.ResolveDate.Equal(want) {
		t.Fatalf("resolve date = %v, want %s", b.ResolveDate, want.Format(domain.DateLayout))
	}
	if b.RuleID != "chase-524" || b.Category != domain.CategoryVelocityLimit {
		t.Errorf("unexpected blocker identity %s/%s", b.RuleID, b.Category)
	}
	if v.ResolveDate == nil || !v.ResolveDate.Equal(want) {
		t.Errorf("verdict resolve date = %v", v.ResolveDate)
	}
	if got := v.Recommendations[0]; got != "Not eligible to apply until "+want.Format(domain.DateLayout)+"." {
		t.Errorf("first recommendation = %q", got)
	}
}

func TestVelocityResolveDateSoundness(t *testing.T) {
	portfolios := map[string][]domain.UserCard{
		"AtLimit": fiveRecent(),
		"OverLimit": append(fiveRecent(),
			opened("c6", "discover", "it", 2),
			opened("c7", "wells", "active-cash", 3)),
		"SameDay": {
			opened("d1", "citi", "a", 12), opened("d2", "citi", "b", 12),
			opened("d3", "citi", "c", 12), opened("d4", "citi", "d", 12),
			opened("d5", "citi", "e", 12),
		},
		"MonthEnd": {
			{ID: "e1", ProductID: "a", Issuer: "citi", OpenDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
			{ID: "e2", ProductID: "b", Issuer: "citi", OpenDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
			{ID: "e3", ProductID: "c", Issuer: "citi", OpenDate: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
			{ID: "e4", ProductID: "d", Issuer: "citi", OpenDate: time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)},
			{ID: "e5", ProductID: "e", Issuer: "citi", OpenDate: time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)},
		},
	}

	for name, cards := range portfolios {
		t.Run(name, func(t *testing.T) {
			v := Evaluate(sapphire, cards, []domain.Rule{chase524}, now)
			if v.CanApply {
				t.Fatal("expected blocked verdict")
			}
			d := v.ApplicationBlockers[0].ResolveDate
			if d == nil {
				t.Fatal("expected a resolve date")
			}

			filter := velocity.Filter{Issuer: "chase", Scope: chase524.Scope}
			if n := velocity.Count(cards, 24, *d, filter); n >= chase524.MaxCount {
				t.Errorf("count at resolve date %s = %d, want < %d", d.Format(domain.DateLayout), n, chase524.MaxCount)
			}
			if n := velocity.Count(cards, 24, d.Add(-time.Nanosecond), filter); n < chase524.MaxCount {
				t.Errorf("count just before resolve date = %d, should still be blocked", n)
			}

			again := Evaluate(sapphire, cards, []domain.Rule{chase524}, *d)
			if !again.CanApply {
				t.Errorf("re-evaluating at %s should clear the blocker", d.Format(domain.DateLayout))
			}
		})
	}
}

func TestVelocityOneSlotLeft(t *testing.T) {
	cards := fiveRecent()[1:]
	v := Evaluate(sapphire, cards, []domain.Rule{chase524}, now)

	if !v.CanApply {
		t.Fatal("4/24 should not block")
	}
	if v.Recommendations[0] != msgEligible {
		t.Errorf("first recommendation = %q", v.Recommendations[0])
	}
	if !containsPrefix(v.Recommendations, "One slot left") {
		t.Errorf("expected a one-slot-left caution, got %v", v.Recommendations)
	}
}

func TestBusinessCardsExempt(t *testing.T) {
	cards := fiveRecent()
	cards[4].IsBusiness = true
	v := Evaluate(sapphire, cards, []domain.Rule{chase524}, now)
	if !v.CanApply {
		t.Error("business card should not count toward a personal-only limit")
	}
}

func TestProductFamilyConflict(t *testing.T) {
	rule := domain.ProductFamilyConflictRule{
		RuleMeta:              domain.RuleMeta{ID: "sapphire-conflict", Issuer: "chase"},
		ConflictingProductIDs: []string{"chase-sapphire-reserve"},
	}

	t.Run("OpenConflict", func(t *testing.T) {
		cards := []domain.UserCard{opened("r", "chase", "chase-sapphire-reserve", 40)}
		v := Evaluate(sapphire, cards, []domain.Rule{rule}, now)
		if v.CanApply {
			t.Fatal("expected conflict to block")
		}
		b := v.ApplicationBlockers[0]
		if b.ResolveDate != nil {
			t.Error("conflict blocker must not have a resolve date")
		}
		if !strings.Contains(b.ActionRequired, "Product change") {
			t.Errorf("action = %q", b.ActionRequired)
		}
		if v.Recommendations[0] != "Not eligible to apply until action is taken." {
			t.Errorf("first recommendation = %q", v.Recommendations[0])
		}
		if v.Recommendations[1] != b.ActionRequired {
			t.Errorf("second recommendation = %q, want the blocker action", v.Recommendations[1])
		}
	})

	t.Run("ClosedConflict", func(t *testing.T) {
		c := opened("r", "chase", "chase-sapphire-reserve", 40)
		c.ClosedDate = ptr(monthsAgo(2))
		v := Evaluate(sapphire, []domain.UserCard{c}, []domain.Rule{rule}, now)
		if !v.CanApply {
			t.Error("closed card must not conflict")
		}
	})

	t.Run("FamilyMatch", func(t *testing.T) {
		famRule := domain.ProductFamilyConflictRule{
			RuleMeta:      domain.RuleMeta{ID: "sapphire-family", Issuer: "chase"},
			ProductFamily: "sapphire",
		}
		c := opened("r", "chase", "chase-sapphire-reserve", 40)
		c.ProductFamily = "sapphire"
		v := Evaluate(sapphire, []domain.UserCard{c}, []domain.Rule{famRule}, now)
		if v.CanApply {
			t.Error("family member should conflict")
		}
	})
}

func TestMaxOpenCards(t *testing.T) {
	rule := domain.MaxOpenCardsRule{
		RuleMeta: domain.RuleMeta{ID: "c1-two-open", Issuer: "capital_one"},
		MaxCount: 2,
	}
	venture := domain.CardProduct{ID: "venture", Issuer: "capital_one"}

	closed := opened("x3", "capital_one", "quicksilver", 50)
	closed.ClosedDate = ptr(monthsAgo(10))
	cards := []domain.UserCard{
		opened("x1", "capital_one", "savor", 40),
		opened("x2", "capital_one", "venture-x", 30),
		closed,
		opened("x4", "chase", "freedom", 20),
	}

	v := Evaluate(venture, cards, []domain.Rule{rule}, now)
	if v.CanApply {
		t.Fatal("expected max-open blocker")
	}
	if got := v.ApplicationBlockers[0].ActionRequired; got != "Close an existing card first." {
		t.Errorf("action = %q", got)
	}

	v = Evaluate(venture, cards[1:], []domain.Rule{rule}, now)
	if !v.CanApply {
		t.Error("one open card should not block")
	}
}

func TestRelationshipPreferredIsAdvisory(t *testing.T) {
	rule := domain.RelationshipPreferredRule{RuleMeta: domain.RuleMeta{ID: "usbank-rel", Issuer: "usbank"}}
	altitude := domain.CardProduct{ID: "altitude-reserve", Issuer: "usbank"}

	v := Evaluate(altitude, nil, []domain.Rule{rule}, now)
	if !v.CanApply {
		t.Fatal("relationship preference must never block an application")
	}
	if len(v.ApplicationBlockers) != 0 {
		t.Errorf("expected no application blockers, got %d", len(v.ApplicationBlockers))
	}
	if len(v.Advisories) != 1 || v.Advisories[0].ActionRequired == "" {
		t.Fatalf("expected one advisory with an action, got %+v", v.Advisories)
	}
	if !containsPrefix(v.Recommendations, "Caution:") {
		t.Errorf("expected a caution recommendation, got %v", v.Recommendations)
	}
}

func TestInquirySensitivityAdvisory(t *testing.T) {
	rule := domain.InquirySensitivityRule{
		RuleMeta:     domain.RuleMeta{ID: "citi-inq", Issuer: "citi"},
		WindowMonths: 6,
		MaxCount:     2,
		Scope:        domain.Scope{AllIssuers: true},
	}
	premier := domain.CardProduct{ID: "citi-premier", Issuer: "citi"}
	cards := []domain.UserCard{
		opened("a", "chase", "freedom", 1),
		opened("b", "amex", "gold", 4),
	}

	v := Evaluate(premier, cards, []domain.Rule{rule}, now)
	if !v.CanApply {
		t.Fatal("inquiry sensitivity is advisory")
	}
	if len(v.Advisories) != 1 {
		t.Fatalf("expected 1 advisory, got %d", len(v.Advisories))
	}
	want := calendar.AddMonths(cards[1].OpenDate, 6)
	if d := v.Advisories[0].ResolveDate; d == nil || !d.Equal(want) {
		t.Errorf("advisory clears %v, want %s", d, want.Format(domain.DateLayout))
	}
	if v.ResolveDate != nil {
		t.Error("advisories must not set the verdict resolve date")
	}
}

func TestLifetimeLanguage(t *testing.T) {
	rule := domain.LifetimeOncePerProductRule{RuleMeta: domain.RuleMeta{ID: "amex-lifetime", Issuer: "amex"}}

	held := opened("p1", "amex", "amex-platinum", 60)
	held.ClosedDate = ptr(monthsAgo(30))
	held.BonusReceivedDate = ptr(monthsAgo(57))

	v := Evaluate(platinum, []domain.UserCard{held}, []domain.Rule{rule}, now)
	if v.CanReceiveBonus {
		t.Fatal("lifetime language should block the bonus")
	}
	if !v.CanApply {
		t.Error("lifetime language must not affect approval")
	}
	if len(v.BonusBlockers) != 1 || v.BonusBlockers[0].ResolveDate != nil {
		t.Fatalf("expected one indefinite bonus blocker, got %+v", v.BonusBlockers)
	}
	if v.Recommendations[0] != "Approval possible, but the signup bonus would not be awarded under current history." {
		t.Errorf("first recommendation = %q", v.Recommendations[0])
	}

	t.Run("ProductChangeLineage", func(t *testing.T) {
		pc := opened("p2", "amex", "amex-green", 20)
		pc.ProductChangedFromID = "amex-platinum"
		v := Evaluate(platinum, []domain.UserCard{pc}, []domain.Rule{rule}, now)
		if v.CanReceiveBonus {
			t.Error("product-change lineage counts as having held the product")
		}
	})

	t.Run("NeverHeld", func(t *testing.T) {
		other := opened("g", "amex", "amex-gold", 20)
		v := Evaluate(platinum, []domain.UserCard{other}, []domain.Rule{rule}, now)
		if !v.CanReceiveBonus {
			t.Error("a different product must not trip lifetime language")
		}
	})
}

func sapphireCooldown(months int, anchor domain.CooldownAnchor) domain.BonusCooldownRule {
	return domain.BonusCooldownRule{
		RuleMeta:       domain.RuleMeta{ID: "sapphire-48", Issuer: "chase"},
		CooldownMonths: months,
		Anchor:         anchor,
		ProductFamily:  "sapphire",
	}
}

func TestCooldownWorstCase(t *testing.T) {
	rule := sapphireCooldown(48, domain.AnchorBonusReceived)

	older := opened("s1", "chase", "chase-sapphire-reserve", 60)
	older.ProductFamily = "sapphire"
	older.BonusReceivedDate = ptr(monthsAgo(40))
	older.ClosedDate = ptr(monthsAgo(30))

	newer := opened("s2", "chase", "chase-sapphire-preferred", 20)
	newer.ProductFamily = "sapphire"
	newer.BonusReceivedDate = ptr(monthsAgo(18))
	newer.ClosedDate = ptr(monthsAgo(6))

	early := calendar.AddMonths(*older.BonusReceivedDate, 48)
	late := calendar.AddMonths(*newer.BonusReceivedDate, 48)

	for name, cards := range map[string][]domain.UserCard{
		"OlderFirst": {older, newer},
		"NewerFirst": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			v := Evaluate(sapphire, cards, []domain.Rule{rule}, now)
			if v.CanReceiveBonus {
				t.Fatal("expected cooldown to block the bonus")
			}
			if len(v.BonusBlockers) != 1 {
				t.Fatalf("expected one cooldown blocker, got %d", len(v.BonusBlockers))
			}
			d := v.BonusBlockers[0].ResolveDate
			if d == nil || !d.Equal(late) {
				t.Errorf("resolve date = %v, want %s (not %s)", d, late.Format(domain.DateLayout), early.Format(domain.DateLayout))
			}
			want := fmt.Sprintf("Approval possible, but the signup bonus would not be awarded until %s.", late.Format(domain.DateLayout))
			if v.Recommendations[0] != want {
				t.Errorf("first recommendation = %q", v.Recommendations[0])
			}
		})
	}
}

func TestCooldownBoundary(t *testing.T) {
	rule := domain.BonusCooldownRule{
		RuleMeta:       domain.RuleMeta{ID: "citi-24", Issuer: "citi"},
		CooldownMonths: 24,
		Anchor:         domain.AnchorBonusReceived,
	}
	premier := domain.CardProduct{ID: "citi-premier", Issuer: "citi"}

	t.Run("ExactlyTwentyFourMonths", func(t *testing.T) {
		c := opened("p", "citi", "citi-premier", 28)
		c.BonusReceivedDate = ptr(monthsAgo(24))
		c.ClosedDate = ptr(monthsAgo(3))
		v := Evaluate(premier, []domain.UserCard{c}, []domain.Rule{rule}, now)
		if !v.CanReceiveBonus {
			t.Errorf("cooldown should clear at exactly 24 months, got %+v", v.BonusBlockers)
		}
	})

	t.Run("OneDayShort", func(t *testing.T) {
		c := opened("p", "citi", "citi-premier", 28)
		c.BonusReceivedDate = ptr(monthsAgo(24).AddDate(0, 0, 1))
		c.ClosedDate = ptr(monthsAgo(3))
		v := Evaluate(premier, []domain.UserCard{c}, []domain.Rule{rule}, now)
		if v.CanReceiveBonus {
			t.Fatal("cooldown should still block one day short")
		}
		if d := v.BonusBlockers[0].ResolveDate; d == nil || !d.Equal(now.AddDate(0, 0, 1)) {
			t.Errorf("resolve date = %v", d)
		}
	})
}

func TestCooldownAnchorFallback(t *testing.T) {
	rule := sapphireCooldown(48, domain.AnchorBonusReceived)
	c := opened("s1", "chase", "chase-sapphire-reserve", 20)
	c.ProductFamily = "sapphire"
	c.ClosedDate = ptr(monthsAgo(2))

	v := Evaluate(sapphire, []domain.UserCard{c}, []domain.Rule{rule}, now)
	if v.CanReceiveBonus {
		t.Fatal("fallback to open date should still block")
	}
	want := calendar.AddMonths(c.OpenDate, 48)
	if d := v.BonusBlockers[0].ResolveDate; d == nil || !d.Equal(want) {
		t.Errorf("resolve date = %v, want %s", d, want.Format(domain.DateLayout))
	}
	if !hasWarning(v.Warnings, domain.WarnAnchorFallback) {
		t.Error("expected anchor_fallback warning")
	}
	if !containsPrefix(v.Recommendations, "Card s1 has no bonus receipt date recorded") {
		t.Errorf("expected fallback note in recommendations, got %v", v.Recommendations)
	}
	if v.Incomplete {
		t.Error("anchor fallback is not a rejected record")
	}
}

func TestCooldownClosedAnchor(t *testing.T) {
	rule := domain.BonusCooldownRule{
		RuleMeta:       domain.RuleMeta{ID: "boa-closed", Issuer: "boa"},
		CooldownMonths: 12,
		Anchor:         domain.AnchorCardClosed,
	}
	premium := domain.CardProduct{ID: "premium-rewards", Issuer: "boa"}

	t.Run("ClosedRecently", func(t *testing.T) {
		c := opened("b", "boa", "premium-rewards", 30)
		c.ClosedDate = ptr(monthsAgo(4))
		v := Evaluate(premium, []domain.UserCard{c}, []domain.Rule{rule}, now)
		want := calendar.AddMonths(*c.ClosedDate, 12)
		if v.CanReceiveBonus || v.BonusBlockers[0].ResolveDate == nil || !v.BonusBlockers[0].ResolveDate.Equal(want) {
			t.Errorf("expected block until %s, got %+v", want.Format(domain.DateLayout), v.BonusBlockers)
		}
	})

	t.Run("StillOpenLongAgo", func(t *testing.T) {
		c := opened("b", "boa", "premium-rewards", 30)
		v := Evaluate(premium, []domain.UserCard{c}, []domain.Rule{rule}, now)
		if !v.CanReceiveBonus {
			t.Fatalf("open date plus 12 months has passed, got %+v", v.BonusBlockers)
		}
		if !hasWarning(v.Warnings, domain.WarnAnchorFallback) {
			t.Error("expected anchor_fallback warning for the missing closure date")
		}
		if !containsPrefix(v.Recommendations, "Card b has no card closure date recorded") {
			t.Errorf("expected fallback note, got %v", v.Recommendations)
		}
	})

	t.Run("StillOpenRecently", func(t *testing.T) {
		c := opened("b", "boa", "premium-rewards", 5)
		v := Evaluate(premium, []domain.UserCard{c}, []domain.Rule{rule}, now)
		if v.CanReceiveBonus {
			t.Fatal("fallback to the open date should still block")
		}
		want := calendar.AddMonths(c.OpenDate, 12)
		if d := v.BonusBlockers[0].ResolveDate; d == nil || !d.Equal(want) {
			t.Errorf("resolve date = %v, want %s", d, want.Format(domain.DateLayout))
		}
	})

	t.Run("StillOpenWithHeldRequirement", func(t *testing.T) {
		held := rule
		held.RequiresCardNotCurrentlyHeld = true
		c := opened("b", "boa", "premium-rewards", 30)
		v := Evaluate(premium, []domain.UserCard{c}, []domain.Rule{held}, now)
		if len(v.BonusBlockers) != 1 {
			t.Fatalf("expected only the not-currently-held blocker, got %+v", v.BonusBlockers)
		}
		if b := v.BonusBlockers[0]; b.ResolveDate != nil || b.ActionRequired != "Close card b before applying." {
			t.Errorf("unexpected blocker %+v", b)
		}
	})
}

func TestBlockedMessageUsesSoonestDate(t *testing.T) {
	chase12 := domain.VelocityLimitRule{
		RuleMeta:     domain.RuleMeta{ID: "chase-2-12", Issuer: "chase"},
		WindowMonths: 12,
		MaxCount:     2,
		Scope:        domain.Scope{AllIssuers: true},
	}

	t.Run("TwoVelocityLimits", func(t *testing.T) {
		v := Evaluate(sapphire, fiveRecent(), []domain.Rule{chase524, chase12}, now)
		if len(v.ApplicationBlockers) != 2 {
			t.Fatalf("expected 2 application blockers, got %+v", v.ApplicationBlockers)
		}
		a, b := v.ApplicationBlockers[0].ResolveDate, v.ApplicationBlockers[1].ResolveDate
		if a == nil || b == nil || a.Equal(*b) {
			t.Fatalf("expected two distinct resolve dates, got %v and %v", a, b)
		}
		soonest := *a
		if b.Before(soonest) {
			soonest = *b
		}
		if v.ResolveDate == nil || !v.ResolveDate.Equal(soonest) {
			t.Errorf("verdict resolve date = %v, want %s", v.ResolveDate, soonest.Format(domain.DateLayout))
		}
		want := "Not eligible to apply until " + soonest.Format(domain.DateLayout) + "."
		if v.Recommendations[0] != want {
			t.Errorf("first recommendation = %q, want %q", v.Recommendations[0], want)
		}
	})

	t.Run("UndatedBlockerAlongsideDated", func(t *testing.T) {
		conflict := domain.ProductFamilyConflictRule{
			RuleMeta:              domain.RuleMeta{ID: "sapphire-conflict", Issuer: "chase"},
			ConflictingProductIDs: []string{"chase-sapphire-reserve"},
		}
		cards := append(fiveRecent(), opened("r", "chase", "chase-sapphire-reserve", 40))
		v := Evaluate(sapphire, cards, []domain.Rule{chase524, conflict}, now)
		if v.ResolveDate == nil {
			t.Fatal("expected the velocity blocker to date the verdict")
		}
		want := "Not eligible to apply until " + v.ResolveDate.Format(domain.DateLayout) + "."
		if v.Recommendations[0] != want {
			t.Errorf("first recommendation = %q, want %q", v.Recommendations[0], want)
		}
	})
}

func TestRequiresCardNotCurrentlyHeld(t *testing.T) {
	rule := domain.BonusCooldownRule{
		RuleMeta:                     domain.RuleMeta{ID: "amex-not-held", Issuer: "amex"},
		CooldownMonths:               12,
		Anchor:                       domain.AnchorCardOpened,
		RequiresCardNotCurrentlyHeld: true,
	}
	c := opened("p", "amex", "amex-platinum", 30)

	v := Evaluate(platinum, []domain.UserCard{c}, []domain.Rule{rule}, now)
	if v.CanReceiveBonus {
		t.Fatal("holding the product should block the bonus")
	}
	if len(v.BonusBlockers) != 1 {
		t.Fatalf("expected only the held blocker, got %+v", v.BonusBlockers)
	}
	if b := v.BonusBlockers[0]; b.ResolveDate != nil || b.ActionRequired != "Close card p before applying." {
		t.Errorf("unexpected blocker %+v", b)
	}
}

func TestInvalidCardRecord(t *testing.T) {
	bad := opened("bad", "citi", "citi-premier", 3)
	bad.ClosedDate = ptr(monthsAgo(6))
	cards := append(fiveRecent()[1:], bad)

	v := Evaluate(sapphire, cards, []domain.Rule{chase524}, now)
	if !v.Incomplete {
		t.Fatal("expected incomplete verdict")
	}
	if !hasWarning(v.Warnings, domain.WarnInvalidCard) {
		t.Error("expected invalid_card warning")
	}
	if v.Recommendations[0] != msgIncomplete {
		t.Errorf("first recommendation = %q", v.Recommendations[0])
	}
	if !v.CanApply {
		t.Error("rejected record must not count toward velocity")
	}
}

func TestInvalidRuleSkipped(t *testing.T) {
	broken := domain.VelocityLimitRule{RuleMeta: domain.RuleMeta{ID: "broken", Issuer: "chase"}, WindowMonths: 24}
	v := Evaluate(sapphire, fiveRecent(), []domain.Rule{broken}, now)
	if !v.CanApply {
		t.Error("a rule without maxCount must not block")
	}
	if !hasWarning(v.Warnings, domain.WarnInvalidRule) {
		t.Error("expected invalid_rule warning")
	}
}

func TestOtherIssuerRulesIgnored(t *testing.T) {
	citi := chase524
	citi.Issuer = "citi"
	v := Evaluate(sapphire, fiveRecent(), []domain.Rule{citi}, now)
	if !v.CanApply {
		t.Error("rules from another issuer must not apply")
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	bad := opened("bad", "citi", "x", 3)
	bad.ClosedDate = ptr(monthsAgo(6))
	cards := append(fiveRecent(), bad)
	ruleset := []domain.Rule{
		chase524,
		sapphireCooldown(48, domain.AnchorBonusReceived),
		domain.RelationshipPreferredRule{RuleMeta: domain.RuleMeta{ID: "rel", Issuer: "chase"}},
	}
	before := append([]domain.UserCard(nil), cards...)

	first := Evaluate(sapphire, cards, ruleset, now)
	second := Evaluate(sapphire, cards, ruleset, now)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("verdicts differ:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(before, cards) {
		t.Error("Evaluate mutated its input")
	}
}

func TestEvaluateEligible(t *testing.T) {
	v := Evaluate(sapphire, nil, []domain.Rule{chase524}, now)
	if !v.CanApply || !v.CanReceiveBonus || v.ResolveDate != nil {
		t.Errorf("expected clean verdict, got %+v", v)
	}
	if len(v.Recommendations) != 1 || v.Recommendations[0] != msgEligible {
		t.Errorf("recommendations = %v", v.Recommendations)
	}
}

func containsPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func hasWarning(ws []domain.Warning, code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}
