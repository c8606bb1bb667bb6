package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/velocity"
)

const (
	colorRed    lipgloss.Color = "#f38ba8"
	colorYellow lipgloss.Color = "#f9e2af"
	colorGreen  lipgloss.Color = "#a6e3a1"
	colorTeal   lipgloss.Color = "#94e2d5"
	colorSubtle lipgloss.Color = "#7f849c"
	colorText   lipgloss.Color = "#cdd6f4"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	labelStyle   = lipgloss.NewStyle().Foreground(colorSubtle).Width(14)
	issuerStyle  = lipgloss.NewStyle().Foreground(colorText).Width(20)
	textStyle    = lipgloss.NewStyle().Foreground(colorText)
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	cautionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	blockedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	subtleStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1)
)

type renderer struct {
	out io.Writer
	cat *catalog.Catalog
}

func newRenderer(out io.Writer, cat *catalog.Catalog) *renderer {
	return &renderer{out: out, cat: cat}
}

func (r *renderer) panel(title string, lines []string) {
	body := titleStyle.Render(title) + "\n" + strings.Join(lines, "\n")
	fmt.Fprintln(r.out, panelStyle.Render(body))
}

func row(label, value string) string {
	return labelStyle.Render(label) + textStyle.Render(value)
}

func yesNo(ok bool) string {
	if ok {
		return okStyle.Render("yes")
	}
	return blockedStyle.Render("no")
}

func day(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(domain.DateLayout)
}

func (r *renderer) verdict(product domain.CardProduct, v domain.EligibilityVerdict) {
	lines := []string{
		row("Product", fmt.Sprintf("%s (%s)", product.Name, r.cat.IssuerName(product.Issuer))),
		row("As of", v.AsOf.Format(domain.DateLayout)),
		labelStyle.Render("Can apply") + yesNo(v.CanApply),
		labelStyle.Render("Bonus") + yesNo(v.CanReceiveBonus),
	}
	if v.ResolveDate != nil {
		lines = append(lines, row("Resolves", day(v.ResolveDate)))
	}
	if v.Incomplete {
		lines = append(lines, cautionStyle.Render("Some cards could not be evaluated."))
	}

	lines = append(lines, blockerLines("Application blockers", v.ApplicationBlockers)...)
	lines = append(lines, blockerLines("Bonus blockers", v.BonusBlockers)...)
	lines = append(lines, blockerLines("Advisories", v.Advisories)...)

	if len(v.Recommendations) > 0 {
		lines = append(lines, "", titleStyle.Render("Recommendations"))
		for _, rec := range v.Recommendations {
			lines = append(lines, "  • "+rec)
		}
	}
	r.panel("Eligibility", lines)

	if len(v.Warnings) > 0 {
		r.warnings("Verdict", v.Warnings)
	}
}

func blockerLines(title string, blockers []domain.Blocker) []string {
	if len(blockers) == 0 {
		return nil
	}
	lines := []string{"", titleStyle.Render(title)}
	for _, b := range blockers {
		until := "until action is taken"
		if b.ResolveDate != nil {
			until = "until " + day(b.ResolveDate)
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			blockedStyle.Render(b.RuleID), b.Reason, subtleStyle.Render("("+until+")")))
		if b.ActionRequired != "" {
			lines = append(lines, "    "+subtleStyle.Render("→ "+b.ActionRequired))
		}
	}
	return lines
}

func (r *renderer) velocity(schedule []velocity.Aging, asOf time.Time) {
	lines := []string{
		row("5/24 count", fmt.Sprintf("%d / %d", len(schedule), velocity.MaxCount524)),
		row("As of", asOf.Format(domain.DateLayout)),
	}
	if at := velocity.ClearsAt(schedule, velocity.MaxCount524); at != nil {
		lines = append(lines, row("Under 5/24", day(at)))
	}
	for _, slot := range velocity.UpcomingSlots(schedule) {
		lines = append(lines, subtleStyle.Render(fmt.Sprintf("  %s → %d", slot.Date.Format(domain.DateLayout), slot.CountAfter)))
	}
	r.panel("Velocity", lines)
}

func levelStyle(level domain.StatusLevel) lipgloss.Style {
	switch level {
	case domain.StatusBlocked:
		return blockedStyle
	case domain.StatusCaution:
		return cautionStyle
	default:
		return okStyle
	}
}

func (r *renderer) issuers(statuses []domain.IssuerStatus) {
	lines := make([]string, 0, len(statuses))
	for _, s := range statuses {
		line := issuerStyle.Render(s.Name) + levelStyle(s.Level).Width(8).Render(string(s.Level))
		if s.NextChange != nil {
			line += subtleStyle.Render(" next change " + day(s.NextChange))
		}
		lines = append(lines, line)
		for _, reason := range s.Reasons {
			lines = append(lines, "    "+subtleStyle.Render(reason))
		}
	}
	r.panel("Issuers", lines)
}

func (r *renderer) retention(v domain.RetentionVerdict) {
	lines := []string{
		row("Card", v.CardID+" ("+v.ProductID+")"),
		row("Annual fee", fmt.Sprintf("$%.2f", v.AnnualFee)),
		row("Benefits", fmt.Sprintf("$%.2f", v.EstimatedBenefitValue)),
		row("Net value", fmt.Sprintf("$%.2f", v.NetValue)),
		labelStyle.Render("Advice") + recommendationStyle(v.Recommendation).Render(string(v.Recommendation)),
		labelStyle.Render("Rechurn") + yesNo(v.CanRechurn),
	}
	if v.BonusEligibleDate != nil {
		lines = append(lines, row("Bonus again", day(v.BonusEligibleDate)))
	}
	lines = append(lines, "", textStyle.Render(v.Reasoning))

	if len(v.Alternatives) > 0 {
		lines = append(lines, "", titleStyle.Render("Alternatives"))
		for _, alt := range v.Alternatives {
			lines = append(lines, fmt.Sprintf("  %s %s", cautionStyle.Render(string(alt.Kind)), alt.Benefit))
			for _, c := range alt.Considerations {
				lines = append(lines, "    "+subtleStyle.Render(c))
			}
		}
	}
	r.panel("Retention", lines)

	if len(v.Warnings) > 0 {
		r.warnings("Retention", v.Warnings)
	}
}

func recommendationStyle(rec domain.Recommendation) lipgloss.Style {
	switch rec {
	case domain.RecommendKeep:
		return okStyle
	case domain.RecommendCancel:
		return blockedStyle
	default:
		return cautionStyle
	}
}

func (r *renderer) warnings(source string, warnings []domain.Warning) {
	lines := make([]string, 0, len(warnings))
	for _, w := range warnings {
		lines = append(lines, fmt.Sprintf("%s %s: %s",
			cautionStyle.Render(w.Code), w.Subject, subtleStyle.Render(w.Message)))
	}
	r.panel(source+" warnings", lines)
}
