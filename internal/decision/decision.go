// Package decision turns an eligibility verdict into a persisted evaluation
// record.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// EngineVersion identifies the evaluator build in stored records.
const EngineVersion = "harrier-1.0"

// Processor wraps verdicts into evaluation records.
type Processor struct {
	EngineVersion string

	// now is the record clock; verdicts never read it.
	now func() time.Time
}

// NewProcessor creates a processor stamping records with EngineVersion.
func NewProcessor() *Processor {
	return &Processor{
		EngineVersion: EngineVersion,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// DecisionInput contains all data needed for a record.
type DecisionInput struct {
	UserID         string
	TraceID        string
	CatalogVersion string
	Verdict        domain.EligibilityVerdict
	RulesApplied   int
	CardsReviewed  int
	Cached         bool
	StartTime      time.Time
}

// Process builds the evaluation record for one verdict.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.EvaluationRecord {
	rec := &domain.EvaluationRecord{
		ID:             uuid.New().String(),
		UserID:         input.UserID,
		CatalogVersion: input.CatalogVersion,
		Verdict:        input.Verdict,
		CreatedAt:      p.now(),
	}

	var totalMs int64
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	rec.Metadata = domain.EvaluationMetadata{
		TraceID:       input.TraceID,
		TotalMs:       totalMs,
		RulesApplied:  input.RulesApplied,
		CardsReviewed: input.CardsReviewed,
		Cached:        input.Cached,
		EngineVersion: p.EngineVersion,
	}

	return rec
}

// Blocked reports whether anything stands between the user and the card or
// its bonus.
func Blocked(v domain.EligibilityVerdict) bool {
	return !v.CanApply || !v.CanReceiveBonus
}

// Reasons extracts blocker reasons from a verdict, application blockers first.
func Reasons(v domain.EligibilityVerdict) []string {
	var reasons []string
	for _, group := range [][]domain.Blocker{v.ApplicationBlockers, v.BonusBlockers} {
		for _, b := range group {
			if b.Reason != "" {
				reasons = append(reasons, b.Reason)
			}
		}
	}
	return reasons
}
