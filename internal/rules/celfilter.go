// Package rules evaluates issuer policies against a user's card history.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	envOnce sync.Once
	celEnv  *cel.Env
	envErr  error
)

// filterEnv returns the shared CEL environment for countsWhen predicates.
// A cel.Env is safe for concurrent use once built.
func filterEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		celEnv, envErr = cel.NewEnv(
			cel.Variable("card", cel.MapType(cel.StringType, cel.DynType)),
		)
		if envErr != nil {
			envErr = fmt.Errorf("failed to create CEL environment: %w", envErr)
		}
	})
	return celEnv, envErr
}

// Filter is a compiled countsWhen predicate. It implements domain.CardPredicate.
type Filter struct {
	Expr    string
	program cel.Program
}

// CompileFilter compiles a countsWhen expression. The expression sees one
// variable, card, with keys issuer, product_id, family, is_business and open,
// and must produce a bool.
func CompileFilter(expr string) (*Filter, error) {
	env, err := filterEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile countsWhen %q: %w", expr, issues.Err())
	}

	// Map lookups type as dyn; those are checked again at evaluation.
	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("countsWhen %q must return bool, got %s", expr, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for countsWhen %q: %w", expr, err)
	}

	return &Filter{Expr: expr, program: program}, nil
}

// Eval runs the predicate against one card.
func (f *Filter) Eval(card domain.UserCard) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{"card": activation(card)})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("countsWhen %q returned %s, not bool", f.Expr, out.Type().TypeName())
	}
	return bool(b), nil
}

// Matches reports whether the card counts. A card the predicate cannot
// decide on is counted, so a broken filter never loosens a limit.
func (f *Filter) Matches(card domain.UserCard) bool {
	ok, err := f.Eval(card)
	if err != nil {
		return true
	}
	return ok
}

// activation flattens a card into the map the predicate sees. open reflects
// the recorded closure only; it does not depend on an evaluation date.
func activation(card domain.UserCard) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"issuer":      card.Issuer,
		"product_id":  card.ProductID,
		"family":      card.ProductFamily,
		"is_business": card.IsBusiness,
		"open":        card.ClosedDate == nil,
	}
}

// predicateWarnings reports cards a scope's countsWhen filter fails on.
func predicateWarnings(r domain.Rule, scope domain.Scope, cards []domain.UserCard) []domain.Warning {
	f, ok := scope.CountsWhen.(*Filter)
	if !ok || f == nil {
		return nil
	}
	var out []domain.Warning
	for _, c := range cards {
		if _, err := f.Eval(c); err != nil {
			out = append(out, domain.Warning{
				Code:    domain.WarnCountsWhenFailure,
				Subject: r.Meta().ID,
				Message: fmt.Sprintf("card %s counted because countsWhen failed: %v", c.ID, err),
			})
		}
	}
	return out
}
