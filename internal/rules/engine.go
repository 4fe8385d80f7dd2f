// Package rules evaluates configured automation rules against resolved
// events. Evaluation is deterministic: rules run in sort order, every
// matching rule contributes its actions, and a rule matches only when all of
// its conditions hold.
package rules

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Engine evaluates rules for incoming events.
type Engine struct {
	store *Store
}

func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// EvaluateForTable loads the active rules scoped to the event's resolved
// entity table and returns the concatenated actions of every matching rule,
// in rule order then action order.
func (e *Engine) EvaluateForTable(ctx context.Context, event *domain.RawEvent, table domain.EntityTable) ([]domain.RuleAction, error) {
	ruleSet, err := e.store.ListActiveForTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", table, err)
	}
	return Evaluate(event, ruleSet), nil
}

// Evaluate runs the given rules against one event. All matching rules fire;
// there is no first-match short circuit.
func Evaluate(event *domain.RawEvent, ruleSet []domain.Rule) []domain.RuleAction {
	var actions []domain.RuleAction
	for _, r := range ruleSet {
		if Matches(event, r) {
			log.Printf("[RuleEngine] Rule %s matched event %s (%d actions)", r.Name, event.ID, len(r.Actions))
			actions = append(actions, r.Actions...)
		}
	}
	return actions
}

// Matches reports whether every condition of the rule holds for the event.
// A rule with no conditions matches everything.
func Matches(event *domain.RawEvent, r domain.Rule) bool {
	for _, c := range r.Conditions {
		if !evalCondition(event, c) {
			return false
		}
	}
	return true
}

// evalCondition evaluates one condition. A field absent from the event never
// matches, so misconfigured rules fail closed instead of firing actions.
func evalCondition(event *domain.RawEvent, c domain.RuleCondition) bool {
	val, ok := event.Field(c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case domain.OpEquals:
		return toString(val) == toString(c.Value)
	case domain.OpNotEquals:
		return toString(val) != toString(c.Value)
	case domain.OpContains:
		return strings.Contains(strings.ToLower(toString(val)), strings.ToLower(toString(c.Value)))
	case domain.OpMatches:
		re, err := regexp.Compile(toString(c.Value))
		if err != nil {
			log.Printf("[RuleEngine] Invalid pattern %q in condition on %s: %v", toString(c.Value), c.Field, err)
			return false
		}
		return re.MatchString(toString(val))
	case domain.OpGTE:
		a, okA := toFloat(val)
		b, okB := toFloat(c.Value)
		return okA && okB && a >= b
	case domain.OpLTE:
		a, okA := toFloat(val)
		b, okB := toFloat(c.Value)
		return okA && okB && a <= b
	default:
		return false
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
