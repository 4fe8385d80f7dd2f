package rules

import (
	"encoding/json"
	"testing"

	"github.com/brightdesk/crm-engine/internal/domain"
)

func event(payload string) *domain.RawEvent {
	conf := 0.8
	return &domain.RawEvent{
		ID:                "evt-1",
		Source:            domain.SourceEmail,
		ExternalID:        "msg-42",
		Payload:           json.RawMessage(payload),
		RoutingConfidence: &conf,
	}
}

func rule(name string, conds []domain.RuleCondition, actions ...domain.RuleAction) domain.Rule {
	return domain.Rule{Name: name, Conditions: conds, Actions: actions, IsActive: true}
}

func TestMatches_AllConditionsMustHold(t *testing.T) {
	e := event(`{"subject": "Invoice overdue", "from": "billing@vendor.example.com"}`)

	r := rule("billing", []domain.RuleCondition{
		{Field: "subject", Operator: domain.OpContains, Value: "invoice"},
		{Field: "from", Operator: domain.OpContains, Value: "vendor.example.com"},
	})
	if !Matches(e, r) {
		t.Error("rule with both conditions satisfied should match")
	}

	r.Conditions = append(r.Conditions, domain.RuleCondition{
		Field: "subject", Operator: domain.OpContains, Value: "refund",
	})
	if Matches(e, r) {
		t.Error("rule with one failing condition must not match")
	}
}

func TestMatches_UnknownFieldFailsClosed(t *testing.T) {
	e := event(`{"subject": "hello"}`)
	r := rule("typo", []domain.RuleCondition{
		{Field: "subjcet", Operator: domain.OpContains, Value: "hello"},
	})
	if Matches(e, r) {
		t.Error("condition on a missing field must not match")
	}
}

func TestMatches_EmptyConditionsMatchesEverything(t *testing.T) {
	if !Matches(event(`{}`), rule("catch-all", nil)) {
		t.Error("rule with no conditions should match any event")
	}
}

func TestMatches_Operators(t *testing.T) {
	e := event(`{"status": "open", "priority": 3, "from": "Jane.Doe@Corp.example.com"}`)

	cases := []struct {
		name string
		cond domain.RuleCondition
		want bool
	}{
		{"eq", domain.RuleCondition{Field: "status", Operator: domain.OpEquals, Value: "open"}, true},
		{"neq", domain.RuleCondition{Field: "status", Operator: domain.OpNotEquals, Value: "closed"}, true},
		{"contains case-insensitive", domain.RuleCondition{Field: "from", Operator: domain.OpContains, Value: "jane.doe"}, true},
		{"matches regex", domain.RuleCondition{Field: "from", Operator: domain.OpMatches, Value: `(?i)@corp\.`}, true},
		{"matches invalid regex fails closed", domain.RuleCondition{Field: "from", Operator: domain.OpMatches, Value: `([`}, false},
		{"gte boundary is inclusive", domain.RuleCondition{Field: "priority", Operator: domain.OpGTE, Value: 3}, true},
		{"lte boundary is inclusive", domain.RuleCondition{Field: "priority", Operator: domain.OpLTE, Value: 3}, true},
		{"gte above", domain.RuleCondition{Field: "priority", Operator: domain.OpGTE, Value: 4}, false},
		{"gte on non-numeric", domain.RuleCondition{Field: "status", Operator: domain.OpGTE, Value: 1}, false},
		{"confidence threshold", domain.RuleCondition{Field: "confidence", Operator: domain.OpGTE, Value: 0.8}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Matches(e, rule("r", []domain.RuleCondition{c.cond}))
			if got != c.want {
				t.Errorf("Matches(%+v) = %v, want %v", c.cond, got, c.want)
			}
		})
	}
}

func TestEvaluate_AllMatchingRulesFire(t *testing.T) {
	e := event(`{"subject": "Invoice overdue"}`)

	ruleSet := []domain.Rule{
		rule("first", []domain.RuleCondition{
			{Field: "subject", Operator: domain.OpContains, Value: "invoice"},
		}, domain.RuleAction{Type: domain.ActionTag, Config: map[string]string{"tag": "billing"}}),
		rule("non-matching", []domain.RuleCondition{
			{Field: "subject", Operator: domain.OpContains, Value: "refund"},
		}, domain.RuleAction{Type: domain.ActionCreateTicket}),
		rule("second", []domain.RuleCondition{
			{Field: "source", Operator: domain.OpEquals, Value: "email"},
		},
			domain.RuleAction{Type: domain.ActionTag, Config: map[string]string{"tag": "inbound"}},
			domain.RuleAction{Type: domain.ActionEnrollSequence, Config: map[string]string{"sequence_id": "seq-1"}},
		),
	}

	actions := Evaluate(e, ruleSet)
	if len(actions) != 3 {
		t.Fatalf("Evaluate() returned %d actions, want 3: %+v", len(actions), actions)
	}
	// Rule order, then action order within each rule
	if actions[0].Config["tag"] != "billing" {
		t.Errorf("actions[0] = %+v, want billing tag from first rule", actions[0])
	}
	if actions[1].Config["tag"] != "inbound" {
		t.Errorf("actions[1] = %+v, want inbound tag from second rule", actions[1])
	}
	if actions[2].Type != domain.ActionEnrollSequence {
		t.Errorf("actions[2] = %+v, want enroll action", actions[2])
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := event(`{"subject": "Invoice overdue"}`)
	ruleSet := []domain.Rule{
		rule("a", nil, domain.RuleAction{Type: domain.ActionTag, Config: map[string]string{"tag": "a"}}),
		rule("b", nil, domain.RuleAction{Type: domain.ActionTag, Config: map[string]string{"tag": "b"}}),
	}

	first := Evaluate(e, ruleSet)
	for i := 0; i < 10; i++ {
		again := Evaluate(e, ruleSet)
		if len(again) != len(first) {
			t.Fatalf("run %d returned %d actions, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].Config["tag"] != first[j].Config["tag"] {
				t.Fatalf("run %d action %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
}
