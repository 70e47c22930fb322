package compile

import (
	"testing"

	"github.com/rampart-fw/rampart/internal/policy"
)

func mustPolicy(t *testing.T, doc *policy.Document) *policy.Policy {
	t.Helper()
	p, errs := policy.Validate(doc, policy.Options{})
	if errs.HasErrors() {
		t.Fatalf("Validate() errors = %v", errs)
	}
	return p
}

func onePortRule(id string, priority int) policy.RuleDocument {
	return policy.RuleDocument{
		ID:        id,
		Action:    "allow",
		Direction: "inbound",
		Protocol:  "tcp",
		Local:     policy.EndpointDocument{Ports: "443"},
		Priority:  priority,
	}
}

func TestCompile_SingleRulePlusCatchAlls(t *testing.T) {
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules:         []policy.RuleDocument{onePortRule("allow-https", 0)},
	})

	filters, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	// One rule filter plus one catch-all per direction.
	if len(filters) != 3 {
		t.Fatalf("len(filters) = %d, want 3", len(filters))
	}

	var catchAlls, rules int
	for i := range filters {
		f := &filters[i]
		if f.IsCatchAll() {
			catchAlls++
			if f.Weight != 0 {
				t.Errorf("catch-all weight = %d, want 0", f.Weight)
			}
			if f.Action != policy.ActionBlock {
				t.Errorf("catch-all action = %q, want block", f.Action)
			}
		} else {
			rules++
			if f.Weight == 0 {
				t.Error("rule filter must sit above the catch-all")
			}
		}
	}
	if catchAlls != 2 || rules != 1 {
		t.Errorf("catchAlls = %d, rules = %d, want 2 and 1", catchAlls, rules)
	}
}

func TestCompile_Deterministic(t *testing.T) {
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules: []policy.RuleDocument{
			onePortRule("a", 5),
			onePortRule("b", 5),
			onePortRule("c", 1),
		},
	})

	first, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	second, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key != second[i].Key || first[i].Weight != second[i].Weight {
			t.Errorf("filter %d differs between identical compiles", i)
		}
	}
}

func TestCompile_WeightOrdering(t *testing.T) {
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules: []policy.RuleDocument{
			onePortRule("low", 1),
			onePortRule("first-at-five", 5),
			onePortRule("second-at-five", 5),
		},
	})

	filters, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	byID := map[string]uint64{}
	for _, f := range filters {
		if !f.IsCatchAll() {
			byID[f.RuleID] = f.Weight
		}
	}

	if byID["first-at-five"] <= byID["low"] {
		t.Error("higher priority must compile to higher weight")
	}
	// Earlier declaration wins among equal priorities.
	if byID["first-at-five"] <= byID["second-at-five"] {
		t.Error("earlier declaration at equal priority must evaluate first")
	}
}

func TestCompile_WeightIndependentOfOtherPriorities(t *testing.T) {
	// Removing a rule at a different priority must not change this
	// rule's weight; otherwise every edit reinstalls everything.
	full := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules: []policy.RuleDocument{
			onePortRule("keep", 7),
			onePortRule("drop", 3),
		},
	})
	trimmed := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules:         []policy.RuleDocument{onePortRule("keep", 7)},
	})

	weightOf := func(filters []CompiledFilter, id string) uint64 {
		for _, f := range filters {
			if f.RuleID == id {
				return f.Weight
			}
		}
		t.Fatalf("rule %s not found", id)
		return 0
	}

	a, _ := Compile(full)
	b, _ := Compile(trimmed)
	if weightOf(a, "keep") != weightOf(b, "keep") {
		t.Error("weight of an unrelated rule changed when another rule was removed")
	}
}

func TestCompile_BothSplitsIntoTwoFilters(t *testing.T) {
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "allow",
		Rules: []policy.RuleDocument{{
			ID:        "block-telemetry",
			Action:    "block",
			Direction: "both",
			Remote:    policy.EndpointDocument{IP: "203.0.113.9"},
		}},
	})

	filters, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	dirs := map[policy.Direction]string{}
	for _, f := range filters {
		if f.RuleID == "block-telemetry" {
			dirs[f.Direction] = f.Key
		}
	}
	if len(dirs) != 2 {
		t.Fatalf("directions = %v, want inbound and outbound", dirs)
	}
	if dirs[policy.DirectionInbound] == dirs[policy.DirectionOutbound] {
		t.Error("the two direction variants must have distinct keys")
	}
}

func TestCompile_PortCrossProduct(t *testing.T) {
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules: []policy.RuleDocument{{
			ID:        "multi",
			Action:    "allow",
			Direction: "inbound",
			Protocol:  "tcp",
			Local:     policy.EndpointDocument{Ports: "80,443,8000-9000"},
			Remote:    policy.EndpointDocument{Ports: "1000-2000,5555"},
		}},
	})

	filters, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	var n int
	keys := map[string]bool{}
	weights := map[uint64]bool{}
	for _, f := range filters {
		if f.RuleID == "multi" {
			n++
			keys[f.Key] = true
			weights[f.Weight] = true
		}
	}
	if len(weights) != 1 {
		t.Errorf("expansion filters must share the rule's weight, got %v", weights)
	}
	// 3 local segments x 2 remote segments.
	if n != 6 {
		t.Errorf("expansion produced %d filters, want 6", n)
	}
	if len(keys) != 6 {
		t.Errorf("expansion produced %d distinct keys, want 6", len(keys))
	}
}

func TestKeyOf_IgnoresComment(t *testing.T) {
	doc := &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules:         []policy.RuleDocument{onePortRule("r", 0)},
	}
	a := mustPolicy(t, doc)
	doc.Rules[0].Comment = "something new"
	b := mustPolicy(t, doc)

	fa, _ := Compile(a)
	fb, _ := Compile(b)
	for i := range fa {
		if fa[i].Key != fb[i].Key {
			t.Errorf("filter %d key changed when only the comment changed", i)
		}
	}
}

func TestKeyOf_ChangesWithSemantics(t *testing.T) {
	base := onePortRule("r", 0)
	doc := &policy.Document{Version: "1", DefaultAction: "block", Rules: []policy.RuleDocument{base}}
	fa, _ := Compile(mustPolicy(t, doc))

	changed := base
	changed.Action = "block"
	doc.Rules[0] = changed
	fb, _ := Compile(mustPolicy(t, doc))

	if fa[0].Key == fb[0].Key {
		t.Error("changing the action must change the key")
	}
	if len(fa[0].Key) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(fa[0].Key))
	}
}

func TestCompile_DisabledRulesSkipped(t *testing.T) {
	enabled := false
	p := mustPolicy(t, &policy.Document{
		Version:       "1",
		DefaultAction: "block",
		Rules: []policy.RuleDocument{{
			ID:        "off",
			Action:    "allow",
			Direction: "inbound",
			Enabled:   &enabled,
		}},
	})
	filters, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for _, f := range filters {
		if f.RuleID == "off" {
			t.Error("disabled rule compiled to a filter")
		}
	}
	if len(filters) != 2 {
		t.Errorf("len(filters) = %d, want just the two catch-alls", len(filters))
	}
}
