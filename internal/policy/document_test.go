package policy

import (
	"testing"
)

func TestParseBytes_UnknownFieldRejected(t *testing.T) {
	raw := []byte(`{"version":"1","defaultAction":"block","rulez":[]}`)
	if _, err := ParseBytes(raw, "json"); err == nil {
		t.Error("unknown top-level field accepted")
	}
}

func TestParseBytes_YAML(t *testing.T) {
	raw := []byte(`
version: "1"
defaultAction: block
rules:
  - id: allow-ssh
    action: allow
    direction: inbound
    protocol: tcp
    local:
      ports: "22"
`)
	doc, err := ParseBytes(raw, "yaml")
	if err != nil {
		t.Fatalf("ParseBytes() error = %v", err)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].ID != "allow-ssh" {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestDocumentFromPolicy_RoundTrip(t *testing.T) {
	p, errs := Validate(validDoc(), Options{})
	if errs.HasErrors() {
		t.Fatalf("Validate() errors = %v", errs)
	}

	doc := DocumentFromPolicy(p)
	p2, errs := Validate(doc, Options{})
	if errs.HasErrors() {
		t.Fatalf("round-trip Validate() errors = %v", errs)
	}
	if len(p2.Rules) != len(p.Rules) {
		t.Fatalf("round trip changed rule count: %d != %d", len(p2.Rules), len(p.Rules))
	}
	for i := range p.Rules {
		a, b := p.Rules[i], p2.Rules[i]
		if a.ID != b.ID || a.Action != b.Action || a.Direction != b.Direction ||
			a.Protocol != b.Protocol || a.Priority != b.Priority || a.Enabled != b.Enabled {
			t.Errorf("rule %d changed in round trip: %+v != %+v", i, a, b)
		}
	}
}
