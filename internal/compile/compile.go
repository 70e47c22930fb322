// Package compile turns a validated policy into the concrete set of
// filters to install. Each enabled rule becomes one or more
// CompiledFilters; the policy's default action becomes one catch-all
// filter per direction. Compilation is deterministic: the same policy
// always produces the same filters with the same keys and weights.
package compile

import (
	"fmt"

	"github.com/rampart-fw/rampart/internal/policy"
)

// DefaultRuleID is the synthetic rule id carried by catch-all filters.
const DefaultRuleID = "default"

// CompiledFilter is one native filter to install: a single direction, a
// single condition set, an action and an evaluation weight. Its Key is
// the unit of equality for diffing and the ownership tag on the
// installed object.
type CompiledFilter struct {
	RuleID    string
	Direction policy.Direction // inbound or outbound, never both
	Action    policy.Action
	Protocol  policy.Protocol

	// Condition fields. Empty / nil means unconstrained.
	LocalIP     string
	RemoteIP    string
	LocalPorts  *policy.PortRange
	RemotePorts *policy.PortRange
	Process     string

	// Weight is the evaluation priority; higher evaluates first. The
	// catch-all sits at weight zero, strictly below every rule filter.
	Weight uint64

	// Key is the deterministic identity derived from the semantic
	// content above. Comments never contribute to it.
	Key string
}

// IsCatchAll reports whether the filter realizes the policy default
// action.
func (f *CompiledFilter) IsCatchAll() bool {
	return f.RuleID == DefaultRuleID
}

// Summary renders a one-line human-readable description, used by plan
// output and audit logs.
func (f *CompiledFilter) Summary() string {
	s := fmt.Sprintf("%-8s %-9s rule=%s proto=%s", f.Action, f.Direction, f.RuleID, f.Protocol)
	if f.LocalIP != "" {
		s += " local.ip=" + f.LocalIP
	}
	if f.LocalPorts != nil {
		s += " local.ports=" + f.LocalPorts.String()
	}
	if f.RemoteIP != "" {
		s += " remote.ip=" + f.RemoteIP
	}
	if f.RemotePorts != nil {
		s += " remote.ports=" + f.RemotePorts.String()
	}
	if f.Process != "" {
		s += " process=" + f.Process
	}
	s += fmt.Sprintf(" weight=%d", f.Weight)
	return s
}

// Compile expands every enabled rule of the policy into filters and
// appends the per-direction catch-alls. Rules that match no traffic in
// practice (for example a process path that does not exist on the host)
// still compile; runtime existence is not this layer's concern.
func Compile(p *policy.Policy) ([]CompiledFilter, error) {
	if p == nil {
		return nil, fmt.Errorf("compile: nil policy")
	}

	var out []CompiledFilter

	// Sequence numbers within each priority value preserve declaration
	// order as the tie-break without coupling a rule's weight to the
	// position of unrelated rules.
	seq := make(map[int]int)

	for _, rule := range p.EnabledRules() {
		n := seq[rule.Priority]
		seq[rule.Priority]++

		weight, err := ruleWeight(rule.Priority, n)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", rule.ID, err)
		}

		for _, dir := range directionVariants(rule.Direction) {
			filters, err := expandRule(rule, dir, weight)
			if err != nil {
				return nil, fmt.Errorf("compile rule %s: %w", rule.ID, err)
			}
			out = append(out, filters...)
		}
	}

	for _, dir := range []policy.Direction{policy.DirectionInbound, policy.DirectionOutbound} {
		f := CompiledFilter{
			RuleID:    DefaultRuleID,
			Direction: dir,
			Action:    p.DefaultAction,
			Protocol:  policy.ProtocolAny,
			Weight:    0,
		}
		f.Key = KeyOf(&f)
		out = append(out, f)
	}

	return out, nil
}

// ruleWeight maps (priority, declaration sequence) onto the native
// weight range. Priority is the sole ordering signal: a higher-priority
// rule always evaluates first regardless of action. Earlier declaration
// wins among equal priorities.
func ruleWeight(priority, seq int) (uint64, error) {
	if priority < 0 || priority > policy.MaxPriority {
		return 0, fmt.Errorf("priority %d out of range", priority)
	}
	if seq > 0xFFFF {
		return 0, fmt.Errorf("too many rules at priority %d", priority)
	}
	return (uint64(priority)+1)<<16 | uint64(0xFFFF-seq), nil
}

// directionVariants resolves "both" into its two independent native
// filters. Both variants share the rule's identity but have distinct
// keys.
func directionVariants(d policy.Direction) []policy.Direction {
	if d == policy.DirectionBoth {
		return []policy.Direction{policy.DirectionInbound, policy.DirectionOutbound}
	}
	return []policy.Direction{d}
}

// expandRule builds the filters for one rule in one direction. The
// native condition model carries at most one port or contiguous range
// per endpoint per filter, so a multi-segment port spec expands to the
// cross product of its segments.
func expandRule(rule policy.Rule, dir policy.Direction, weight uint64) ([]CompiledFilter, error) {
	localSegs := portSegments(rule.Local.Ports)
	remoteSegs := portSegments(rule.Remote.Ports)

	filters := make([]CompiledFilter, 0, len(localSegs)*len(remoteSegs))
	for _, lp := range localSegs {
		for _, rp := range remoteSegs {
			f := CompiledFilter{
				RuleID:      rule.ID,
				Direction:   dir,
				Action:      rule.Action,
				Protocol:    rule.Protocol,
				LocalIP:     rule.Local.IP,
				RemoteIP:    rule.Remote.IP,
				LocalPorts:  lp,
				RemotePorts: rp,
				Process:     rule.Process,
				Weight:      weight,
			}
			f.Key = KeyOf(&f)
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// portSegments returns the expansion segments for a port set. An empty
// set yields one nil segment, meaning the endpoint's ports are
// unconstrained.
func portSegments(set policy.PortSet) []*policy.PortRange {
	if len(set) == 0 {
		return []*policy.PortRange{nil}
	}
	segs := make([]*policy.PortRange, len(set))
	for i := range set {
		r := set[i]
		segs[i] = &r
	}
	return segs
}
