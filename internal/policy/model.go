// Package policy defines the typed traffic-policy model and its
// validator. A policy document (JSON or YAML) is parsed into a Document,
// then validated into a Policy. Nothing downstream of the validator ever
// sees an unvalidated field.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Action is the outcome a rule assigns to matching traffic.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Direction selects which traffic a rule applies to.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBoth     Direction = "both"
)

// Protocol selects the transport protocol a rule matches.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
	ProtocolAny Protocol = "any"
)

// PortRange is an inclusive port interval. A single port has Lo == Hi.
type PortRange struct {
	Lo uint16
	Hi uint16
}

// String renders the range in port-spec syntax.
func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("%d", r.Lo)
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// PortSet is a parsed port specification: a sequence of disjoint,
// ascending ranges.
type PortSet []PortRange

// String renders the set in the canonical comma-separated syntax.
func (s PortSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Endpoint is a validated local or remote endpoint match. Zero values
// mean "match anything" on that dimension.
type Endpoint struct {
	// IP is an address or CIDR in canonical form, empty if unset.
	IP string

	// Ports is the parsed port specification, nil if unset.
	Ports PortSet
}

// Rule is a single validated policy rule. The ID is the stable identity
// of the rule across policy versions.
type Rule struct {
	ID        string
	Action    Action
	Direction Direction
	Protocol  Protocol
	Process   string // absolute executable path, empty if unset
	Local     Endpoint
	Remote    Endpoint
	Priority  int // 0..65535, higher evaluates first
	Enabled   bool
	Comment   string // free text, never semantically meaningful
}

// Policy is a fully validated policy document.
type Policy struct {
	Version       string
	DefaultAction Action
	UpdatedAt     time.Time
	// Rules keep declaration order; it is the tie-break for equal
	// priority.
	Rules []Rule
}

// EnabledRules returns the enabled rules in declaration order.
func (p *Policy) EnabledRules() []Rule {
	out := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
