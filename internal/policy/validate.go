package policy

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
)

// DefaultMaxRules is the default ceiling on the number of rules a single
// policy may carry.
const DefaultMaxRules = 10000

// MaxPriority bounds rule priority so the weight mapping is total.
const MaxPriority = 65535

// ValidationError represents a single policy validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors. Validation is
// fail-closed: if the collection is non-empty, no part of the policy is
// honored.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Options controls validation limits.
type Options struct {
	// MaxRules caps the rule count; zero means DefaultMaxRules.
	MaxRules int
}

// Validate checks the raw document and produces a fully typed Policy.
// It is a pure function: no side effects, no partial results. All
// problems are collected and returned together so an operator can fix a
// document in one pass.
func Validate(doc *Document, opts Options) (*Policy, ValidationErrors) {
	var errs ValidationErrors

	maxRules := opts.MaxRules
	if maxRules <= 0 {
		maxRules = DefaultMaxRules
	}

	if doc == nil {
		return nil, ValidationErrors{{Field: "policy", Message: "document is empty"}}
	}

	if strings.TrimSpace(doc.Version) == "" {
		errs = append(errs, ValidationError{Field: "version", Message: "required"})
	}

	defaultAction, err := parseAction(doc.DefaultAction)
	if err != nil {
		errs = append(errs, ValidationError{Field: "defaultAction", Message: err.Error()})
	}

	if len(doc.Rules) > maxRules {
		errs = append(errs, ValidationError{
			Field:   "rules",
			Message: fmt.Sprintf("%d rules exceeds the maximum of %d", len(doc.Rules), maxRules),
		})
	}

	p := &Policy{
		Version:       strings.TrimSpace(doc.Version),
		DefaultAction: defaultAction,
		UpdatedAt:     doc.UpdatedAt,
		Rules:         make([]Rule, 0, len(doc.Rules)),
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i, rd := range doc.Rules {
		field := func(name string) string {
			id := rd.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			return fmt.Sprintf("rules[%s].%s", id, name)
		}

		rule := Rule{
			ID:      strings.TrimSpace(rd.ID),
			Process: strings.TrimSpace(rd.Process),
			Comment: rd.Comment,
			Enabled: rd.Enabled == nil || *rd.Enabled,
		}

		if rule.ID == "" {
			errs = append(errs, ValidationError{Field: field("id"), Message: "required"})
		} else if seen[rule.ID] {
			errs = append(errs, ValidationError{Field: field("id"), Message: "duplicate rule id"})
		} else {
			seen[rule.ID] = true
		}

		if rule.Action, err = parseAction(rd.Action); err != nil {
			errs = append(errs, ValidationError{Field: field("action"), Message: err.Error()})
		}
		if rule.Direction, err = parseDirection(rd.Direction); err != nil {
			errs = append(errs, ValidationError{Field: field("direction"), Message: err.Error()})
		}
		if rule.Protocol, err = parseProtocol(rd.Protocol); err != nil {
			errs = append(errs, ValidationError{Field: field("protocol"), Message: err.Error()})
		}

		if rd.Priority < 0 || rd.Priority > MaxPriority {
			errs = append(errs, ValidationError{
				Field:   field("priority"),
				Message: fmt.Sprintf("must be in 0..%d", MaxPriority),
			})
		}
		rule.Priority = rd.Priority

		if rule.Process != "" {
			if err := validateProcessPath(rule.Process); err != nil {
				errs = append(errs, ValidationError{Field: field("process"), Message: err.Error()})
			}
		}

		if rule.Local, err = validateEndpoint(rd.Local); err != nil {
			errs = append(errs, ValidationError{Field: field("local"), Message: err.Error()})
		}
		if rule.Remote, err = validateEndpoint(rd.Remote); err != nil {
			errs = append(errs, ValidationError{Field: field("remote"), Message: err.Error()})
		}

		p.Rules = append(p.Rules, rule)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return p, nil
}

func parseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAllow:
		return ActionAllow, nil
	case ActionBlock:
		return ActionBlock, nil
	case "":
		return "", fmt.Errorf("required (allow or block)")
	default:
		return "", fmt.Errorf("unknown action %q (allow or block)", s)
	}
}

func parseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionInbound:
		return DirectionInbound, nil
	case DirectionOutbound:
		return DirectionOutbound, nil
	case DirectionBoth:
		return DirectionBoth, nil
	case "":
		return "", fmt.Errorf("required (inbound, outbound or both)")
	default:
		return "", fmt.Errorf("unknown direction %q (inbound, outbound or both)", s)
	}
}

func parseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	case ProtocolAny, "":
		return ProtocolAny, nil
	default:
		return "", fmt.Errorf("unknown protocol %q (tcp, udp or any)", s)
	}
}

func validateProcessPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("process path must be absolute")
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("process path contains control characters")
	}
	return nil
}

// validateEndpoint parses an endpoint document into its typed form,
// canonicalizing addresses and port sets. IPv6 is rejected: the
// enforcement layer is IPv4-only.
func validateEndpoint(ed EndpointDocument) (Endpoint, error) {
	var ep Endpoint

	if ip := strings.TrimSpace(ed.IP); ip != "" {
		if strings.Contains(ip, "/") {
			prefix, err := netip.ParsePrefix(ip)
			if err != nil {
				return ep, fmt.Errorf("invalid CIDR %q", ip)
			}
			if !prefix.Addr().Is4() {
				return ep, fmt.Errorf("IPv6 is not supported (%q)", ip)
			}
			ep.IP = prefix.Masked().String()
		} else {
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				return ep, fmt.Errorf("invalid IP %q", ip)
			}
			if !addr.Is4() {
				return ep, fmt.Errorf("IPv6 is not supported (%q)", ip)
			}
			ep.IP = addr.String()
		}
	}

	ports, err := ParsePortSpec(ed.Ports)
	if err != nil {
		return ep, err
	}
	ep.Ports = ports

	return ep, nil
}
