package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Document is the raw, untrusted shape of a policy file. Every field is
// treated as hostile until Validate has accepted it, including documents
// delivered over the control socket.
type Document struct {
	Version       string         `json:"version" yaml:"version"`
	DefaultAction string         `json:"defaultAction" yaml:"defaultAction"`
	UpdatedAt     time.Time      `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
	Rules         []RuleDocument `json:"rules" yaml:"rules"`
}

// RuleDocument is the raw shape of a single rule.
type RuleDocument struct {
	ID        string           `json:"id" yaml:"id"`
	Action    string           `json:"action" yaml:"action"`
	Direction string           `json:"direction" yaml:"direction"`
	Protocol  string           `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Process   string           `json:"process,omitempty" yaml:"process,omitempty"`
	Local     EndpointDocument `json:"local,omitempty" yaml:"local,omitempty"`
	Remote    EndpointDocument `json:"remote,omitempty" yaml:"remote,omitempty"`
	Priority  int              `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Enabled defaults to true when absent.
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// EndpointDocument is the raw shape of an endpoint spec.
type EndpointDocument struct {
	IP    string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Ports string `json:"ports,omitempty" yaml:"ports,omitempty"`
}

// ParseBytes decodes a policy document from JSON or YAML bytes. Decoding
// is strict for JSON: unknown fields are rejected so typos fail loudly
// instead of silently weakening the policy.
func ParseBytes(data []byte, format string) (*Document, error) {
	var doc Document
	switch strings.ToLower(format) {
	case "", "json":
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid policy JSON: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.UnmarshalStrict(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid policy YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}
	return &doc, nil
}

// ParseFile loads a policy document from disk, picking the format from
// the file extension (.yaml/.yml for YAML, everything else JSON).
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return ParseBytes(data, format)
}

// Marshal encodes the document as canonical JSON. Used by the LKG
// manager to persist the baseline.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// DocumentFromPolicy converts a validated Policy back into its document
// shape. Round-tripping a validated policy through DocumentFromPolicy
// and Validate yields an identical Policy.
func DocumentFromPolicy(p *Policy) *Document {
	doc := &Document{
		Version:       p.Version,
		DefaultAction: string(p.DefaultAction),
		UpdatedAt:     p.UpdatedAt,
		Rules:         make([]RuleDocument, 0, len(p.Rules)),
	}
	for _, r := range p.Rules {
		rd := RuleDocument{
			ID:        r.ID,
			Action:    string(r.Action),
			Direction: string(r.Direction),
			Protocol:  string(r.Protocol),
			Process:   r.Process,
			Priority:  r.Priority,
			Comment:   r.Comment,
			Local:     EndpointDocument{IP: r.Local.IP, Ports: r.Local.Ports.String()},
			Remote:    EndpointDocument{IP: r.Remote.IP, Ports: r.Remote.Ports.String()},
		}
		if !r.Enabled {
			enabled := false
			rd.Enabled = &enabled
		}
		doc.Rules = append(doc.Rules, rd)
	}
	return doc
}
