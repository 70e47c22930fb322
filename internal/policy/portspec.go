package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePortSpec parses a port specification string: a single port, an
// inclusive range, or a comma-separated mixture ("80,443,8000-9000").
// The result is normalized: ranges sorted ascending, overlapping or
// adjacent ranges merged. All values must be in 1..65535 with low <= high.
func ParsePortSpec(spec string) (PortSet, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var set PortSet
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element in port spec %q", spec)
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loPort, err := parsePort(lo)
			if err != nil {
				return nil, err
			}
			hiPort, err := parsePort(hi)
			if err != nil {
				return nil, err
			}
			if loPort > hiPort {
				return nil, fmt.Errorf("inverted port range %q", part)
			}
			set = append(set, PortRange{Lo: loPort, Hi: hiPort})
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		set = append(set, PortRange{Lo: p, Hi: p})
	}

	return normalizePortSet(set), nil
}

func parsePort(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return uint16(n), nil
}

// normalizePortSet sorts ranges ascending and merges overlaps so the
// same set of ports always canonicalizes to the same PortSet, whatever
// order the document listed them in.
func normalizePortSet(set PortSet) PortSet {
	if len(set) <= 1 {
		return set
	}
	sort.Slice(set, func(i, j int) bool {
		if set[i].Lo != set[j].Lo {
			return set[i].Lo < set[j].Lo
		}
		return set[i].Hi < set[j].Hi
	})

	merged := PortSet{set[0]}
	for _, r := range set[1:] {
		last := &merged[len(merged)-1]
		if uint32(r.Lo) <= uint32(last.Hi)+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
