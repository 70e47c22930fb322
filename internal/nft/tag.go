package nft

import (
	"fmt"
	"regexp"
	"strconv"
)

// Installed rules carry an ownership tag in their userdata:
//
//	rampart:k=<filter key>:w=<weight>
//
// The tag is the sole discriminator between our filters and anything
// else on the host, and the only thing enumeration needs to parse.
var tagRegex = regexp.MustCompile(`^rampart:k=([0-9a-f]{64}):w=(\d+)$`)

// BuildTag encodes the ownership tag for a filter key and weight.
func BuildTag(key string, weight uint64) string {
	return fmt.Sprintf("rampart:k=%s:w=%d", key, weight)
}

// ParseTag decodes an ownership tag. Returns ok=false for anything that
// is not one of ours, including corrupt or foreign userdata.
func ParseTag(tag string) (key string, weight uint64, ok bool) {
	m := tagRegex.FindStringSubmatch(tag)
	if m == nil {
		return "", 0, false
	}
	w, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], w, true
}
