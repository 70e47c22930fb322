package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rampart-fw/rampart/internal/policy"
)

// KeyOf computes the deterministic filter key: a SHA-256 over a
// canonical encoding of the rule id, direction variant, every match
// condition, the action and the weight. Comments and other volatile
// fields are deliberately absent, so editing a comment never disturbs
// the installed filter. Weight is included because priority is semantic:
// a priority change must be realized as a remove-then-add, never left in
// place.
func KeyOf(f *CompiledFilter) string {
	var b strings.Builder
	b.WriteString("v1|")
	b.WriteString(f.RuleID)
	b.WriteByte('|')
	b.WriteString(string(f.Direction))
	b.WriteByte('|')
	b.WriteString(string(f.Action))
	b.WriteByte('|')
	b.WriteString(string(f.Protocol))
	b.WriteByte('|')
	b.WriteString(f.LocalIP)
	b.WriteByte('|')
	writePorts(&b, f.LocalPorts)
	b.WriteByte('|')
	b.WriteString(f.RemoteIP)
	b.WriteByte('|')
	writePorts(&b, f.RemotePorts)
	b.WriteByte('|')
	b.WriteString(f.Process)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", f.Weight)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writePorts(b *strings.Builder, r *policy.PortRange) {
	if r == nil {
		b.WriteByte('*')
		return
	}
	b.WriteString(r.String())
}
