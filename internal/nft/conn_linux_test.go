//go:build linux

package nft

import (
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"github.com/rampart-fw/rampart/internal/brand"
	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/policy"
)

// offlineTxn builds a txn that renders without a netlink connection,
// counting anonymous set registrations through the addSet hook.
func offlineTxn() (*txn, *int) {
	table := &nftables.Table{Family: nftables.TableFamilyINet, Name: brand.TableName}
	tx := &txn{
		backend: NewBackend(nil),
		table:   table,
		chains: map[policy.Direction]*nftables.Chain{
			policy.DirectionInbound:  {Name: chainInbound, Table: table},
			policy.DirectionOutbound: {Name: chainOutbound, Table: table},
		},
		installed: make(map[policy.Direction][]InstalledFilter),
		removed:   make(map[uint64]bool),
	}
	sets := new(int)
	tx.addSet = func(s *nftables.Set, _ []nftables.SetElement) error {
		*sets++
		s.ID = uint32(*sets)
		return nil
	}
	return tx, sets
}

func anyProtoPortFilter() *compile.CompiledFilter {
	return &compile.CompiledFilter{
		RuleID:     "any-dns",
		Direction:  policy.DirectionOutbound,
		Action:     policy.ActionAllow,
		Protocol:   policy.ProtocolAny,
		LocalPorts: &policy.PortRange{Lo: 53, Hi: 53},
		Weight:     1 << 16,
		Key:        "00ab",
	}
}

func TestTxn_AddRegistersProtoSetOnce(t *testing.T) {
	tx, sets := offlineTxn()

	f := anyProtoPortFilter()
	if err := tx.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if *sets != 1 {
		t.Fatalf("set registrations after Add = %d, want 1", *sets)
	}

	// The rule assembled at commit time reuses the cached expressions,
	// so its lookup references the set registered during Add and no
	// further set enters the batch.
	rule := tx.buildRule(tx.adds[0])
	if *sets != 1 {
		t.Fatalf("set registrations after buildRule = %d, want 1", *sets)
	}
	var lookup *expr.Lookup
	for _, e := range rule.Exprs {
		if l, ok := e.(*expr.Lookup); ok {
			lookup = l
		}
	}
	if lookup == nil {
		t.Fatal("rule has no set lookup")
	}
	if lookup.SetID != 1 {
		t.Fatalf("lookup references set %d, want the one from Add", lookup.SetID)
	}
}

func TestTxn_AddWithoutAnyProtoRegistersNoSet(t *testing.T) {
	tx, sets := offlineTxn()

	f := anyProtoPortFilter()
	f.Protocol = policy.ProtocolTCP
	if err := tx.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if *sets != 0 {
		t.Fatalf("set registrations = %d, want 0", *sets)
	}
}
