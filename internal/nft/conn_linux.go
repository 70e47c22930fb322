//go:build linux

package nft

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"github.com/rampart-fw/rampart/internal/brand"
	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/policy"
)

const (
	chainInbound  = "inbound"
	chainOutbound = "outbound"
)

// Backend drives nftables through netlink. All filters live in one
// owned table (inet <brand.TableName>) with one base chain per
// direction; rule order within a chain realizes the compiled weights.
type Backend struct {
	table  string
	procs  ProcessMatcher
	logger *logging.Logger
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithProcessMatcher overrides the process-identity resolver.
func WithProcessMatcher(pm ProcessMatcher) BackendOption {
	return func(b *Backend) { b.procs = pm }
}

// NewBackend creates the nftables-backed capability.
func NewBackend(logger *logging.Logger, opts ...BackendOption) *Backend {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Backend{
		table:  brand.TableName,
		procs:  NewCgroupProcessMatcher(),
		logger: logger.WithComponent("nft"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func chainName(d policy.Direction) string {
	if d == policy.DirectionInbound {
		return chainInbound
	}
	return chainOutbound
}

// ListOwned enumerates the rules of our table and decodes their
// ownership tags. A missing table means nothing is installed; rules
// with unparseable userdata are not ours and are skipped.
func (b *Backend) ListOwned(ctx context.Context) ([]InstalledFilter, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	table, err := b.findTable(conn)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, nil
	}

	var out []InstalledFilter
	for _, dir := range []policy.Direction{policy.DirectionInbound, policy.DirectionOutbound} {
		chain := &nftables.Chain{Name: chainName(dir), Table: table}
		rules, err := conn.GetRules(table, chain)
		if err != nil {
			// Chain not created yet.
			continue
		}
		for _, r := range rules {
			key, weight, ok := ParseTag(string(r.UserData))
			if !ok {
				continue
			}
			out = append(out, InstalledFilter{
				Key:       key,
				Weight:    weight,
				Direction: dir,
				Handle:    r.Handle,
			})
		}
	}
	return out, nil
}

func (b *Backend) findTable(conn *nftables.Conn) (*nftables.Table, error) {
	tables, err := conn.ListTablesOfFamily(nftables.TableFamilyINet)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == b.table {
			return t, nil
		}
	}
	return nil, nil
}

// Begin opens one lasting netlink connection for the duration of the
// transaction. Queued operations are sent as a single batch at Commit;
// Abort closes the connection with nothing sent.
func (b *Backend) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := nftables.New(nftables.AsLasting())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t := &txn{backend: b, conn: conn, addSet: conn.AddSet}
	if err := t.snapshot(); err != nil {
		conn.CloseLasting()
		return nil, err
	}
	return t, nil
}

// txn is one native transaction. The connection is owned by exactly one
// txn and released on every exit path.
type txn struct {
	backend *Backend
	conn    *nftables.Conn

	// addSet registers an anonymous set with the batch. Indirected so
	// tests can observe registrations without a netlink connection.
	addSet func(*nftables.Set, []nftables.SetElement) error

	table  *nftables.Table
	chains map[policy.Direction]*nftables.Chain

	// installed is the pre-transaction rule order per chain, weight
	// descending, used to compute insertion anchors.
	installed map[policy.Direction][]InstalledFilter
	removed   map[uint64]bool
	adds      []queuedAdd
	finished  bool
}

// queuedAdd is a pending insertion with its expressions rendered
// exactly once. Rendering registers any anonymous sets with the batch,
// so a second render at Commit would leave orphan sets behind.
type queuedAdd struct {
	filter *compile.CompiledFilter
	exprs  []expr.Any
}

// snapshot ensures the owned table and chains exist in the batch and
// records the current rule order for insertion positioning.
func (t *txn) snapshot() error {
	existing, err := t.backend.findTable(t.conn)
	if err != nil {
		return err
	}

	table := existing
	if table == nil {
		table = &nftables.Table{Family: nftables.TableFamilyINet, Name: t.backend.table}
	}
	// AddTable/AddChain are idempotent: re-adding an existing object is
	// accepted by the kernel without disturbing its rules.
	t.table = t.conn.AddTable(table)

	accept := nftables.ChainPolicyAccept
	t.chains = map[policy.Direction]*nftables.Chain{
		policy.DirectionInbound: t.conn.AddChain(&nftables.Chain{
			Name:     chainInbound,
			Table:    t.table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookInput,
			Priority: nftables.ChainPriorityFilter,
			Policy:   &accept,
		}),
		policy.DirectionOutbound: t.conn.AddChain(&nftables.Chain{
			Name:     chainOutbound,
			Table:    t.table,
			Type:     nftables.ChainTypeFilter,
			Hooknum:  nftables.ChainHookOutput,
			Priority: nftables.ChainPriorityFilter,
			Policy:   &accept,
		}),
	}

	t.installed = make(map[policy.Direction][]InstalledFilter)
	t.removed = make(map[uint64]bool)
	if existing == nil {
		return nil
	}
	for dir, chain := range t.chains {
		rules, err := t.conn.GetRules(t.table, chain)
		if err != nil {
			continue
		}
		for _, r := range rules {
			key, weight, ok := ParseTag(string(r.UserData))
			if !ok {
				continue
			}
			t.installed[dir] = append(t.installed[dir], InstalledFilter{
				Key: key, Weight: weight, Direction: dir, Handle: r.Handle,
			})
		}
	}
	return nil
}

// Add queues a compiled filter for insertion.
func (t *txn) Add(f *compile.CompiledFilter) error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	// Render now so condition problems surface before anything is
	// committed; Commit reuses these expressions as rendered.
	exprs, err := t.renderRule(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	t.adds = append(t.adds, queuedAdd{filter: f, exprs: exprs})
	return nil
}

// Remove queues an installed filter for deletion.
func (t *txn) Remove(f InstalledFilter) error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	chain, ok := t.chains[f.Direction]
	if !ok {
		return fmt.Errorf("%w: unknown direction %q", ErrRejected, f.Direction)
	}
	if err := t.conn.DelRule(&nftables.Rule{Table: t.table, Chain: chain, Handle: f.Handle}); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	t.removed[f.Handle] = true
	return nil
}

// Commit inserts queued additions at their weight positions and flushes
// the whole batch as one atomic netlink transaction. On any error the
// kernel applies nothing.
func (t *txn) Commit() error {
	if t.finished {
		return fmt.Errorf("transaction already finished")
	}
	t.finished = true
	defer t.conn.CloseLasting()

	// Insert heaviest first: each rule anchors before the first kept
	// rule of lower weight, so equal anchors preserve relative order.
	adds := make([]queuedAdd, len(t.adds))
	copy(adds, t.adds)
	sort.SliceStable(adds, func(i, j int) bool { return adds[i].filter.Weight > adds[j].filter.Weight })

	for _, a := range adds {
		rule := t.buildRule(a)
		if anchor, ok := t.anchorFor(a.filter); ok {
			rule.Position = anchor
			t.conn.InsertRule(rule)
		} else {
			t.conn.AddRule(rule)
		}
	}

	if err := t.conn.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}

// buildRule assembles the netlink rule for a queued add from its
// cached expressions.
func (t *txn) buildRule(a queuedAdd) *nftables.Rule {
	return &nftables.Rule{
		Table:    t.table,
		Chain:    t.chains[a.filter.Direction],
		Exprs:    a.exprs,
		UserData: []byte(BuildTag(a.filter.Key, a.filter.Weight)),
	}
}

// anchorFor returns the handle of the first surviving installed rule
// with a weight strictly below f's, in f's chain. The new rule is
// inserted before it.
func (t *txn) anchorFor(f *compile.CompiledFilter) (uint64, bool) {
	for _, inst := range t.installed[f.Direction] {
		if t.removed[inst.Handle] {
			continue
		}
		if inst.Weight < f.Weight {
			return inst.Handle, true
		}
	}
	return 0, false
}

// Abort releases the connection without sending the batch.
func (t *txn) Abort() {
	if t.finished {
		return
	}
	t.finished = true
	t.conn.CloseLasting()
}
