// Package nft is the native filtering capability: enumeration of the
// filters this product owns, and transactional add/remove of compiled
// filters. The real backend drives nftables through netlink; tests use
// the in-memory fake. Everything above this package is
// platform-independent.
package nft

import (
	"context"
	"errors"

	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/policy"
)

// ErrUnavailable indicates the native transaction could not be opened
// (netlink socket exhaustion, contention). Callers may retry with
// backoff.
var ErrUnavailable = errors.New("native filter transaction unavailable")

// ErrRejected indicates the native layer refused one of the queued
// operations. The transaction was aborted; the installed set is
// unchanged.
var ErrRejected = errors.New("native filter operation rejected")

// InstalledFilter is one live filter owned by this product, as read back
// from the native layer. Handle is backend-opaque and only meaningful to
// the backend that produced it.
type InstalledFilter struct {
	Key       string
	Weight    uint64
	Direction policy.Direction
	Handle    uint64
}

// Capability is the narrow contract the sync engine works against:
// enumerate-by-owner plus transaction begin. Add/remove/commit/abort
// live on the transaction.
type Capability interface {
	// ListOwned enumerates every filter carrying this product's
	// ownership tag. Filters owned by anything else on the host are
	// invisible here and never touched.
	ListOwned(ctx context.Context) ([]InstalledFilter, error)

	// Begin opens one native transaction. The returned Txn must be
	// finished with exactly one Commit or Abort; the backend guarantees
	// release of the underlying handle on both paths.
	Begin(ctx context.Context) (Txn, error)
}

// Txn is a single native transaction. Queued operations take effect
// all-or-nothing at Commit; Abort discards them with no externally
// visible effect.
type Txn interface {
	Add(f *compile.CompiledFilter) error
	Remove(f InstalledFilter) error
	Commit() error
	Abort()
}
