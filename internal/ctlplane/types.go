package ctlplane

import (
	"errors"

	"github.com/rampart-fw/rampart/internal/engine"
	"github.com/rampart-fw/rampart/internal/lkg"
	"github.com/rampart-fw/rampart/internal/reload"
)

// ServiceName is the RPC service the daemon registers on the control
// socket.
const ServiceName = "Rampart"

// ErrRateLimited is placed in a reply's Error field when the peer's
// UID has exhausted its request budget. The text is part of the wire
// contract; clients match it with IsRateLimited.
var ErrRateLimited = errors.New("rate limited: request budget exhausted, retry later")

// IsRateLimited reports whether a reply error is the rate limit signal.
func IsRateLimited(replyErr string) bool {
	return replyErr == ErrRateLimited.Error()
}

// ApplyArgs carries a raw policy document to apply.
type ApplyArgs struct {
	Policy []byte
	Format string // "json" or "yaml"
}

// ApplyReply reports the apply outcome.
type ApplyReply struct {
	Success bool
	Error   string
	Report  *engine.ApplyReport
}

// PlanArgs carries a raw policy document to diff without applying.
type PlanArgs struct {
	Policy []byte
	Format string
}

// PlanReply reports what an apply would change.
type PlanReply struct {
	Success bool
	Error   string

	// Add and Remove are one-line filter summaries, ordered by weight.
	Add       []string
	Remove    []string
	Unchanged int
}

// RollbackArgs requests removal of every owned filter.
type RollbackArgs struct{}

// RollbackReply reports the rollback outcome.
type RollbackReply struct {
	Success bool
	Error   string
	Report  *engine.ApplyReport
}

// LKGShowArgs requests the persisted baseline.
type LKGShowArgs struct{}

// LKGShowReply carries the baseline record, if one exists.
type LKGShowReply struct {
	Success bool
	Error   string
	Record  *lkg.Record
}

// LKGRevertArgs requests re-applying the persisted baseline.
type LKGRevertArgs struct{}

// LKGRevertReply reports the revert outcome.
type LKGRevertReply struct {
	Success bool
	Error   string
	Report  *engine.ApplyReport
}

// StatusArgs requests a daemon status snapshot.
type StatusArgs struct{}

// StatusReply carries engine and hot-reload state.
type StatusReply struct {
	Success bool
	Error   string
	Status  engine.Status
	Reload  *reload.ReloadStatus
}
