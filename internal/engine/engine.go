// Package engine is the transactional policy synchronization engine:
// validate, compile, diff and apply, serialized behind a single apply
// lock, with the last-known-good baseline maintained around every
// successful commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rampart-fw/rampart/internal/clock"
	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/diff"
	"github.com/rampart-fw/rampart/internal/lkg"
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/metrics"
	"github.com/rampart-fw/rampart/internal/nft"
	"github.com/rampart-fw/rampart/internal/policy"
)

// Apply sources, recorded on reports and in the audit log.
const (
	SourceAdmin     = "admin"
	SourceHotReload = "hot-reload"
	SourceLKGRevert = "lkg-revert"
	SourceRollback  = "rollback"
)

// Engine drives the full pipeline. All mutating operations (apply,
// rollback, revert) serialize on one lock; read-only queries never take
// it and observe either the pre- or post-apply state, never a torn one.
type Engine struct {
	// applyMu is the single apply lock.
	applyMu sync.Mutex

	capability nft.Capability
	store      *lkg.Store
	logger     *logging.Logger
	met        *metrics.Registry
	retryCfg   RetryConfig
	maxRules   int

	// stateMu guards the reader-visible snapshot below; it is held only
	// for short copies, never across native calls.
	stateMu        sync.RWMutex
	current        *policy.Policy
	lastReport     *ApplyReport
	history        []ApplyReport
	installedCount int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryConfig overrides the transaction-unavailable backoff.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) { e.retryCfg = cfg }
}

// WithMaxRules overrides the policy rule-count ceiling.
func WithMaxRules(n int) Option {
	return func(e *Engine) { e.maxRules = n }
}

// New creates an engine over the given native capability and baseline
// store.
func New(capability nft.Capability, store *lkg.Store, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		capability: capability,
		store:      store,
		logger:     logger.WithComponent("engine"),
		met:        metrics.Get(),
		retryCfg:   DefaultRetryConfig(),
		maxRules:   policy.DefaultMaxRules,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyBytes validates and applies a raw policy document.
func (e *Engine) ApplyBytes(ctx context.Context, raw []byte, format, source string) (*ApplyReport, error) {
	doc, err := policy.ParseBytes(raw, format)
	if err != nil {
		e.recordFailure(source, "", fmt.Errorf("%w: %v", ErrValidation, err), "validation_error")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return e.ApplyDocument(ctx, doc, source)
}

// ApplyDocument validates and applies a parsed policy document. On
// success the document becomes the new last-known-good baseline.
func (e *Engine) ApplyDocument(ctx context.Context, doc *policy.Document, source string) (*ApplyReport, error) {
	p, verrs := policy.Validate(doc, policy.Options{MaxRules: e.maxRules})
	if verrs.HasErrors() {
		err := fmt.Errorf("%w: %v", ErrValidation, verrs)
		e.recordFailure(source, doc.Version, err, "validation_error")
		return nil, err
	}
	return e.apply(ctx, p, doc, source, true)
}

// RevertLKG recompiles and re-applies the stored baseline through the
// normal pipeline. The baseline record itself is left untouched: on
// success it is already current, on failure it must survive for the
// next attempt.
func (e *Engine) RevertLKG(ctx context.Context) (*ApplyReport, error) {
	rec, err := e.store.Load()
	if err != nil {
		if errors.Is(err, lkg.ErrNoBaseline) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	p, verrs := policy.Validate(rec.Policy, policy.Options{MaxRules: e.maxRules})
	if verrs.HasErrors() {
		err := fmt.Errorf("%w: stored baseline is invalid: %v", ErrValidation, verrs)
		e.recordFailure(SourceLKGRevert, rec.PolicyVersion, err, "validation_error")
		return nil, err
	}

	e.met.LKGRevertsTotal.Inc()
	return e.apply(ctx, p, rec.Policy, SourceLKGRevert, false)
}

// Rollback is the panic path: it unconditionally removes every filter
// this product owns, regardless of current policy or baseline state. It
// deliberately never reads the baseline, so a corrupt record cannot
// block emergency connectivity restoration.
func (e *Engine) Rollback(ctx context.Context) (*ApplyReport, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	start := clock.Now()
	report := &ApplyReport{
		ID:        uuid.NewString(),
		Source:    SourceRollback,
		StartedAt: start,
	}

	installed, err := e.capability.ListOwned(ctx)
	if err != nil {
		return nil, e.finishFailure(report, fmt.Errorf("enumerate installed filters: %w", err))
	}

	plan := diff.Compute(nil, installed)
	if err := e.applyPlan(ctx, plan); err != nil {
		// A failed rollback is the one case worth escalating loudly: it
		// is the last line of defense against lockout.
		e.logger.Error("PANIC ROLLBACK FAILED - owned filters may still be installed", "error", err)
		return nil, e.finishFailure(report, err)
	}

	report.Removed = len(plan.ToRemove)
	report.Success = true
	report.Duration = clock.Since(start)

	e.met.RollbacksTotal.Inc()
	e.met.FiltersRemoved.Add(float64(report.Removed))
	e.met.InstalledGauge.Set(0)
	e.met.AppliesTotal.WithLabelValues("success").Inc()

	e.stateMu.Lock()
	e.current = nil
	e.installedCount = 0
	e.lastReport = report
	e.history = appendHistory(e.history, *report)
	e.stateMu.Unlock()

	e.logger.Audit("rollback", "filters", map[string]any{
		"removed": report.Removed,
		"id":      report.ID,
	})
	return report, nil
}

// Plan computes the diff a document would produce without applying it.
// Read-only: no apply lock, no transaction.
func (e *Engine) Plan(ctx context.Context, doc *policy.Document) (*diff.Plan, []compile.CompiledFilter, error) {
	p, verrs := policy.Validate(doc, policy.Options{MaxRules: e.maxRules})
	if verrs.HasErrors() {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, verrs)
	}
	desired, err := compile.Compile(p)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	installed, err := e.capability.ListOwned(ctx)
	if err != nil {
		return nil, nil, err
	}
	return diff.Compute(desired, installed), desired, nil
}

// apply runs compile → enumerate → diff → transact under the apply
// lock, then persists the baseline.
func (e *Engine) apply(ctx context.Context, p *policy.Policy, doc *policy.Document, source string, persist bool) (*ApplyReport, error) {
	desired, err := compile.Compile(p)
	if err != nil {
		cerr := fmt.Errorf("%w: %v", ErrCompile, err)
		e.recordFailure(source, p.Version, cerr, "compile_error")
		return nil, cerr
	}

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	start := clock.Now()
	report := &ApplyReport{
		ID:            uuid.NewString(),
		Source:        source,
		PolicyVersion: p.Version,
		StartedAt:     start,
	}

	installed, err := e.capability.ListOwned(ctx)
	if err != nil {
		return nil, e.finishFailure(report, fmt.Errorf("enumerate installed filters: %w", err))
	}

	plan := diff.Compute(desired, installed)
	report.Created = len(plan.ToAdd)
	report.Removed = len(plan.ToRemove)
	report.Unchanged = plan.Unchanged

	// An unchanged policy produces an empty plan and exactly zero
	// native calls.
	if !plan.Empty() {
		if err := e.applyPlan(ctx, plan); err != nil {
			return nil, e.finishFailure(report, err)
		}
	}

	report.Success = true
	report.Duration = clock.Since(start)

	installedCount := plan.Unchanged + len(plan.ToAdd)
	e.met.AppliesTotal.WithLabelValues("success").Inc()
	e.met.FiltersCreated.Add(float64(report.Created))
	e.met.FiltersRemoved.Add(float64(report.Removed))
	e.met.InstalledGauge.Set(float64(installedCount))

	e.stateMu.Lock()
	e.current = p
	e.installedCount = installedCount
	e.lastReport = report
	e.history = appendHistory(e.history, *report)
	e.stateMu.Unlock()

	e.logger.Audit("apply", "policy", map[string]any{
		"id":        report.ID,
		"source":    source,
		"version":   p.Version,
		"created":   report.Created,
		"removed":   report.Removed,
		"unchanged": report.Unchanged,
	})

	if persist {
		if err := e.store.Save(doc, start); err != nil {
			// The filters are committed; only the baseline write
			// failed. Surface it without undoing anything.
			perr := fmt.Errorf("%w: %v", ErrPersistence, err)
			e.logger.Error("Baseline persistence failed after successful apply", "error", err)
			e.met.AppliesTotal.WithLabelValues("persistence_error").Inc()
			return report, perr
		}
	}

	return report, nil
}

// applyPlan executes one plan as one native transaction, retrying with
// backoff when the transaction cannot be opened.
func (e *Engine) applyPlan(ctx context.Context, plan *diff.Plan) error {
	attempt := func() error {
		txn, err := e.capability.Begin(ctx)
		if err != nil {
			return err
		}
		for _, f := range plan.ToRemove {
			if err := txn.Remove(f); err != nil {
				txn.Abort()
				return err
			}
		}
		for i := range plan.ToAdd {
			if err := txn.Add(&plan.ToAdd[i]); err != nil {
				txn.Abort()
				return err
			}
		}
		return txn.Commit()
	}

	err := retry(ctx, e.retryCfg,
		func(err error) bool { return errors.Is(err, nft.ErrUnavailable) },
		func(n int, err error) {
			e.met.ApplyRetries.Inc()
			e.logger.Warn("Native transaction unavailable, retrying", "attempt", n, "error", err)
		},
		attempt,
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, nft.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrTransactionUnavailable, err)
	}
	if errors.Is(err, nft.ErrRejected) {
		return fmt.Errorf("%w: %v", ErrNativeRejected, err)
	}
	return err
}

// finishFailure finalizes a report for a failed mutating operation and
// records it.
func (e *Engine) finishFailure(report *ApplyReport, err error) error {
	report.Success = false
	report.Error = err.Error()
	report.Duration = clock.Since(report.StartedAt)

	e.met.AppliesTotal.WithLabelValues(resultLabel(err)).Inc()

	e.stateMu.Lock()
	e.lastReport = report
	e.history = appendHistory(e.history, *report)
	e.stateMu.Unlock()

	e.logger.Error("Apply attempt failed", "id", report.ID, "source", report.Source, "error", err)
	return err
}

// recordFailure records a failure that happened before an apply lock
// was taken (validation, compile).
func (e *Engine) recordFailure(source, version string, err error, label string) {
	report := ApplyReport{
		ID:            uuid.NewString(),
		Source:        source,
		PolicyVersion: version,
		StartedAt:     clock.Now(),
		Error:         err.Error(),
	}
	e.met.AppliesTotal.WithLabelValues(label).Inc()

	e.stateMu.Lock()
	e.lastReport = &report
	e.history = appendHistory(e.history, report)
	e.stateMu.Unlock()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrCompile):
		return "compile_error"
	case errors.Is(err, ErrNativeRejected):
		return "native_rejected"
	case errors.Is(err, ErrTransactionUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}

// Status is the read-only view served to status queries.
type Status struct {
	FilterCount     int           `json:"filterCount"`
	CurrentVersion  string        `json:"currentVersion,omitempty"`
	BaselineVersion string        `json:"baselineVersion,omitempty"`
	BaselineTime    string        `json:"baselineTime,omitempty"`
	LastApply       *ApplyReport  `json:"lastApply,omitempty"`
	History         []ApplyReport `json:"history,omitempty"`
}

// Status returns a snapshot of engine state. It never takes the apply
// lock: a concurrent apply is observed either before or after its
// transaction, which the native commit boundary guarantees is never
// torn.
func (e *Engine) Status() Status {
	e.stateMu.RLock()
	st := Status{
		FilterCount: e.installedCount,
	}
	if e.lastReport != nil {
		last := *e.lastReport
		st.LastApply = &last
	}
	if e.current != nil {
		st.CurrentVersion = e.current.Version
	}
	st.History = make([]ApplyReport, len(e.history))
	copy(st.History, e.history)
	e.stateMu.RUnlock()

	if rec, err := e.store.Load(); err == nil {
		st.BaselineVersion = rec.PolicyVersion
		st.BaselineTime = rec.AppliedAt.UTC().Format(time.RFC3339)
	}
	return st
}

// Baseline returns the persisted LKG record, or lkg.ErrNoBaseline.
func (e *Engine) Baseline() (*lkg.Record, error) {
	return e.store.Load()
}

// CurrentPolicy returns a point-in-time snapshot of the applied policy,
// or nil when none is installed.
func (e *Engine) CurrentPolicy() *policy.Policy {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.current
}
