// Package lkg persists the last-known-good baseline: the most recent
// policy that completed a successful transactional apply. The baseline
// lives in a single file replaced atomically, so a reader can never
// observe a partial write.
package lkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/policy"
)

// ErrNoBaseline indicates no baseline has been recorded yet.
var ErrNoBaseline = errors.New("no last-known-good baseline recorded")

// Record is the persisted baseline: the policy document exactly as
// applied, plus its effective timestamp.
type Record struct {
	SchemaVersion int              `json:"schemaVersion"`
	AppliedAt     time.Time        `json:"appliedAt"`
	PolicyVersion string           `json:"policyVersion"`
	Policy        *policy.Document `json:"policy"`
}

const schemaVersion = 1

// Store owns the baseline file. It is the only writer; the apply engine
// updates it immediately after a commit succeeds and never before.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

// NewStore creates a store for the given baseline path.
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{path: path, logger: logger.WithComponent("lkg")}
}

// Save replaces the baseline with the given document. The write is
// atomic: a temp file in the same directory, synced, then renamed over
// the old baseline.
func (s *Store) Save(doc *policy.Document, appliedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		SchemaVersion: schemaVersion,
		AppliedAt:     appliedAt,
		PolicyVersion: doc.Version,
		Policy:        doc,
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lkg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp baseline: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close baseline: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod baseline: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace baseline: %w", err)
	}

	s.logger.Info("Baseline updated", "version", rec.PolicyVersion, "applied_at", appliedAt)
	return nil
}

// Load reads the current baseline. ErrNoBaseline means the slot is
// empty; any other error means the record exists but is unreadable,
// which revert surfaces and panic rollback deliberately ignores.
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBaseline
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	if rec.Policy == nil {
		return nil, fmt.Errorf("baseline record has no policy")
	}
	return &rec, nil
}

// Path returns the baseline file location.
func (s *Store) Path() string {
	return s.path
}
