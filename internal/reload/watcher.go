// Package reload watches the policy file and drives the shared apply
// pipeline when it changes. Rapid successive writes coalesce into a
// single apply; failures leave the installed filter set untouched and
// are surfaced through the status query.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rampart-fw/rampart/internal/clock"
	"github.com/rampart-fw/rampart/internal/engine"
	"github.com/rampart-fw/rampart/internal/logging"
	"github.com/rampart-fw/rampart/internal/metrics"
	"github.com/rampart-fw/rampart/internal/policy"
)

// DefaultDebounce is the quiet period before a change is applied.
const DefaultDebounce = 500 * time.Millisecond

// Controller watches one policy file. The parent directory is watched
// rather than the file itself so atomic editor saves (write temp +
// rename) keep working after the inode changes.
type Controller struct {
	path     string
	eng      *engine.Engine
	logger   *logging.Logger
	met      *metrics.Registry
	debounce *Debouncer
	watcher  *fsnotify.Watcher

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	errorCount int
	lastError  string
	lastErrAt  time.Time
	applies    int
}

// Config configures the controller.
type Config struct {
	// Path is the policy file to watch.
	Path string

	// Debounce is the quiet period; zero means DefaultDebounce.
	Debounce time.Duration
}

// ReloadStatus is the read-only view of the controller.
type ReloadStatus struct {
	Path        string `json:"path"`
	Applies     int    `json:"applies"`
	ErrorCount  int    `json:"errorCount"`
	LastError   string `json:"lastError,omitempty"`
	LastErrorAt string `json:"lastErrorAt,omitempty"`
}

// NewController creates the hot-reload controller.
func NewController(cfg Config, eng *engine.Engine, logger *logging.Logger) (*Controller, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("reload: policy path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Controller{
		path:     cfg.Path,
		eng:      eng,
		logger:   logger.WithComponent("reload"),
		met:      metrics.Get(),
		debounce: NewDebouncer(cfg.Debounce),
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch runs the event loop until the context is cancelled or Stop is
// called. Applies happen on the caller-independent debounce goroutine
// and never block this loop.
func (c *Controller) Watch(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("reload controller already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(c.doneCh)
	}()

	if err := c.watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(c.path), err)
	}

	c.logger.Info("Watching policy file", "path", c.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.stopCh:
			return nil

		case event, ok := <-c.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !c.relevant(event) {
				continue
			}
			c.met.ReloadEvents.Inc()
			c.logger.Debug("Policy file event", "op", event.Op.String(), "path", event.Name)
			c.debounce.Trigger(c.applyLatest)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			c.logger.Error("Watcher error", "error", err)
		}
	}
}

// Stop shuts the controller down and waits for the loop to exit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh
	c.debounce.Stop()
	return c.watcher.Close()
}

// ApplyNow bypasses the debounce and applies the file immediately, used
// for SIGHUP-driven reloads.
func (c *Controller) ApplyNow() {
	c.applyLatest()
}

// Status returns the controller's error counters.
func (c *Controller) Status() ReloadStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ReloadStatus{
		Path:       c.path,
		Applies:    c.applies,
		ErrorCount: c.errorCount,
		LastError:  c.lastError,
	}
	if !c.lastErrAt.IsZero() {
		st.LastErrorAt = c.lastErrAt.UTC().Format(time.RFC3339)
	}
	return st
}

func (c *Controller) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(c.path)
}

// applyLatest reads the file as it is now and pushes it through the
// shared pipeline. Reading at apply time rather than event time means
// queued-up intermediate states are naturally dropped: only the most
// recent content is ever applied. On any failure the previously
// installed filter set stays authoritative.
func (c *Controller) applyLatest() {
	doc, err := policy.ParseFile(c.path)
	if err != nil {
		c.recordError(err)
		return
	}

	c.met.ReloadApplies.Inc()
	report, err := c.eng.ApplyDocument(context.Background(), doc, engine.SourceHotReload)
	if err != nil {
		c.recordError(err)
		return
	}

	c.mu.Lock()
	c.applies++
	c.mu.Unlock()

	c.logger.Info("Policy reloaded",
		"version", report.PolicyVersion,
		"created", report.Created,
		"removed", report.Removed,
		"unchanged", report.Unchanged,
	)
}

func (c *Controller) recordError(err error) {
	c.met.ReloadErrors.Inc()
	c.mu.Lock()
	c.errorCount++
	c.lastError = err.Error()
	c.lastErrAt = clock.Now()
	c.mu.Unlock()
	c.logger.Error("Hot reload failed; previous policy remains in force", "error", err)
}
