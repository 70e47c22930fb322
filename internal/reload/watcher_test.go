package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampart-fw/rampart/internal/engine"
	"github.com/rampart-fw/rampart/internal/lkg"
	"github.com/rampart-fw/rampart/internal/nft"
)

const goodPolicy = `{
  "version": "v1",
  "defaultAction": "block",
  "rules": [
    {"id": "allow-ssh", "action": "allow", "direction": "inbound", "protocol": "tcp", "local": {"ports": "22"}}
  ]
}`

func newTestController(t *testing.T) (*Controller, *engine.Engine, *nft.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(goodPolicy), 0o644))

	fake := nft.NewFake()
	store := lkg.NewStore(filepath.Join(dir, "lkg.json"), nil)
	eng := engine.New(fake, store, nil)

	ctl, err := NewController(Config{Path: path, Debounce: 20 * time.Millisecond}, eng, nil)
	require.NoError(t, err)
	return ctl, eng, fake, path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestController_AppliesOnChange(t *testing.T) {
	ctl, eng, _, path := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Watch(ctx)
	defer ctl.Stop()

	// Give the watcher a moment to register.
	time.Sleep(50 * time.Millisecond)

	updated := []byte(`{"version": "v2", "defaultAction": "block", "rules": []}`)
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	waitFor(t, 2*time.Second, func() bool {
		return eng.Status().CurrentVersion == "v2"
	})
	assert.GreaterOrEqual(t, ctl.Status().Applies, 1)
}

func TestController_AtomicSaveSurvives(t *testing.T) {
	// Editors and config management tools write a temp file and rename
	// it over the target. The watcher must pick that up.
	ctl, eng, _, path := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Watch(ctx)
	defer ctl.Stop()
	time.Sleep(50 * time.Millisecond)

	tmp := path + ".tmp"
	updated := []byte(`{"version": "v3", "defaultAction": "allow", "rules": []}`)
	require.NoError(t, os.WriteFile(tmp, updated, 0o644))
	require.NoError(t, os.Rename(tmp, path))

	waitFor(t, 2*time.Second, func() bool {
		return eng.Status().CurrentVersion == "v3"
	})
}

func TestController_InvalidFileLeavesPolicyInForce(t *testing.T) {
	ctl, eng, fake, path := newTestController(t)

	// Establish a good state first.
	ctl.ApplyNow()
	require.Equal(t, "v1", eng.Status().CurrentVersion)
	before := fake.Keys()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Watch(ctx)
	defer ctl.Stop()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("{definitely not json"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		return ctl.Status().ErrorCount >= 1
	})

	st := ctl.Status()
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, "v1", eng.Status().CurrentVersion)
	assert.Equal(t, before, fake.Keys(), "a failed reload must leave the installed set untouched")
}

func TestController_ApplyNow(t *testing.T) {
	ctl, eng, _, _ := newTestController(t)
	ctl.ApplyNow()
	assert.Equal(t, "v1", eng.Status().CurrentVersion)
	assert.Equal(t, 1, ctl.Status().Applies)
}

func TestNewController_RequiresPath(t *testing.T) {
	_, err := NewController(Config{}, nil, nil)
	require.Error(t, err)
}
