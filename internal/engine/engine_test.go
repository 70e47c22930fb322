package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampart-fw/rampart/internal/lkg"
	"github.com/rampart-fw/rampart/internal/nft"
	"github.com/rampart-fw/rampart/internal/policy"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func newTestEngine(t *testing.T) (*Engine, *nft.Fake) {
	t.Helper()
	fake := nft.NewFake()
	store := lkg.NewStore(filepath.Join(t.TempDir(), "lkg.json"), nil)
	eng := New(fake, store, nil, WithRetryConfig(fastRetry()))
	return eng, fake
}

func docWithRules(version string, rules ...policy.RuleDocument) *policy.Document {
	return &policy.Document{Version: version, DefaultAction: "block", Rules: rules}
}

func sshRule() policy.RuleDocument {
	return policy.RuleDocument{
		ID:        "allow-ssh",
		Action:    "allow",
		Direction: "inbound",
		Protocol:  "tcp",
		Local:     policy.EndpointDocument{Ports: "22"},
	}
}

func dnsRule() policy.RuleDocument {
	return policy.RuleDocument{
		ID:        "allow-dns",
		Action:    "allow",
		Direction: "outbound",
		Protocol:  "udp",
		Remote:    policy.EndpointDocument{Ports: "53"},
	}
}

func TestApplyDocument_FreshInstall(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	report, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	assert.True(t, report.Success)
	// One rule filter plus two catch-alls.
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 0, report.Removed)

	installed, err := fake.ListOwned(ctx)
	require.NoError(t, err)
	assert.Len(t, installed, 3)
}

func TestApplyDocument_IdempotentReapply(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	doc := docWithRules("v1", sshRule(), dnsRule())
	_, err := eng.ApplyDocument(ctx, doc, SourceAdmin)
	require.NoError(t, err)
	commits := fake.CommitCalls()

	report, err := eng.ApplyDocument(ctx, doc, SourceAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Removed)
	assert.Equal(t, 4, report.Unchanged)

	// The empty plan must not open a transaction at all.
	assert.Equal(t, commits, fake.CommitCalls())
}

func TestApplyDocument_ProportionalChange(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)

	report, err := eng.ApplyDocument(ctx, docWithRules("v2", sshRule(), dnsRule()), SourceAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created, "only the new rule's filter moves")
	assert.Equal(t, 0, report.Removed)
	assert.Equal(t, 3, report.Unchanged)
}

func TestApplyDocument_ValidationFailureChangesNothing(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	before := fake.Keys()

	bad := docWithRules("v2", sshRule())
	bad.Rules[0].Direction = "sideways"
	_, err = eng.ApplyDocument(ctx, bad, SourceAdmin)
	require.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, before, fake.Keys(), "a rejected policy must leave the host untouched")
	assert.Equal(t, "v1", eng.Status().CurrentVersion)
}

func TestApplyDocument_RejectedCommitIsAtomic(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	before := fake.Keys()

	// Find a key the next policy will add, and poison it.
	plan, _, err := eng.Plan(ctx, docWithRules("v2", sshRule(), dnsRule()))
	require.NoError(t, err)
	require.NotEmpty(t, plan.ToAdd)
	fake.RejectKey = plan.ToAdd[0].Key

	_, err = eng.ApplyDocument(ctx, docWithRules("v2", sshRule(), dnsRule()), SourceAdmin)
	require.ErrorIs(t, err, ErrNativeRejected)

	assert.Equal(t, before, fake.Keys(), "a failed transaction must not partially apply")

	// The baseline still points at the last good policy.
	rec, err := eng.Baseline()
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.PolicyVersion)
}

func TestApplyDocument_RetriesOnUnavailable(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	fake.BeginFailures = 2
	report, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 3, fake.BeginCalls(), "two failures then one success")
}

func TestApplyDocument_UnavailableExhaustsRetries(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	fake.BeginFailures = 10
	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.ErrorIs(t, err, ErrTransactionUnavailable)
	assert.Equal(t, 3, fake.BeginCalls(), "MaxAttempts bounds the retries")
}

func TestRollback_RemovesEverything(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule(), dnsRule()), SourceAdmin)
	require.NoError(t, err)

	report, err := eng.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Removed)

	installed, err := fake.ListOwned(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)

	st := eng.Status()
	assert.Equal(t, 0, st.FilterCount)
	assert.Empty(t, st.CurrentVersion)

	// Rollback must not clear the baseline: revert after rollback is a
	// supported recovery path.
	rec, err := eng.Baseline()
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.PolicyVersion)
}

func TestRevertLKG_RestoresBaseline(t *testing.T) {
	eng, fake := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)

	_, err = eng.ApplyDocument(ctx, docWithRules("v2", sshRule(), dnsRule()), SourceAdmin)
	require.NoError(t, err)

	// Baseline moved to v2; revert targets it, not v1.
	report, err := eng.RevertLKG(ctx)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, "v2", eng.Status().CurrentVersion)

	// Now roll everything off and revert again: the host comes back to
	// the baseline.
	_, err = eng.Rollback(ctx)
	require.NoError(t, err)
	_, err = eng.RevertLKG(ctx)
	require.NoError(t, err)
	installed, _ := fake.ListOwned(ctx)
	assert.Len(t, installed, 4)
}

func TestRevertLKG_NoBaseline(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.RevertLKG(context.Background())
	require.ErrorIs(t, err, lkg.ErrNoBaseline)
}

func TestRevertLKG_DoesNotRewriteBaseline(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	recBefore, err := eng.Baseline()
	require.NoError(t, err)

	_, err = eng.RevertLKG(ctx)
	require.NoError(t, err)
	recAfter, err := eng.Baseline()
	require.NoError(t, err)
	assert.Equal(t, recBefore.AppliedAt, recAfter.AppliedAt, "revert must not re-save the baseline")
}

func TestStatus_History(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ApplyDocument(ctx, docWithRules("v1", sshRule()), SourceAdmin)
	require.NoError(t, err)
	bad := docWithRules("", sshRule())
	_, err = eng.ApplyDocument(ctx, bad, SourceAdmin)
	require.Error(t, err)

	st := eng.Status()
	require.Len(t, st.History, 2)
	assert.True(t, st.History[0].Success)
	assert.NotEmpty(t, st.History[1].Error)
	assert.Equal(t, "v1", st.BaselineVersion)
	require.NotNil(t, st.LastApply)
	assert.False(t, st.LastApply.Success)
}

func TestApplyBytes_ParseError(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.ApplyBytes(context.Background(), []byte("{broken"), "json", SourceAdmin)
	require.ErrorIs(t, err, ErrValidation)
}
