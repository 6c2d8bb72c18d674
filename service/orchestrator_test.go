package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/sigil/adapters/store"
	"github.com/layer-3/sigil/adapters/wallet"
	"github.com/layer-3/sigil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu          sync.Mutex
	calls       int
	invalidated int
	challenge   core.Challenge
	err         error
	// block, when non-nil, stalls Challenge until the channel is closed.
	block chan struct{}
}

func (p *fakeProvider) Challenge(ctx context.Context) (core.Challenge, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	challenge, err := p.challenge, p.err
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return core.Challenge{}, err
	}
	return challenge, nil
}

func (p *fakeProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) invalidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidated
}

type fakeVerifier struct {
	mu        sync.Mutex
	result    core.VerifyResult
	err       error
	statuses  []core.TicketStatus
	statusErr error
	// block, when non-nil, stalls Verify until the channel is closed.
	block chan struct{}
}

func (v *fakeVerifier) Verify(ctx context.Context, req core.VerifyRequest) (core.VerifyResult, error) {
	v.mu.Lock()
	block := v.block
	result, err := v.result, v.err
	v.mu.Unlock()

	if block != nil {
		<-block
	}
	return result, err
}

func (v *fakeVerifier) Status(ctx context.Context, id string) (core.TicketStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.statusErr != nil {
		return "", v.statusErr
	}
	if len(v.statuses) == 0 {
		return core.TicketPending, nil
	}
	status := v.statuses[0]
	if len(v.statuses) > 1 {
		v.statuses = v.statuses[1:]
	}
	return status, nil
}

type fixture struct {
	orch     *Orchestrator
	wallet   *wallet.LocalWallet
	provider *fakeProvider
	verifier *fakeVerifier
	drafts   *store.KVDraftStore
	sessions *store.KVSessionStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	w, err := wallet.Generate()
	require.NoError(t, err)

	kv := store.NewMemoryKV()
	f := &fixture{
		wallet:   w,
		provider: &fakeProvider{challenge: core.Challenge{Nonce: "n1", Message: "sign me"}},
		verifier: &fakeVerifier{result: core.VerifyResult{Token: "t1", Verified: true}},
		drafts:   store.NewKVDraftStore(kv, "test"),
		sessions: store.NewKVSessionStore(kv, "test"),
	}

	base := []Option{WithTypingWindow(40 * time.Millisecond)}
	poller := NewPoller(f.verifier, WithPollBounds(5*time.Millisecond, 10*time.Millisecond, 500*time.Millisecond))
	base = append(base, WithPoller(poller))

	f.orch = NewOrchestrator(Deps{
		Wallet:     w,
		Challenges: f.provider,
		Verifier:   f.verifier,
		Drafts:     f.drafts,
		Sessions:   f.sessions,
	}, append(base, opts...)...)
	return f
}

// start runs Start and wires wallet events into the orchestrator.
func (f *fixture) start(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, f.orch.Start(ctx))
	go f.orch.BindWallet(ctx)
	return ctx
}

// login drives the flow to the signing step.
func (f *fixture) toSigning(t *testing.T, ctx context.Context, username string) {
	t.Helper()
	require.NoError(t, f.orch.SetUsername(ctx, username))
	time.Sleep(50 * time.Millisecond) // let the typing window lapse
	require.NoError(t, f.orch.RequestConnect(ctx))
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Step == core.StepSigning
	}, time.Second, 5*time.Millisecond)
}

func TestFullFlowReachesComplete(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)

	assert.Equal(t, core.StepUsername, f.orch.Snapshot().Step)
	f.toSigning(t, ctx, "alice")
	require.NoError(t, f.orch.SignAndVerify(ctx))

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepComplete, snap.Step)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "t1", snap.Session.Token)
	assert.Equal(t, "alice", snap.Session.Username)
	assert.Equal(t, f.wallet.Address(), snap.Session.Address)
	assert.True(t, snap.Session.Verified)

	// Full draft clear on completion.
	assert.Empty(t, snap.Username)
	assert.False(t, snap.HasChallenge)
}

func TestChallengeFetchedAtMostOncePerDraft(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)

	f.toSigning(t, ctx, "alice")
	assert.Equal(t, 1, f.provider.callCount())

	// Re-requesting the connection within the same draft is rejected and
	// does not refetch.
	err := f.orch.RequestConnect(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidStep)
	assert.Equal(t, 1, f.provider.callCount())
}

func TestRequestConnectRequiresUsername(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)

	err := f.orch.RequestConnect(ctx)
	assert.ErrorIs(t, err, core.ErrEmptyUsername)
	assert.Equal(t, core.StepUsername, f.orch.Snapshot().Step)
}

func TestTypingSuppressesAutoAdvance(t *testing.T) {
	f := newFixture(t, WithTypingWindow(400*time.Millisecond))
	ctx := f.start(t)

	// Connect immediately after typing so the window is still open when the
	// wallet connects and the challenge arrives.
	require.NoError(t, f.orch.SetUsername(ctx, "ali"))
	require.NoError(t, f.orch.RequestConnect(ctx))

	// Wallet connected and challenge present; typing keeps the step pinned.
	require.Eventually(t, func() bool {
		snap := f.orch.Snapshot()
		return snap.HasChallenge && f.wallet.IsConnected()
	}, 300*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, f.orch.SetUsername(ctx, "alice"))
	assert.Equal(t, core.StepConnecting, f.orch.Snapshot().Step)

	// Once the window elapses the suppressed advance fires.
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Step == core.StepSigning
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", f.orch.Snapshot().Username)
}

func TestOptimisticLogin(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = core.VerifyResult{Token: "t1", Verified: false, VerificationID: "v1"}
	f.verifier.statuses = []core.TicketStatus{core.TicketPending, core.TicketComplete}
	ctx := f.start(t)

	f.toSigning(t, ctx, "alice")
	require.NoError(t, f.orch.SignAndVerify(ctx))

	// Logged in immediately, unverified.
	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "t1", snap.Session.Token)
	assert.False(t, snap.Session.Verified)

	// The poller flips the flag without touching anything else.
	require.Eventually(t, func() bool {
		s := f.orch.Snapshot().Session
		return s != nil && s.Verified
	}, 2*time.Second, 10*time.Millisecond)

	snap = f.orch.Snapshot()
	assert.Equal(t, "t1", snap.Session.Token)
	assert.Equal(t, "alice", snap.Session.Username)
}

func TestVerificationFailureKeepsSessionLoggedIn(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = core.VerifyResult{Token: "t1", Verified: false, VerificationID: "v1"}
	f.verifier.statuses = []core.TicketStatus{core.TicketFailed}
	ctx := f.start(t)

	f.toSigning(t, ctx, "alice")
	require.NoError(t, f.orch.SignAndVerify(ctx))

	require.Eventually(t, func() bool {
		return errors.Is(f.orch.Snapshot().Err, core.ErrPollFailed)
	}, 2*time.Second, 10*time.Millisecond)

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.False(t, snap.Session.Verified)
	assert.Equal(t, "t1", snap.Session.Token)
}

func TestSignFailureStaysInSigning(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	f.wallet.Decline(true)
	err := f.orch.SignAndVerify(ctx)
	assert.ErrorIs(t, err, core.ErrSignatureDeclined)

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepSigning, snap.Step)
	assert.True(t, snap.HasChallenge)
	assert.Equal(t, "alice", snap.Username)
	assert.Nil(t, snap.Session)

	// Retry succeeds once the prompt is accepted.
	f.wallet.Decline(false)
	require.NoError(t, f.orch.SignAndVerify(ctx))
	assert.Equal(t, core.StepComplete, f.orch.Snapshot().Step)
}

func TestMissingTokenCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = core.ErrMissingToken
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	err := f.orch.SignAndVerify(ctx)
	assert.ErrorIs(t, err, core.ErrMissingToken)

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepSigning, snap.Step)
	assert.Nil(t, snap.Session)

	// The nonce was consumed server-side even though no token came back.
	assert.Equal(t, 1, f.provider.invalidateCount())
}

func TestVerifySubmissionInvalidatesChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	// A declined signature never reaches the backend: the challenge is
	// still servable.
	f.wallet.Decline(true)
	require.ErrorIs(t, f.orch.SignAndVerify(ctx), core.ErrSignatureDeclined)
	assert.Equal(t, 0, f.provider.invalidateCount())

	f.wallet.Decline(false)
	require.NoError(t, f.orch.SignAndVerify(ctx))
	assert.Equal(t, 1, f.provider.invalidateCount())
}

func TestRestartWhileChallengeFetchOutstanding(t *testing.T) {
	f := newFixture(t)
	f.provider.block = make(chan struct{})
	ctx := f.start(t)

	require.NoError(t, f.orch.SetUsername(ctx, "alice"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.orch.RequestConnect(ctx))
	require.Eventually(t, func() bool { return f.wallet.IsConnected() },
		time.Second, 5*time.Millisecond)

	// Re-open the attempt with a fresh context while the fetch is still
	// outstanding; the late challenge must land on the resumed draft.
	restartCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.orch.Start(restartCtx))
	assert.Equal(t, core.StepConnecting, f.orch.Snapshot().Step)

	close(f.provider.block)
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Step == core.StepSigning
	}, time.Second, 5*time.Millisecond)
}

func TestReentrantSignAndVerifyRejected(t *testing.T) {
	f := newFixture(t)
	f.verifier.block = make(chan struct{})
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	done := make(chan error, 1)
	go func() { done <- f.orch.SignAndVerify(ctx) }()

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Loading
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.orch.SignAndVerify(ctx), core.ErrSignInFlight)
	// Cancellation is illegal while the round-trip is outstanding.
	assert.ErrorIs(t, f.orch.Cancel(ctx), core.ErrCancelIllegal)

	close(f.verifier.block)
	require.NoError(t, <-done)
}

func TestDisconnectResetsToUsername(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	f.wallet.Disconnect()
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Step == core.StepUsername
	}, time.Second, 5*time.Millisecond)

	snap := f.orch.Snapshot()
	assert.False(t, snap.HasChallenge)
	assert.Nil(t, snap.Session)
	assert.NoError(t, snap.Err)

	_, err := f.sessions.Load(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStaleVerifyResultDiscardedAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	f.verifier.block = make(chan struct{})
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	done := make(chan error, 1)
	go func() { done <- f.orch.SignAndVerify(ctx) }()
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Loading
	}, time.Second, 5*time.Millisecond)

	f.orch.OnWalletDisconnected()
	close(f.verifier.block)

	assert.ErrorIs(t, <-done, core.ErrStaleAttempt)
	assert.Nil(t, f.orch.Snapshot().Session)
}

func TestUnrelatedWalletConnectionIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	require.NoError(t, f.orch.SetUsername(ctx, "alice"))

	// A connection this flow did not initiate must not reopen it.
	require.NoError(t, f.wallet.Connect(ctx))
	time.Sleep(60 * time.Millisecond)

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepUsername, snap.Step)
	assert.False(t, snap.InitiatedConnect)
}

func TestCancelFromConnectingKeepsUsername(t *testing.T) {
	// A wide typing window holds the step at connecting long enough to
	// cancel from it deterministically.
	f := newFixture(t, WithTypingWindow(5*time.Second))
	ctx := f.start(t)

	require.NoError(t, f.orch.SetUsername(ctx, "alice"))
	require.NoError(t, f.orch.RequestConnect(ctx))
	require.Equal(t, core.StepConnecting, f.orch.Snapshot().Step)

	require.NoError(t, f.orch.Cancel(ctx))

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepUsername, snap.Step)
	assert.Equal(t, "alice", snap.Username)
	assert.False(t, snap.HasChallenge)
	assert.False(t, snap.InitiatedConnect)
}

func TestCancelFromUsernameClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)

	require.NoError(t, f.orch.SetUsername(ctx, "alice"))
	require.NoError(t, f.orch.Cancel(ctx))

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepUsername, snap.Step)
	assert.Empty(t, snap.Username)
}

func TestLogoutClearsBothStores(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")
	require.NoError(t, f.orch.SignAndVerify(ctx))

	require.NoError(t, f.orch.Logout(ctx))

	snap := f.orch.Snapshot()
	assert.Equal(t, core.StepUsername, snap.Step)
	assert.Nil(t, snap.Session)

	_, err := f.drafts.Load(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.sessions.Load(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResumeMidFlowAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")

	// A new orchestrator over the same stores and wallet picks up where
	// the interrupted one left off.
	resumed := NewOrchestrator(Deps{
		Wallet:     f.wallet,
		Challenges: f.provider,
		Verifier:   f.verifier,
		Drafts:     f.drafts,
		Sessions:   f.sessions,
	}, WithTypingWindow(40*time.Millisecond))
	require.NoError(t, resumed.Start(ctx))

	snap := resumed.Snapshot()
	assert.Equal(t, core.StepSigning, snap.Step)
	assert.Equal(t, "alice", snap.Username)
	assert.True(t, snap.HasChallenge)
}

func TestFallbackChallengeDegradesSession(t *testing.T) {
	f := newFixture(t)
	f.provider.challenge = core.Challenge{Nonce: "local-1", Message: "Sign in at now", Fallback: true}
	f.verifier.result = core.VerifyResult{Token: "t1", Verified: false, VerificationID: "v1"}
	ctx := f.start(t)

	f.toSigning(t, ctx, "alice")
	assert.True(t, f.orch.Snapshot().DegradedAuth)

	require.NoError(t, f.orch.SignAndVerify(ctx))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.True(t, snap.Session.Degraded)
	// Degraded sessions are not handed to the poller; they stay unverified.
	assert.Empty(t, snap.Session.VerificationID)
	assert.False(t, snap.Session.Verified)
}

func TestRecoverySnapshotWrittenWhileLoggedIn(t *testing.T) {
	f := newFixture(t)
	ctx := f.start(t)
	f.toSigning(t, ctx, "alice")
	require.NoError(t, f.orch.SignAndVerify(ctx))

	// Starting a re-auth flow while logged in mirrors draft mutations into
	// the durable recovery copy.
	require.NoError(t, f.orch.Cancel(ctx))
	require.NoError(t, f.orch.SetUsername(ctx, "alice2"))

	recovered, err := f.sessions.LoadRecovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice2", recovered.Username)
}
