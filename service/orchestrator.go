package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"go.uber.org/zap"
)

// DefaultTypingWindow is how long automatic transitions stay suppressed
// after a username keystroke.
const DefaultTypingWindow = time.Second

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Wallet     ports.WalletConnector
	Challenges ports.ChallengeProvider
	Verifier   ports.SignatureVerifier
	Drafts     ports.DraftStore
	Sessions   ports.SessionStore
	Events     ports.EventPublisher // optional
}

// Snapshot is a read-only view of the orchestrator for UI consumption.
// External code never mutates draft or session state directly.
type Snapshot struct {
	Step             core.Step
	Username         string
	HasChallenge     bool
	InitiatedConnect bool
	Session          *core.Session
	Loading          bool
	Err              error
	// DegradedAuth is true when the current attempt runs on a locally
	// generated fallback challenge and the UI should show a degraded
	// authentication notice.
	DegradedAuth bool
}

// Orchestrator drives the wallet login flow: a state machine over the steps
// username -> connecting -> signing -> complete, with write-through draft
// persistence and optimistic session commit.
//
// All public operations serialize on an internal mutex; reactions to
// external events (wallet connect/disconnect, poller completion, the typing
// window elapsing) go through the same mutex and are applied against
// current state rather than assumed event order.
type Orchestrator struct {
	deps         Deps
	log          *zap.Logger
	poller       *Poller
	typingWindow time.Duration
	now          func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	draft     *core.Draft
	session   *core.Session
	lastTyped time.Time
	loading   bool
	lastErr   error

	// attemptID changes on every reset; results of asynchronous calls that
	// started under an older attempt are discarded.
	attemptID string
	// signInFlight guards against re-entrant SignAndVerify calls and makes
	// cancellation illegal while a sign/verify round-trip is outstanding.
	signInFlight bool
	// challengeInFlight makes the challenge fetch single-flight per draft.
	challengeInFlight bool

	typingTimer *time.Timer
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTypingWindow overrides the typing suppression window.
func WithTypingWindow(window time.Duration) Option {
	return func(o *Orchestrator) { o.typingWindow = window }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPoller overrides the verification poller.
func WithPoller(p *Poller) Option {
	return func(o *Orchestrator) { o.poller = p }
}

// NewOrchestrator creates an orchestrator. Call Start before anything else.
func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:         deps,
		log:          zap.NewNop(),
		typingWindow: DefaultTypingWindow,
		now:          time.Now,
		attemptID:    uuid.New().String(),
		draft:        core.NewDraft(),
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.poller == nil {
		o.poller = NewPoller(deps.Verifier, WithPollerLogger(o.log))
	}
	return o
}

// Start opens a new or resumed login attempt. It rehydrates the draft and
// session from the stores and computes the starting step from current
// wallet state plus draft contents, so a flow interrupted by a reload or an
// external wallet popup resumes mid-way instead of restarting.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ctx = ctx
	o.loading = false
	o.lastErr = nil

	if session, err := o.deps.Sessions.Load(ctx); err == nil {
		o.session = session
		if session.VerificationID != "" && !session.Degraded {
			o.startPollerLocked(session.VerificationID)
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("load session: %w", err)
	}

	draft, err := o.deps.Drafts.Load(ctx)
	switch {
	case err == nil:
		o.draft = draft
	case errors.Is(err, core.ErrNotFound):
		o.draft = core.NewDraft()
	default:
		return fmt.Errorf("load draft: %w", err)
	}

	o.draft.Step = o.resumeStepLocked()
	o.evaluateTransitionsLocked()
	return o.persistLocked()
}

// resumeStepLocked computes the starting step from wallet state and draft
// contents.
func (o *Orchestrator) resumeStepLocked() core.Step {
	if o.session.Valid() && o.draft.Step == core.StepComplete {
		return core.StepComplete
	}
	if o.draft.Username == "" || !o.draft.InitiatedConnect {
		return core.StepUsername
	}
	if o.deps.Wallet.IsConnected() && o.draft.Challenge != nil {
		return core.StepSigning
	}
	return core.StepConnecting
}

// Snapshot returns a copy of the observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Step:             o.draft.Step,
		Username:         o.draft.Username,
		HasChallenge:     o.draft.Challenge != nil,
		InitiatedConnect: o.draft.InitiatedConnect,
		Loading:          o.loading,
		Err:              o.lastErr,
	}
	if o.draft.Challenge != nil {
		snap.DegradedAuth = o.draft.Challenge.Fallback
	}
	if o.session != nil {
		session := *o.session
		snap.Session = &session
		snap.DegradedAuth = snap.DegradedAuth || session.Degraded
	}
	return snap
}

// SetUsername updates the draft username and opens the typing window, during
// which no automatic transition may fire.
func (o *Orchestrator) SetUsername(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draft.Step != core.StepUsername && o.draft.Step != core.StepConnecting {
		return core.ErrInvalidStep
	}

	o.draft.Username = name
	o.lastTyped = o.now()

	// Re-run the transition check once the window elapses so a suppressed
	// auto-advance is not lost.
	if o.typingTimer != nil {
		o.typingTimer.Stop()
	}
	o.typingTimer = time.AfterFunc(o.typingWindow, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.evaluateTransitionsLocked()
		if err := o.persistLocked(); err != nil {
			o.lastErr = err
		}
	})

	return o.persistLocked()
}

// RequestConnect triggers the external wallet-connect action. Valid only
// from the username step; a no-op without a username.
func (o *Orchestrator) RequestConnect(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draft.Step != core.StepUsername {
		return core.ErrInvalidStep
	}
	if o.draft.Username == "" {
		return core.ErrEmptyUsername
	}

	o.draft.InitiatedConnect = true
	o.draft.Step = core.StepConnecting
	o.lastErr = nil

	// Fire and forget: completion is observed through wallet events. The
	// run context is captured under the lock; Start may replace it.
	connectCtx := o.ctx
	go func() {
		if err := o.deps.Wallet.Connect(connectCtx); err != nil {
			o.log.Warn("wallet connect trigger failed", zap.Error(err))
		}
	}()

	o.ensureChallengeLocked()
	o.evaluateTransitionsLocked()
	return o.persistLocked()
}

// OnWalletConnected reacts to an ambient wallet connection. Connections the
// orchestrator did not initiate are ignored so an unrelated reconnect does
// not reopen the flow.
func (o *Orchestrator) OnWalletConnected(address string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.draft.InitiatedConnect {
		o.log.Debug("ignoring wallet connection not initiated by this flow",
			zap.String("address", address))
		return
	}

	o.evaluateTransitionsLocked()
	if err := o.persistLocked(); err != nil {
		o.lastErr = err
	}
}

// OnWalletDisconnected reacts to the wallet dropping at any point: the
// session is destroyed, the attempt is hard-reset to the username step and
// any in-flight result becomes stale.
func (o *Orchestrator) OnWalletDisconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.poller.CancelAll()
	o.session = nil
	o.attemptID = uuid.New().String()

	username := o.draft.Username
	o.draft = core.NewDraft()
	o.draft.Username = username
	o.loading = false
	o.lastErr = nil

	if err := o.deps.Sessions.Clear(o.ctx); err != nil {
		o.lastErr = core.ErrStoreOperationFailed
	}
	if err := o.persistLocked(); err != nil {
		o.lastErr = err
	}
}

// BindWallet consumes wallet events until the context is done. Run it in
// its own goroutine.
func (o *Orchestrator) BindWallet(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.deps.Wallet.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case ports.WalletConnected:
				o.OnWalletConnected(ev.Address)
			case ports.WalletDisconnected:
				o.OnWalletDisconnected()
			}
		}
	}
}

// SignAndVerify runs the signing-step round-trip: wallet signature over the
// challenge message, then backend verification. On any failure the step
// stays at signing and the draft is untouched. On success the session is
// committed (optimistically when verification is deferred), the draft is
// cleared in full and the step flips to complete.
func (o *Orchestrator) SignAndVerify(ctx context.Context) error {
	o.mu.Lock()
	if o.draft.Step != core.StepSigning {
		o.mu.Unlock()
		return core.ErrInvalidStep
	}
	if o.signInFlight {
		o.mu.Unlock()
		return core.ErrSignInFlight
	}
	if o.draft.Challenge == nil {
		o.mu.Unlock()
		return core.ErrInvalidStep
	}

	attempt := o.attemptID
	challenge := *o.draft.Challenge
	username := o.draft.Username
	address := o.deps.Wallet.Address()
	o.signInFlight = true
	o.loading = true
	o.mu.Unlock()

	signature, err := o.deps.Wallet.SignMessage(ctx, challenge.Message)
	if err != nil {
		return o.failSign(attempt, fmt.Errorf("%w: %v", core.ErrSignatureDeclined, err))
	}

	result, err := o.deps.Verifier.Verify(ctx, core.VerifyRequest{
		Message:   challenge.Message,
		Signature: signature,
		Address:   address,
		Username:  username,
		Nonce:     challenge.Nonce,
	})
	// The backend consumes the nonce on submission whether or not the call
	// succeeded; the provider must not serve this challenge again.
	o.deps.Challenges.Invalidate()
	if err != nil {
		if errors.Is(err, core.ErrMissingToken) {
			return o.failSign(attempt, core.ErrMissingToken)
		}
		return o.failSign(attempt, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.signInFlight = false
	o.loading = false

	if attempt != o.attemptID {
		// The attempt was reset (e.g. wallet disconnect) while the
		// round-trip was outstanding; discard the late result.
		o.log.Debug("discarding stale verify result")
		return core.ErrStaleAttempt
	}

	session := &core.Session{
		Address:  address,
		Username: username,
		Token:    result.Token,
		Verified: result.Verified,
		IssuedAt: o.now(),
		Degraded: challenge.Fallback,
	}
	if !result.Verified && result.VerificationID != "" && !challenge.Fallback {
		session.VerificationID = result.VerificationID
	}

	if err := o.deps.Sessions.Save(o.ctx, session); err != nil {
		o.lastErr = core.ErrStoreOperationFailed
		return core.ErrStoreOperationFailed
	}
	o.session = session

	// Full draft clear on completion; only the step survives.
	o.draft = &core.Draft{Step: core.StepComplete}
	if err := o.deps.Drafts.Clear(o.ctx); err != nil {
		o.lastErr = core.ErrStoreOperationFailed
	}

	if session.VerificationID != "" {
		o.startPollerLocked(session.VerificationID)
	}

	if o.deps.Events != nil {
		if err := o.deps.Events.PublishLogin(o.ctx, session.Address, session.Username, session.Verified); err != nil {
			o.log.Warn("publish login event failed", zap.Error(err))
		}
	}

	o.lastErr = nil
	return nil
}

// failSign records a sign/verify failure without touching the draft.
func (o *Orchestrator) failSign(attempt string, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.signInFlight = false
	o.loading = false
	if attempt != o.attemptID {
		return core.ErrStaleAttempt
	}
	o.lastErr = err
	return err
}

// startPollerLocked hands a pending verification ticket to the poller.
func (o *Orchestrator) startPollerLocked(verificationID string) {
	attempt := o.attemptID
	o.poller.Start(o.ctx, verificationID,
		func() { o.onVerificationComplete(attempt, verificationID) },
		func(err error) { o.onVerificationFailed(attempt, verificationID, err) },
	)
}

func (o *Orchestrator) onVerificationComplete(attempt, verificationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if attempt != o.attemptID || o.session == nil || o.session.VerificationID != verificationID {
		return
	}

	o.session.Verified = true
	o.session.VerificationID = ""
	if err := o.deps.Sessions.Save(o.ctx, o.session); err != nil {
		o.lastErr = core.ErrStoreOperationFailed
		return
	}
	if o.deps.Events != nil {
		if err := o.deps.Events.PublishVerified(o.ctx, o.session.Address, verificationID); err != nil {
			o.log.Warn("publish verified event failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) onVerificationFailed(attempt, verificationID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if attempt != o.attemptID {
		return
	}

	// Fail open on authentication: the session stays logged-in but
	// unverified. Verified-only actions check the flag separately.
	o.log.Warn("identity verification did not complete",
		zap.String("verification_id", verificationID), zap.Error(err))
	o.lastErr = err
	if o.session != nil && o.session.VerificationID == verificationID {
		o.session.VerificationID = ""
		if saveErr := o.deps.Sessions.Save(o.ctx, o.session); saveErr != nil {
			o.lastErr = core.ErrStoreOperationFailed
		}
	}
}

// Cancel closes the current attempt. Legal from the username, connecting
// and complete steps; illegal while a sign/verify round-trip is
// outstanding. Cancelling from connecting is a close, not an abandon: the
// username survives. Cancelling from username or complete clears everything.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.signInFlight || o.draft.Step == core.StepSigning {
		return core.ErrCancelIllegal
	}

	fromConnecting := o.draft.Step == core.StepConnecting
	username := o.draft.Username

	o.attemptID = uuid.New().String()
	o.draft = core.NewDraft()
	if fromConnecting {
		o.draft.Username = username
	}
	o.loading = false
	o.lastErr = nil

	return o.persistLocked()
}

// Logout destroys the session and all draft state unconditionally. Both
// stores are cleared together; a failed clear is retried once and then
// surfaced rather than left silently partial.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.poller.CancelAll()

	var address string
	if o.session != nil {
		address = o.session.Address
	}
	o.session = nil
	o.draft = core.NewDraft()
	o.attemptID = uuid.New().String()
	o.loading = false
	o.lastErr = nil

	var errs []error
	if err := clearWithRetry(ctx, o.deps.Drafts.Clear); err != nil {
		errs = append(errs, fmt.Errorf("clear draft store: %w", err))
	}
	if err := clearWithRetry(ctx, o.deps.Sessions.Clear); err != nil {
		errs = append(errs, fmt.Errorf("clear session store: %w", err))
	}
	if len(errs) > 0 {
		o.lastErr = core.ErrStoreOperationFailed
		return errors.Join(errs...)
	}

	if address != "" && o.deps.Events != nil {
		if err := o.deps.Events.PublishLogout(ctx, address); err != nil {
			o.log.Warn("publish logout event failed", zap.Error(err))
		}
	}
	return nil
}

func clearWithRetry(ctx context.Context, clear func(context.Context) error) error {
	if err := clear(ctx); err != nil {
		return clear(ctx)
	}
	return nil
}

// typingActiveLocked reports whether the typing suppression window is open.
func (o *Orchestrator) typingActiveLocked() bool {
	return !o.lastTyped.IsZero() && o.now().Sub(o.lastTyped) < o.typingWindow
}

// evaluateTransitionsLocked applies all automatic transition guards in one
// place, after every external event. Keeping the guards together avoids the
// order-dependent races of per-condition watchers.
func (o *Orchestrator) evaluateTransitionsLocked() {
	if o.draft.Step != core.StepConnecting {
		return
	}
	if !o.deps.Wallet.IsConnected() {
		return
	}
	if o.draft.Username == "" || o.typingActiveLocked() {
		return
	}
	if o.draft.Challenge == nil {
		// Defer the transition until the challenge arrives.
		o.ensureChallengeLocked()
		return
	}
	o.draft.Step = core.StepSigning
}

// ensureChallengeLocked fetches the challenge at most once per draft.
func (o *Orchestrator) ensureChallengeLocked() {
	if o.draft.Challenge != nil || o.challengeInFlight {
		return
	}
	o.challengeInFlight = true
	attempt := o.attemptID
	fetchCtx := o.ctx

	go func() {
		challenge, err := o.deps.Challenges.Challenge(fetchCtx)

		o.mu.Lock()
		defer o.mu.Unlock()
		o.challengeInFlight = false

		if attempt != o.attemptID {
			return
		}
		if err != nil {
			o.lastErr = core.ErrChallengeUnavailable
			return
		}
		if o.draft.Challenge != nil {
			return
		}

		o.draft.Challenge = &challenge
		if challenge.Fallback {
			o.log.Warn("using degraded authentication: fallback challenge")
		}
		o.evaluateTransitionsLocked()
		if err := o.persistLocked(); err != nil {
			o.lastErr = err
		}
	}()
}

// persistLocked writes the draft through to the draft store, and mirrors it
// into the durable recovery snapshot while a session exists.
func (o *Orchestrator) persistLocked() error {
	if err := o.deps.Drafts.Save(o.ctx, o.draft); err != nil {
		return core.ErrStoreOperationFailed
	}
	if o.session.Valid() {
		if err := o.deps.Sessions.SaveRecovery(o.ctx, o.draft); err != nil {
			return core.ErrStoreOperationFailed
		}
	}
	return nil
}
