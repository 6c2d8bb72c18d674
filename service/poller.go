package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"go.uber.org/zap"
)

// Polling bounds. The backend gives no cadence contract, so polling is
// bounded here: exponential backoff per tick and a hard elapsed cap that
// surfaces as core.ErrPollTimeout.
const (
	DefaultPollInitialInterval = 2 * time.Second
	DefaultPollMaxInterval     = 15 * time.Second
	DefaultPollMaxElapsed      = 2 * time.Minute
)

// errPollPending keeps the backoff loop retrying while the ticket is not
// terminal.
var errPollPending = errors.New("verification still pending")

// Poller drives deferred verification tickets to a terminal state. Each
// ticket runs as a cancellable task registered by verification id, so
// logout and teardown can stop outstanding polls deterministically instead
// of leaking timers.
type Poller struct {
	verifier ports.SignatureVerifier
	log      *zap.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(log *zap.Logger) PollerOption {
	return func(p *Poller) { p.log = log }
}

// WithPollBounds overrides the backoff cadence and termination bound.
func WithPollBounds(initial, max, elapsed time.Duration) PollerOption {
	return func(p *Poller) {
		p.initialInterval = initial
		p.maxInterval = max
		p.maxElapsed = elapsed
	}
}

// NewPoller creates a poller over the verifier's status endpoint.
func NewPoller(verifier ports.SignatureVerifier, opts ...PollerOption) *Poller {
	p := &Poller{
		verifier:        verifier,
		log:             zap.NewNop(),
		initialInterval: DefaultPollInitialInterval,
		maxInterval:     DefaultPollMaxInterval,
		maxElapsed:      DefaultPollMaxElapsed,
		cancels:         make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling a verification ticket. Starting an id that is
// already being polled is a no-op. Exactly one of onComplete or onError is
// invoked unless the task is cancelled first.
func (p *Poller) Start(ctx context.Context, verificationID string, onComplete func(), onError func(error)) {
	p.mu.Lock()
	if _, running := p.cancels[verificationID]; running {
		p.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancels[verificationID] = cancel
	p.mu.Unlock()

	go p.run(pollCtx, verificationID, onComplete, onError)
}

func (p *Poller) run(ctx context.Context, verificationID string, onComplete func(), onError func(error)) {
	defer p.remove(verificationID)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	eb.MaxInterval = p.maxInterval
	eb.MaxElapsedTime = p.maxElapsed

	operation := func() error {
		status, err := p.verifier.Status(ctx, verificationID)
		if err != nil {
			return err
		}
		switch status {
		case core.TicketComplete:
			return nil
		case core.TicketFailed:
			return backoff.Permanent(core.ErrPollFailed)
		default:
			return errPollPending
		}
	}

	err := backoff.Retry(operation, backoff.WithContext(eb, ctx))
	switch {
	case err == nil:
		p.log.Info("verification complete", zap.String("verification_id", verificationID))
		onComplete()
	case errors.Is(err, context.Canceled):
		p.log.Debug("verification polling cancelled", zap.String("verification_id", verificationID))
	case errors.Is(err, core.ErrPollFailed):
		onError(core.ErrPollFailed)
	default:
		onError(fmt.Errorf("%w: %v", core.ErrPollTimeout, err))
	}
}

func (p *Poller) remove(verificationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.cancels[verificationID]; ok {
		cancel()
		delete(p.cancels, verificationID)
	}
}

// Cancel stops polling one ticket.
func (p *Poller) Cancel(verificationID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[verificationID]
	p.mu.Unlock()

	if ok {
		cancel()
	}
}

// CancelAll stops every outstanding poll, for logout and teardown.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.cancels))
	for _, cancel := range p.cancels {
		cancels = append(cancels, cancel)
	}
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Active reports how many tickets are currently being polled.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}
