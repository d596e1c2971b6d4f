package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/smartuniversity/marketplace-service/internal/observability"
)

// ErrCircuitOpen is returned without contacting the remote side while the
// breaker is open or a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Config struct {
	// CallTimeout bounds each individual remote call.
	CallTimeout time.Duration
	// MaxAttempts caps transient-failure retries (1 = no retry).
	MaxAttempts int
	// BackoffBase is doubled per attempt, with up to 50% jitter added.
	BackoffBase time.Duration
	// FailureThreshold is the consecutive transport-failure count that opens
	// the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a half-open probe.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Policy wraps a remote call with a per-call timeout, bounded retry with
// exponential backoff, and a consecutive-failure circuit breaker. Only errors
// the transient predicate accepts count as faults; business outcomes such as
// a payment decline pass through untouched and reset the failure streak.
type Policy struct {
	cfg       Config
	transient func(error) bool

	state         atomic.Int32
	failures      atomic.Int32 // consecutive transient failures while closed
	openedAt      atomic.Int64 // unix nanos of the last open transition
	probeInFlight atomic.Int32

	log         observability.Logger
	transitions observability.Counter
}

func NewPolicy(cfg Config, transient func(error) bool, logger observability.Logger, transitions observability.Counter) *Policy {
	if transient == nil {
		transient = func(err error) bool { return err != nil }
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if transitions == nil {
		transitions = observability.NopCounter()
	}
	return &Policy{
		cfg:         cfg.withDefaults(),
		transient:   transient,
		log:         logger.With(observability.F("component", "resilience_policy")),
		transitions: transitions,
	}
}

func (p *Policy) State() State { return State(p.state.Load()) }

// Do executes op under the policy. The op receives a context bounded by the
// call timeout; retried attempts must be idempotent on the remote side.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, attempt); err != nil {
				return err
			}
		}

		isProbe, err := p.acquire()
		if err != nil {
			// Short-circuited; retrying within this call would only spin.
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		err = op(callCtx)
		cancel()

		if err == nil {
			p.recordSuccess(isProbe)
			return nil
		}
		if !p.transient(err) {
			// The remote side answered; a business rejection is not a fault.
			p.recordSuccess(isProbe)
			return err
		}

		p.recordFailure(isProbe)
		lastErr = err
	}

	return lastErr
}

// acquire gates the call on the breaker state. The second return is non-nil
// when the call must be short-circuited.
func (p *Policy) acquire() (isProbe bool, err error) {
	switch State(p.state.Load()) {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		return false, ErrCircuitOpen
	}

	// Open: allow a single probe once the cooldown has elapsed.
	if time.Now().UnixNano()-p.openedAt.Load() < p.cfg.Cooldown.Nanoseconds() {
		return false, ErrCircuitOpen
	}
	if !p.probeInFlight.CompareAndSwap(0, 1) {
		return false, ErrCircuitOpen
	}
	if !p.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
		p.probeInFlight.Store(0)
		return false, ErrCircuitOpen
	}
	p.setTransition(StateHalfOpen)
	return true, nil
}

func (p *Policy) recordSuccess(isProbe bool) {
	p.failures.Store(0)
	if isProbe {
		p.state.Store(int32(StateClosed))
		p.probeInFlight.Store(0)
		p.setTransition(StateClosed)
	}
}

func (p *Policy) recordFailure(isProbe bool) {
	if isProbe {
		p.openedAt.Store(time.Now().UnixNano())
		p.state.Store(int32(StateOpen))
		p.probeInFlight.Store(0)
		p.setTransition(StateOpen)
		return
	}

	n := p.failures.Add(1)
	if int(n) >= p.cfg.FailureThreshold {
		if p.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			p.openedAt.Store(time.Now().UnixNano())
			p.setTransition(StateOpen)
		}
	}
}

func (p *Policy) setTransition(s State) {
	p.transitions.Add(1, observability.L("state", s.String()))
	p.log.Info("breaker_state_changed", observability.F("state", s.String()))
}

func (p *Policy) sleep(ctx context.Context, attempt int) error {
	if p.cfg.BackoffBase <= 0 {
		return ctx.Err()
	}
	backoff := p.cfg.BackoffBase * time.Duration(1<<(attempt-1))
	backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
