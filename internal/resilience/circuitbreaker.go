package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a breaker position
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "CLOSED", StateOpen: "OPEN", StateHalfOpen: "HALF_OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name                string        `mapstructure:"name"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	SuccessThreshold    int           `mapstructure:"success_threshold"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	MaxHalfOpenRequests int           `mapstructure:"max_half_open_requests"`
}

func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    1,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// StateChangeFunc is invoked after every transition, outside the breaker lock
type StateChangeFunc func(name string, from, to State)

// Counts are lifetime call counters for one breaker
type Counts struct {
	TotalCalls       int64 `json:"totalCalls"`
	SuccessfulCalls  int64 `json:"successfulCalls"`
	FailedCalls      int64 `json:"failedCalls"`
	RejectedCalls    int64 `json:"rejectedCalls"`
	StateTransitions int64 `json:"stateTransitions"`
}

// CircuitBreaker isolates one hook handler. After FailureThreshold
// consecutive failures it rejects calls for OpenTimeout, then admits up
// to MaxHalfOpenRequests probes; SuccessThreshold successful probes close
// it again and any failed probe reopens it.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time
	logger *zap.Logger

	mutex         sync.Mutex
	state         State
	streak        int // consecutive failures when closed, successes when half-open
	inFlight      int // admitted half-open probes
	openedAt      time.Time
	counts        Counts
	onStateChange StateChangeFunc
	pending       func()
}

func NewCircuitBreaker(config *CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *config
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.SuccessThreshold = max(cfg.SuccessThreshold, 1)
	cfg.MaxHalfOpenRequests = max(cfg.MaxHalfOpenRequests, 1)

	return &CircuitBreaker{
		config: cfg,
		now:    time.Now,
		logger: logger.With(zap.String("circuit_breaker", cfg.Name)),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the breaker rejects the call with ErrCircuitOpen
// or ErrTooManyRequests. A call ended by its own context's cancellation
// is not counted.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.locked(cb.admit); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		_ = cb.locked(cb.release)
	default:
		success := err == nil
		_ = cb.locked(func() error { cb.settle(success); return nil })
	}
	return err
}

// locked runs fn under the lock, then fires any transition it queued
func (cb *CircuitBreaker) locked(fn func() error) error {
	cb.mutex.Lock()
	err := fn()
	notify := cb.pending
	cb.pending = nil
	cb.mutex.Unlock()

	if notify != nil {
		notify()
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			cb.counts.RejectedCalls++
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	case StateHalfOpen:
		if cb.inFlight >= cb.config.MaxHalfOpenRequests {
			cb.counts.RejectedCalls++
			return ErrTooManyRequests
		}
	}
	if cb.state == StateHalfOpen {
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) release() error {
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
	return nil
}

func (cb *CircuitBreaker) settle(success bool) {
	_ = cb.release()
	cb.counts.TotalCalls++
	if success {
		cb.counts.SuccessfulCalls++
	} else {
		cb.counts.FailedCalls++
	}

	switch cb.state {
	case StateClosed:
		if success {
			cb.streak = 0
		} else if cb.streak++; cb.streak >= cb.config.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			cb.moveTo(StateOpen)
		} else if cb.streak++; cb.streak >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	}
}

// moveTo must run under the lock; the notification is queued in pending
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.streak = 0
	cb.inFlight = 0
	cb.counts.StateTransitions++
	if to == StateOpen {
		cb.openedAt = cb.now()
	}

	name, notify, logger := cb.config.Name, cb.onStateChange, cb.logger
	cb.pending = func() {
		logger.Info("Circuit breaker state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if notify != nil {
			notify(name, from, to)
		}
	}
}

// State reports the stored state; an expired open breaker stays OPEN
// until the next call probes it
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.counts
}

// Reset closes the breaker without notifying
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosed
	cb.streak = 0
	cb.inFlight = 0
}
