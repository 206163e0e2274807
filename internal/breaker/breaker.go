// Package breaker implements the per-service circuit breaker (C2): a
// sliding-window failure detector guarding calls to judges and the
// external services a session depends on (LLM providers, storage, cache,
// external APIs).
package breaker

import (
	"sync"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// State is one of the three canonical circuit states.
type State int

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
		return "half-open"
	default:
		return "closed"
	}
}

// Config parameterizes one breaker instance. FailureThreshold and
// SuccessThreshold count events inside MonitoringWindow and the half-open
// probe respectively; RecoveryTimeout is how long the breaker stays Open
// before allowing a probe; RequestTimeout bounds a single guarded call.
// These five fields mirror the standard
// CircuitBreakerConfig{failure_threshold, success_threshold,
// recovery_timeout, monitoring_window, request_timeout} shape.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	MonitoringWindow time.Duration
	RequestTimeout   time.Duration
}

// DefaultConfig matches the pre-registered defaults used for llm_service,
// database, external_api, and cache_service breakers.
func DefaultConfig(requestTimeout time.Duration) Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		MonitoringWindow: 300 * time.Second,
		RequestTimeout:   requestTimeout,
	}
}

// Stats is a point-in-time snapshot of a breaker's counters, exposed
// through the Health & Metrics component (C12).
type Stats struct {
	State            State
	FailuresInWindow int
	ConsecutiveSucc  int
	OpenedAt         time.Time
	LastFailureAt    time.Time
}

// Breaker is a sliding-time-window circuit breaker: it counts failures
// that fall within the trailing MonitoringWindow, not merely consecutive
// ones, so an isolated failure an hour ago does not count against a
// service that has been healthy since.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failureTimes    []time.Time
	consecutiveSucc int
	openedAt        time.Time
	lastFailureAt   time.Time
}

// New constructs a Breaker for one named downstream (e.g. "llm_service").
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed. It also performs the
// Open→HalfOpen transition when RecoveryTimeout has elapsed, so callers
// never need to poll state separately from asking permission.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.consecutiveSucc = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess registers a successful call. In HalfOpen, SuccessThreshold
// consecutive successes close the breaker; in Closed it prunes the
// failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.consecutiveSucc++
		if b.consecutiveSucc >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureTimes = nil
			b.consecutiveSucc = 0
		}
	case StateClosed:
		b.pruneLocked(time.Now())
	}
}

// RecordFailure registers a failed call. In Closed state it appends to the
// sliding window and opens the breaker once FailureThreshold failures fall
// within MonitoringWindow; in HalfOpen a single failure reopens it
// immediately — a probe only proves the downstream healthy once it clears
// SuccessThreshold consecutive successes.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureAt = now

	switch b.state {
	case StateHalfOpen:
		b.open(now)
	case StateClosed:
		b.pruneLocked(now)
		b.failureTimes = append(b.failureTimes, now)
		if len(b.failureTimes) >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.consecutiveSucc = 0
}

// pruneLocked drops failure timestamps older than MonitoringWindow.
// Caller must hold b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	i := 0
	for ; i < len(b.failureTimes); i++ {
		if b.failureTimes[i].After(cutoff) {
			break
		}
	}
	b.failureTimes = b.failureTimes[i:]
}

// Stats returns a snapshot of the breaker's current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(time.Now())
	return Stats{
		State:            b.state,
		FailuresInWindow: len(b.failureTimes),
		ConsecutiveSucc:  b.consecutiveSucc,
		OpenedAt:         b.openedAt,
		LastFailureAt:    b.lastFailureAt,
	}
}

// Name returns the service name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// OpenError builds the CouncilError a caller should return when Allow
// reports false, so every breaker trip surfaces the same ErrorKind.
func (b *Breaker) OpenError() error {
	return model.NewError(model.ErrorKindCircuitBreakerOpen, "breaker:"+b.name,
		"circuit breaker is open")
}
