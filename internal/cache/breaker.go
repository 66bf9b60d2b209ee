package cache

import (
	"sync"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/metrics"
)

// BreakerStatus is the circuit state for the remote tier.
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// Breaker guards remote-tier calls. All transitions happen under one mutex
// so two goroutines can never both open the circuit or both win the
// half-open probe.
type Breaker struct {
	mu                  sync.Mutex
	status              BreakerStatus
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &Breaker{
		status:           BreakerClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a remote call may proceed. After resetTimeout an
// Open breaker moves to HalfOpen and admits exactly one probe; concurrent
// callers are refused until the probe reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit from HalfOpen and resets the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probing = false
	if b.status != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a remote failure; the threshold opens the circuit,
// and a failed half-open probe reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.status == BreakerHalfOpen {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
		return
	}

	b.consecutiveFailures++
	if b.status == BreakerClosed && b.consecutiveFailures >= b.failureThreshold {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// Status returns the current circuit state.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Breaker) transition(to BreakerStatus) {
	b.status = to
	metrics.BreakerTransitions.WithLabelValues(string(to)).Inc()
}
