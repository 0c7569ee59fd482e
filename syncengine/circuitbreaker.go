// Circuit breaker pattern for per-storage failure isolation within one sync
// run: a storage that fails repeatedly stops being probed until a cooldown
// elapses, after which one recovery probe is let through.
package syncengine

import (
	"sync"
	"time"
)

// DefaultBreakerFailureThreshold is the number of consecutive connectivity
// failures before a storage is considered unavailable (until the cooldown).
const DefaultBreakerFailureThreshold = 3

// DefaultBreakerCooldown is how long a storage stays marked unavailable
// before one probe is allowed through again.
const DefaultBreakerCooldown = 30 * time.Second

// BreakerState is the reachability state of one storage within a run.
type BreakerState int

const (
	// StorageAvailable is the normal state - probes and operations are allowed.
	StorageAvailable BreakerState = iota
	// StorageUnavailable means the storage has failed past its threshold - operations are skipped.
	StorageUnavailable
	// StorageRecovering means the cooldown elapsed and one probe is allowed to confirm recovery.
	StorageRecovering
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case StorageAvailable:
		return "available"
	case StorageUnavailable:
		return "unavailable"
	case StorageRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// StorageBreaker tracks one storage side's reachability across a sync run,
// so a storage that has gone offline isn't probed again for every
// remaining collection once it's already failed past the threshold.
type StorageBreaker struct {
	mu           sync.Mutex
	threshold    int           // consecutive failures before marking unavailable
	cooldown     time.Duration // time to wait before allowing a recovery probe
	failureCount int           // current consecutive failures
	state        BreakerState  // current reachability state
	openedAt     time.Time     // when the storage was marked unavailable
}

// NewStorageBreaker creates a new StorageBreaker with the given threshold and cooldown.
func NewStorageBreaker(threshold int, cooldown time.Duration) *StorageBreaker {
	return &StorageBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StorageAvailable,
	}
}

// Allow reports whether an operation against this storage should proceed.
func (b *StorageBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StorageAvailable:
		return true
	case StorageUnavailable:
		// Check if cooldown has elapsed → allow a recovery probe
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StorageRecovering
			return true
		}
		return false
	case StorageRecovering:
		// Already probing recovery, allow it through
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful operation, marking the storage available again.
func (b *StorageBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.state = StorageAvailable
}

// RecordFailure records a failed operation.
// If the failure count reaches the threshold, the storage is marked unavailable.
func (b *StorageBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.failureCount >= b.threshold {
		b.state = StorageUnavailable
		b.openedAt = time.Now()
	}
}

// State returns the current reachability state of the storage.
func (b *StorageBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Check for transition from unavailable → recovering
	if b.state == StorageUnavailable && time.Since(b.openedAt) >= b.cooldown {
		b.state = StorageRecovering
	}
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *StorageBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
