package core

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrIterationLimit is returned by IterationLimiter.Increment once the
// configured budget is exhausted.
var ErrIterationLimit = errors.New("iteration limit reached")

// IterationLimiter enforces a maximum number of reasoning iterations per run.
// One iteration is one reasoning step, whether it ends with a final answer
// or an invocation set.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter allowing max iterations.
// If max <= 0, unlimited iterations are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Increment consumes one iteration. It returns ErrIterationLimit without
// consuming when the budget is already spent.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return errors.Wrapf(ErrIterationLimit, "max %d", l.max)
	}

	l.count++

	return nil
}

// Count returns the number of iterations consumed.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Max returns the configured budget (0 for unlimited).
func (l *IterationLimiter) Max() int { return l.max }

// Remaining returns how many iterations are left, or -1 when unlimited.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1
	}

	return l.max - l.count
}
