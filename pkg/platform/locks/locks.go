// Package locks provides keyed mutual exclusion for negotiation-level
// critical sections.
//
// Store Execute calls serialize access to a single aggregate, but several
// operations read and write more than one aggregate (a negotiation plus its
// approval workflow, or a whole batch). Services take a negotiation-scoped
// lock around those sequences. Waiting is bounded: a caller that cannot get
// the lock inside the wait budget fails fast instead of queuing, and the
// service reports that as a retryable concurrency timeout.
package locks

import "context"

// Manager hands out exclusive locks identified by string keys.
type Manager interface {
	// Acquire blocks until the lock for key is held, ctx is done, or the
	// wait budget elapses. The wait-budget case returns
	// sentinel.ErrLockHeld. On success the returned release function must
	// be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
