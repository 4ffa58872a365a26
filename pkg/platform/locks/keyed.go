package locks

import (
	"context"
	"sync"
	"time"

	"ratedesk/pkg/platform/sentinel"
)

const defaultWait = 5 * time.Second

// Keyed is an in-process Manager. Suitable for single-instance deployments
// and tests; multi-instance deployments use the Redis manager instead.
type Keyed struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// slot is one key's semaphore plus a refcount so idle entries can be removed.
type slot struct {
	sem  chan struct{}
	refs int
}

// KeyedOption configures a Keyed manager.
type KeyedOption func(*Keyed)

// WithWait sets the bounded wait budget for acquiring a held lock.
func WithWait(d time.Duration) KeyedOption {
	return func(k *Keyed) {
		if d > 0 {
			k.wait = d
		}
	}
}

// NewKeyed constructs an in-process lock manager.
func NewKeyed(opts ...KeyedOption) *Keyed {
	k := &Keyed{
		wait:  defaultWait,
		slots: make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Acquire implements Manager.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	s := k.enter(key)

	timer := time.NewTimer(k.wait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.sem
				k.leave(key, s)
			})
		}, nil
	case <-ctx.Done():
		k.leave(key, s)
		return nil, ctx.Err()
	case <-timer.C:
		k.leave(key, s)
		return nil, sentinel.ErrLockHeld
	}
}

func (k *Keyed) enter(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) leave(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
