// File: internal/infra/lock/keyed.go
package lock

import (
	"context"
	"sort"
	"sync"

	"license-activation-server/internal/domain"
)

// Keyed serializes mutating commands per logical key (one activation code or
// one device) while unrelated keys proceed independently. Waiters on the same
// key are queued and woken in arrival order. A waiter whose context expires
// before it gets the key fails with domain.ErrBusy and leaves no side effects.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{} // capacity 1; holding the token is holding the lock
	refs int           // holders + waiters; entry is removed at zero
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire takes the lock for key, blocking until it is available or ctx is
// done. The returned release function is idempotent.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.put(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.put(key, e)
		return nil, domain.ErrBusy
	}
}

// AcquireKeys takes all keys in sorted, deduplicated order so that two
// commands touching the same pair of keys can never deadlock each other.
// Either all keys are held or none.
func (k *Keyed) AcquireKeys(ctx context.Context, keys ...string) (func(), error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			sorted = append(sorted, key)
		}
	}
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		release, err := k.Acquire(ctx, key)
		if err != nil {
			for i := len(releases) - 1; i >= 0; i-- {
				releases[i]()
			}
			return nil, err
		}
		releases = append(releases, release)
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}, nil
}

func (k *Keyed) put(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
