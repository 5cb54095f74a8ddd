// Package lock provides the per-(user, network) mutual exclusion used by the
// ledger.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a key could not be acquired before the
// context ended.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker serialises work on a key. The returned func releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// PairKey is the lock key of a (user, network) balance.
func PairKey(userID uuid.UUID, network string) string {
	return fmt.Sprintf("%s:%s", userID, network)
}

// LockAll acquires keys in sorted order and releases them in reverse.
// Duplicate keys are taken once.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var releases []func()
	unlockAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for i, key := range sorted {
		if i > 0 && sorted[i-1] == key {
			continue
		}
		release, err := l.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlockAll, nil
}

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped once no goroutine holds or waits for the key.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *Local) drop(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
