// Package locking provides stock.Locker implementations: an in-process keyed
// mutex for a single server and a Redis lock for several replicas sharing one
// database.
package locking

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/stock"
)

// KeyedMutex is a set of named mutexes created on demand and dropped when
// no caller holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Lock acquires keys in sorted order. If ctx is cancelled while waiting,
// every key already taken is released and ctx.Err() is returned.
func (k *KeyedMutex) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))

	for _, key := range keys {
		s := k.acquireRef(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.releaseRef(key, false)
			k.unlock(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { k.unlock(held) }) }, nil
}

func (k *KeyedMutex) acquireRef(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *KeyedMutex) releaseRef(key string, drain bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.slots[key]
	if drain {
		<-s.ch
	}
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *KeyedMutex) unlock(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.releaseRef(keys[i], true)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i > 0 && key == out[n-1] {
			continue
		}
		out[n] = key
		n++
	}
	return out[:n]
}

var _ stock.Locker = (*KeyedMutex)(nil)
