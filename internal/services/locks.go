package services

import (
	"sort"
	"sync"
)

// AccountLocker hands out one exclusive section per key. Multi-key locks
// are always taken in sorted order so two callers locking the same pair can
// never deadlock.
type AccountLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *AccountLocker) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Lock acquires every key and returns the matching unlock func.
// Empty and duplicate keys are ignored.
func (l *AccountLocker) Lock(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		m := l.get(k)
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
