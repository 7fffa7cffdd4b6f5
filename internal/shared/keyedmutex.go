package shared

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// defaultStripes is sized so unrelated issues rarely share a lock while
// the mutex array stays small enough to sit in cache.
const defaultStripes = 256

// KeyedMutex serializes operations per string key using a fixed array of
// striped mutexes. Two keys hashing to the same stripe serialize against
// each other, which is harmless for correctness; keys on different
// stripes proceed fully in parallel.
type KeyedMutex struct {
	stripes []sync.Mutex
}

// NewKeyedMutex creates a KeyedMutex with the default stripe count.
func NewKeyedMutex() *KeyedMutex {
	return NewKeyedMutexWithStripes(defaultStripes)
}

// NewKeyedMutexWithStripes creates a KeyedMutex with n stripes.
func NewKeyedMutexWithStripes(n int) *KeyedMutex {
	if n <= 0 {
		n = defaultStripes
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
//
//	unlock := km.Lock(issueID)
//	defer unlock()
func (m *KeyedMutex) Lock(key string) func() {
	stripe := &m.stripes[m.index(key)]
	stripe.Lock()
	return stripe.Unlock
}

func (m *KeyedMutex) index(key string) uint64 {
	return xxh3.HashString(key) % uint64(len(m.stripes))
}
