package fetch

import (
	"slices"
	"sync"
)

// Key is one bearer token in the pool. Name is safe to log, Value is not.
type Key struct {
	Name  string
	Value string
}

// KeyPool is the set of keys still allowed to make calls during a run.
// The pool only ever shrinks. All methods are safe for concurrent use.
type KeyPool struct {
	mu     sync.RWMutex
	active []Key
	banned []string
}

// NewKeyPool returns a pool holding a copy of keys. Keys with an empty value
// are left out.
func NewKeyPool(keys []Key) *KeyPool {
	p := &KeyPool{}
	for _, k := range keys {
		if k.Value == "" {
			continue
		}
		p.active = append(p.active, k)
	}
	return p
}

// Active returns a snapshot of the keys that have not been banned.
func (p *KeyPool) Active() []Key {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.active)
}

// Len returns the number of active keys.
func (p *KeyPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// Ban removes the named key from the pool. It reports whether the key was
// still active.
func (p *KeyPool) Ban(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.IndexFunc(p.active, func(k Key) bool { return k.Name == name })
	if i < 0 {
		return false
	}
	p.active = slices.Delete(p.active, i, i+1)
	p.banned = append(p.banned, name)
	return true
}

// Banned returns the names of keys removed during this run, in ban order.
func (p *KeyPool) Banned() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.banned)
}
