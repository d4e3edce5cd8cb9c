package gate

import "sync"

// Gate hands out named, non-reentrant locks. Acquiring a held name fails
// immediately instead of waiting.
type Gate struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

func New() *Gate {
	return &Gate{locks: make(map[string]struct{})}
}

func (g *Gate) Acquire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.locks[name]; held {
		return false
	}
	g.locks[name] = struct{}{}
	return true
}

// Release drops the lock unconditionally.
func (g *Gate) Release(name string) {
	g.mu.Lock()
	delete(g.locks, name)
	g.mu.Unlock()
}
