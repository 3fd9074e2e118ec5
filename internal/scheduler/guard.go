package scheduler

import (
	"sync"
	"sync/atomic"
)

// Guard lets at most one cycle hold it at a time.
type Guard struct {
	running atomic.Bool
}

// TryAcquire claims the guard without blocking. On success the returned
// release func must be deferred; calling it more than once is harmless.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.running.CompareAndSwap(false, true) {
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.running.Store(false) })
	}, true
}

// Running reports whether a cycle currently holds the guard.
func (g *Guard) Running() bool {
	return g.running.Load()
}
