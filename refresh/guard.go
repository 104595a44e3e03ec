package refresh

import "sync/atomic"

// Guard admits at most one holder at a time. The zero value is ready to use
// and may be shared by several loops and manual callers.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard if it is free.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard.
func (g *Guard) Release() {
	g.busy.Store(false)
}
