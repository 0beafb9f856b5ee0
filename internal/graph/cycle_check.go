package graph

// CycleCheckGuard keeps cycle checking enabled until released. Guards nest:
// checking stays on while any guard is held.
type CycleCheckGuard struct {
	release func()
	done    bool
}

// EnableCycleCheck turns on containment cycle checking for AddEdge. Release
// the guard with defer so every exit path turns it back off.
func (g *WorkspaceSnapshotGraph) EnableCycleCheck() *CycleCheckGuard {
	g.cycleCheck++
	return NewCycleCheckGuard(func() { g.cycleCheck-- })
}

// CycleCheckEnabled reports whether any guard is held.
func (g *WorkspaceSnapshotGraph) CycleCheckEnabled() bool {
	return g.cycleCheck > 0
}

// NewCycleCheckGuard wraps a release function. Callers holding the graph
// behind a lock use it to release under that lock.
func NewCycleCheckGuard(release func()) *CycleCheckGuard {
	return &CycleCheckGuard{release: release}
}

// Release disables the check taken by this guard. Calling it more than once
// is a no-op.
func (c *CycleCheckGuard) Release() {
	if c == nil || c.done {
		return
	}
	c.done = true
	c.release()
}
