package inspect

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/topology-simulator/core"
)

// RefreshModeProperty is the topology property holding the refresh mode
// that was active before an interactive drag started.
const RefreshModeProperty = "refreshMode"

// BeginDrag prepares topo for a node being moved by hand: the current
// refresh mode is saved as RefreshModeProperty and clock-based refresh
// is forced so observers redraw every tick. A mode saved by an earlier,
// still active drag is kept.
func BeginDrag(topo *core.Topology) {
	if !topo.HasProperty(RefreshModeProperty) {
		topo.SetProperty(RefreshModeProperty, topo.RefreshMode())
	}
	topo.SetRefreshMode(core.ClockBased)
}

// EndDrag restores the refresh mode saved by BeginDrag and clears the
// property. It reports whether a saved mode was found.
func EndDrag(topo *core.Topology) bool {
	v, ok := topo.Property(RefreshModeProperty)
	if !ok {
		return false
	}
	if mode, ok := v.(core.RefreshMode); ok {
		topo.SetRefreshMode(mode)
	}
	topo.RemoveProperty(RefreshModeProperty)
	return true
}

// dragSet tracks the nodes currently being dragged so the refresh mode
// is restored only when the last drag ends. A node removed from the
// topology ends its drag.
type dragSet struct {
	mu     sync.Mutex
	active map[int64]*core.Node

	// stale is set by the removal listener. Whoever holds mu next
	// prunes detached nodes before releasing it.
	stale atomic.Bool
}

func (d *dragSet) start(topo *core.Topology, n *core.Node) {
	d.mu.Lock()
	defer d.unlock(topo)
	if d.active == nil {
		d.active = make(map[int64]*core.Node)
	}
	if len(d.active) == 0 {
		BeginDrag(topo)
	}
	d.active[n.ID()] = n
}

func (d *dragSet) end(topo *core.Topology, n *core.Node) error {
	d.mu.Lock()
	defer d.unlock(topo)
	if _, ok := d.active[n.ID()]; !ok {
		return fmt.Errorf("node %v is not being dragged", n)
	}
	delete(d.active, n.ID())
	if len(d.active) == 0 {
		EndDrag(topo)
	}
	return nil
}

func (d *dragSet) dragging(topo *core.Topology, n *core.Node) bool {
	d.mu.Lock()
	defer d.unlock(topo)
	_, ok := d.active[n.ID()]
	return ok
}

// nodeRemoved runs as a topology listener, possibly on a goroutine that
// already holds mu inside start or end, so it never blocks on mu.
func (d *dragSet) nodeRemoved(topo *core.Topology) {
	d.stale.Store(true)
	if d.mu.TryLock() {
		d.unlock(topo)
	}
}

// unlock prunes drags of detached nodes and releases mu. A removal
// noticed after the release is handled by retaking mu, unless someone
// else holds it and will prune in turn.
func (d *dragSet) unlock(topo *core.Topology) {
	for {
		if d.stale.Swap(false) {
			d.pruneLocked(topo)
		}
		d.mu.Unlock()
		if !d.stale.Load() || !d.mu.TryLock() {
			return
		}
	}
}

func (d *dragSet) pruneLocked(topo *core.Topology) {
	if len(d.active) == 0 {
		return
	}
	for id, n := range d.active {
		if !n.IsAttached() {
			delete(d.active, id)
		}
	}
	if len(d.active) == 0 {
		EndDrag(topo)
	}
}
