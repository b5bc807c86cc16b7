package core

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
)

// NoDirection is the heading of a node that has never been given one.
// It is NaN, so use HasDirection rather than comparing against it.
var NoDirection = math.NaN()

// Node is a positioned, identified simulation entity. Nodes are only
// created by Topology.AddNode and stay attached until RemoveNode.
//
// Position and direction are stored atomically so readers never see a
// half-updated move. Incident links are not stored on the node; they
// are derived from the owning Topology's adjacency index.
type Node struct {
	id int64

	pos  atomic.Pointer[Vec3]
	dir  atomic.Uint64 // math.Float64bits
	topo atomic.Pointer[Topology]

	mu    sync.RWMutex
	props map[string]any

	listeners registry[NodeListener]
}

func newNode(id int64, pos Vec3, props map[string]any) *Node {
	n := &Node{
		id:    id,
		props: make(map[string]any, len(props)),
	}
	for k, v := range props {
		n.props[k] = v
	}
	n.pos.Store(&pos)
	n.dir.Store(math.Float64bits(NoDirection))
	return n
}

// ID returns the node identifier. IDs are unique within a Topology and
// never reused.
func (n *Node) ID() int64 { return n.id }

func (n *Node) String() string { return strconv.FormatInt(n.id, 10) }

// Topology returns the owning topology, or nil once the node has been
// removed.
func (n *Node) Topology() *Topology { return n.topo.Load() }

// IsAttached reports whether the node still belongs to a topology.
func (n *Node) IsAttached() bool { return n.topo.Load() != nil }

// Location returns the current position as one consistent value.
func (n *Node) Location() Vec3 { return *n.pos.Load() }

func (n *Node) X() float64 { return n.Location().X }
func (n *Node) Y() float64 { return n.Location().Y }
func (n *Node) Z() float64 { return n.Location().Z }

// SetLocation moves the node to (x, y, z).
func (n *Node) SetLocation(x, y, z float64) error {
	return n.SetLocationVec(Vec3{X: x, Y: y, Z: z})
}

// SetLocationVec moves the node to v. The owning topology notifies its
// listeners with EventNodeMoved.
func (n *Node) SetLocationVec(v Vec3) error {
	t := n.topo.Load()
	if t == nil || !t.moveNode(n, func(Vec3) Vec3 { return v }) {
		return fmt.Errorf("%w: node %d", ErrNotAttached, n.id)
	}
	return nil
}

// Translate moves the node by (dx, dy) in the plane.
func (n *Node) Translate(dx, dy float64) error {
	return n.Translate3(dx, dy, 0)
}

// Translate3 moves the node by (dx, dy, dz).
func (n *Node) Translate3(dx, dy, dz float64) error {
	t := n.topo.Load()
	d := Vec3{X: dx, Y: dy, Z: dz}
	if t == nil || !t.moveNode(n, func(p Vec3) Vec3 { return p.Add(d) }) {
		return fmt.Errorf("%w: node %d", ErrNotAttached, n.id)
	}
	return nil
}

// Direction returns the heading in radians, or NoDirection.
func (n *Node) Direction() float64 {
	return math.Float64frombits(n.dir.Load())
}

// HasDirection reports whether an explicit heading has been set.
func (n *Node) HasDirection() bool {
	return !math.IsNaN(n.Direction())
}

// SetDirection sets the heading in radians. Passing NoDirection clears it.
func (n *Node) SetDirection(rad float64) error {
	if n.topo.Load() == nil {
		return fmt.Errorf("%w: node %d", ErrNotAttached, n.id)
	}
	n.dir.Store(math.Float64bits(rad))
	return nil
}

// DistanceTo returns the distance between this node and other.
func (n *Node) DistanceTo(other *Node) float64 {
	return n.Location().DistanceTo(other.Location())
}

// SetProperty stores value under key and notifies this node's property
// listeners, in registration order, on the calling goroutine.
func (n *Node) SetProperty(key string, value any) error {
	if n.topo.Load() == nil {
		return fmt.Errorf("%w: node %d", ErrNotAttached, n.id)
	}
	n.mu.Lock()
	n.props[key] = value
	n.mu.Unlock()

	n.listeners.each(func(fn NodeListener) { fn(n, key) })
	return nil
}

// RemoveProperty deletes key. Listeners are notified only when the key
// was present.
func (n *Node) RemoveProperty(key string) error {
	if n.topo.Load() == nil {
		return fmt.Errorf("%w: node %d", ErrNotAttached, n.id)
	}
	n.mu.Lock()
	_, ok := n.props[key]
	delete(n.props, key)
	n.mu.Unlock()

	if ok {
		n.listeners.each(func(fn NodeListener) { fn(n, key) })
	}
	return nil
}

// Property returns the value stored under key and whether it exists.
func (n *Node) Property(key string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.props[key]
	return v, ok
}

func (n *Node) HasProperty(key string) bool {
	_, ok := n.Property(key)
	return ok
}

// Properties returns a copy of the property map.
func (n *Node) Properties() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]any, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// AddPropertyListener registers fn for property changes on this node
// and returns a function that unregisters it.
func (n *Node) AddPropertyListener(fn NodeListener) (remove func()) {
	e := n.listeners.add(fn)
	return func() { n.listeners.remove(e) }
}

// Links returns the links incident to this node, ordered by endpoint
// ids. A detached node has no links.
func (n *Node) Links() []*Link {
	t := n.topo.Load()
	if t == nil {
		return nil
	}
	return t.incidentLinks(n)
}

// Degree returns the number of incident links.
func (n *Node) Degree() int { return len(n.Links()) }

// Neighbors returns every node sharing a link with n, in id order.
func (n *Node) Neighbors() []*Node { return n.neighbors(true, true) }

// OutNeighbors returns nodes reachable from n over one link: the far
// end of undirected links and the destination of directed links
// leaving n.
func (n *Node) OutNeighbors() []*Node { return n.neighbors(true, false) }

// InNeighbors returns nodes that reach n over one link.
func (n *Node) InNeighbors() []*Node { return n.neighbors(false, true) }

func (n *Node) neighbors(out, in bool) []*Node {
	t := n.topo.Load()
	if t == nil {
		return nil
	}
	return t.neighbors(n, out, in)
}
