package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LinkType is the orientation of a link.
type LinkType int

const (
	Undirected LinkType = iota
	Directed
)

func (t LinkType) String() string {
	if t == Directed {
		return "directed"
	}
	return "undirected"
}

// LinkMode distinguishes caller-managed wired links from wireless links
// derived by the connectivity model.
type LinkMode int

const (
	Wired LinkMode = iota
	Wireless
)

func (m LinkMode) String() string {
	if m == Wireless {
		return "wireless"
	}
	return "wired"
}

const (
	linkNew int32 = iota
	linkAttached
	linkRemoved
)

// LinkKey is the canonical identity of a link inside a Topology.
// Undirected links order their endpoint ids so that (a,b) and (b,a)
// share a key. Mode is not part of the key.
type LinkKey struct {
	A, B int64
	Type LinkType
}

// Link relates two nodes. Endpoints, type and mode are fixed at
// construction; properties and listeners are per instance.
type Link struct {
	src, dst *Node
	typ      LinkType
	mode     LinkMode

	state atomic.Int32

	mu    sync.RWMutex
	props map[string]any

	listeners registry[LinkListener]
}

// NewLink builds a link that is not yet part of any topology. Pass it
// to Topology.AddLink to attach it.
func NewLink(src, dst *Node, typ LinkType, mode LinkMode) *Link {
	return &Link{
		src:   src,
		dst:   dst,
		typ:   typ,
		mode:  mode,
		props: make(map[string]any),
	}
}

func (l *Link) Source() *Node      { return l.src }
func (l *Link) Destination() *Node { return l.dst }
func (l *Link) Type() LinkType     { return l.typ }
func (l *Link) Mode() LinkMode     { return l.mode }
func (l *Link) IsWireless() bool   { return l.mode == Wireless }
func (l *Link) IsDirected() bool   { return l.typ == Directed }

// IsAttached reports whether the link currently belongs to a topology.
func (l *Link) IsAttached() bool { return l.state.Load() == linkAttached }

// OtherEndpoint returns the endpoint opposite n. It fails with
// ErrInvalidEndpoint when n is neither endpoint.
func (l *Link) OtherEndpoint(n *Node) (*Node, error) {
	switch n {
	case l.src:
		return l.dst, nil
	case l.dst:
		return l.src, nil
	default:
		return nil, fmt.Errorf("%w: %v on %v", ErrInvalidEndpoint, n, l)
	}
}

// Endpoints returns source and destination.
func (l *Link) Endpoints() (*Node, *Node) { return l.src, l.dst }

// Equal reports canonical equality: same type and same endpoints, with
// endpoint order ignored for undirected links. Mode is not compared.
func (l *Link) Equal(other *Link) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.typ != other.typ {
		return false
	}
	if l.src == other.src && l.dst == other.dst {
		return true
	}
	return l.typ == Undirected && l.src == other.dst && l.dst == other.src
}

// Key returns the canonical key of the link.
func (l *Link) Key() LinkKey {
	return makeLinkKey(l.src.id, l.dst.id, l.typ)
}

func makeLinkKey(a, b int64, typ LinkType) LinkKey {
	if typ == Undirected && a > b {
		a, b = b, a
	}
	return LinkKey{A: a, B: b, Type: typ}
}

// Length returns the current distance between the endpoints.
func (l *Link) Length() float64 {
	return l.src.DistanceTo(l.dst)
}

func (l *Link) String() string {
	if l.typ == Directed {
		return fmt.Sprintf("%v --> %v", l.src, l.dst)
	}
	return fmt.Sprintf("%v <--> %v", l.src, l.dst)
}

// SetProperty stores value under key and notifies the listeners of this
// link instance. It fails once the link has been removed.
func (l *Link) SetProperty(key string, value any) error {
	if l.state.Load() == linkRemoved {
		return fmt.Errorf("%w: link %v", ErrNotAttached, l)
	}
	l.mu.Lock()
	l.props[key] = value
	l.mu.Unlock()

	l.listeners.each(func(fn LinkListener) { fn(l, key) })
	return nil
}

// Property returns the value stored under key and whether it exists.
func (l *Link) Property(key string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.props[key]
	return v, ok
}

func (l *Link) HasProperty(key string) bool {
	_, ok := l.Property(key)
	return ok
}

// AddPropertyListener registers fn for property changes on this link
// and returns a function that unregisters it.
func (l *Link) AddPropertyListener(fn LinkListener) (remove func()) {
	e := l.listeners.add(fn)
	return func() { l.listeners.remove(e) }
}
