package core

// EventKind identifies what changed in a Topology.
type EventKind int

const (
	EventNodeAdded EventKind = iota
	EventNodeRemoved
	EventNodeMoved
	EventLinkAdded
	EventLinkRemoved
	EventPropertyChanged
	EventNodeSelected
	EventTick
)

func (k EventKind) String() string {
	switch k {
	case EventNodeAdded:
		return "node_added"
	case EventNodeRemoved:
		return "node_removed"
	case EventNodeMoved:
		return "node_moved"
	case EventLinkAdded:
		return "link_added"
	case EventLinkRemoved:
		return "link_removed"
	case EventPropertyChanged:
		return "property_changed"
	case EventNodeSelected:
		return "node_selected"
	case EventTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event is delivered to Topology listeners. Only the fields relevant
// to Kind are set: Node for node events, Link for link events, Key for
// property changes and Tick for clock ticks.
type Event struct {
	Kind EventKind
	Node *Node
	Link *Link
	Key  string
	Tick uint64
}

// Listener receives Topology change notifications. Implementations
// are compared by identity in RemoveListener, so they should be
// pointer types.
type Listener interface {
	TopologyChanged(ev Event)
}

// ListenerFuncs adapts a set of optional callbacks to Listener. Nil
// callbacks are skipped. Register it by pointer.
type ListenerFuncs struct {
	NodeAdded       func(n *Node)
	NodeRemoved     func(n *Node)
	NodeMoved       func(n *Node)
	LinkAdded       func(l *Link)
	LinkRemoved     func(l *Link)
	PropertyChanged func(key string)
	NodeSelected    func(n *Node)
	Tick            func(tick uint64)
}

// TopologyChanged implements Listener.
func (f *ListenerFuncs) TopologyChanged(ev Event) {
	switch ev.Kind {
	case EventNodeAdded:
		if f.NodeAdded != nil {
			f.NodeAdded(ev.Node)
		}
	case EventNodeRemoved:
		if f.NodeRemoved != nil {
			f.NodeRemoved(ev.Node)
		}
	case EventNodeMoved:
		if f.NodeMoved != nil {
			f.NodeMoved(ev.Node)
		}
	case EventLinkAdded:
		if f.LinkAdded != nil {
			f.LinkAdded(ev.Link)
		}
	case EventLinkRemoved:
		if f.LinkRemoved != nil {
			f.LinkRemoved(ev.Link)
		}
	case EventPropertyChanged:
		if f.PropertyChanged != nil {
			f.PropertyChanged(ev.Key)
		}
	case EventNodeSelected:
		if f.NodeSelected != nil {
			f.NodeSelected(ev.Node)
		}
	case EventTick:
		if f.Tick != nil {
			f.Tick(ev.Tick)
		}
	}
}

type funcListener struct {
	fn func(Event)
}

func (f *funcListener) TopologyChanged(ev Event) { f.fn(ev) }

// NodeListener is notified when a property of a specific Node changes.
type NodeListener func(n *Node, key string)

// LinkListener is notified when a property of a specific Link changes.
type LinkListener func(l *Link, key string)
