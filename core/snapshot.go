package core

// NodeSnapshot is a point-in-time copy of a node.
type NodeSnapshot struct {
	ID         int64          `json:"id"`
	Position   Vec3           `json:"position"`
	Direction  *float64       `json:"direction,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// LinkSnapshot is a point-in-time copy of a link.
type LinkSnapshot struct {
	Source      int64          `json:"source"`
	Destination int64          `json:"destination"`
	Type        string         `json:"type"`
	Mode        string         `json:"mode"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Snapshot is a consistent copy of the topology for read-only
// observers. Nodes are in id order, links in canonical key order.
type Snapshot struct {
	Nodes              []NodeSnapshot `json:"nodes"`
	Links              []LinkSnapshot `json:"links"`
	WirelessRange      float64        `json:"wireless_range"`
	DefaultOrientation string         `json:"default_orientation"`
	RefreshMode        string         `json:"refresh_mode"`
	Selected           *int64         `json:"selected,omitempty"`
}

// Snapshot copies the current structure under the read lock.
func (t *Topology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Nodes:              make([]NodeSnapshot, 0, len(t.nodeOrder)),
		Links:              make([]LinkSnapshot, 0, len(t.links)),
		WirelessRange:      t.wirelessRange,
		DefaultOrientation: t.defaultType.String(),
		RefreshMode:        t.refreshMode.String(),
	}
	if t.selected != nil {
		id := t.selected.id
		snap.Selected = &id
	}

	for _, n := range t.nodeOrder {
		ns := NodeSnapshot{
			ID:       n.id,
			Position: n.Location(),
		}
		if n.HasDirection() {
			d := n.Direction()
			ns.Direction = &d
		}
		if props := n.Properties(); len(props) > 0 {
			ns.Properties = props
		}
		snap.Nodes = append(snap.Nodes, ns)
	}

	for _, l := range t.sortedLinksLocked() {
		ls := LinkSnapshot{
			Source:      l.src.id,
			Destination: l.dst.id,
			Type:        l.typ.String(),
			Mode:        l.mode.String(),
		}
		l.mu.RLock()
		if len(l.props) > 0 {
			ls.Properties = make(map[string]any, len(l.props))
			for k, v := range l.props {
				ls.Properties[k] = v
			}
		}
		l.mu.RUnlock()
		snap.Links = append(snap.Links, ls)
	}
	return snap
}
