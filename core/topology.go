package core

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/topology-simulator/internal/logging"
)

// DefaultWirelessRange is the range applied when none is configured.
const DefaultWirelessRange = 100.0

// RefreshMode controls whether observers are woken every tick or only
// when the topology changes.
type RefreshMode int

const (
	// ClockBased emits a tick event after every clock tick.
	ClockBased RefreshMode = iota
	// EventBased suppresses tick events; observers react to change
	// events only.
	EventBased
)

func (m RefreshMode) String() string {
	if m == EventBased {
		return "eventbased"
	}
	return "clockbased"
}

// MetricsRecorder receives topology gauges and recompute timings. It is
// satisfied by the Prometheus collector in internal/observability.
type MetricsRecorder interface {
	SetTopologyCounts(nodes, wiredLinks, wirelessLinks int)
	ObserveRecompute(d time.Duration, added, removed int)
}

// Topology owns every Node and Link of a simulated network. All
// structural state is guarded by one lock. Mutations queue their events
// under the lock and deliver them after releasing it, so listeners may
// call back into the topology and every listener sees events in the
// order the mutations committed. Delivery normally happens on the
// calling goroutine before the mutation returns. When another goroutine
// is already delivering, or the caller is itself a listener, the
// events are delivered by that outer delivery after those queued ahead
// of them.
type Topology struct {
	mu sync.RWMutex

	nextID    int64
	nodes     map[int64]*Node
	nodeOrder []*Node // ascending id
	links     map[LinkKey]*Link
	adjacency map[int64]map[LinkKey]*Link

	wiredCount    int
	wirelessCount int

	defaultType   LinkType
	wirelessRange float64
	refreshMode   RefreshMode
	model         ConnectivityModel
	selected      *Node
	props         map[string]any

	listeners registry[Listener]
	queue     eventQueue

	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises a Topology.
type Option func(*Topology)

// WithLogger sets the logger used for rejected mutations and recompute
// summaries.
func WithLogger(l logging.Logger) Option {
	return func(t *Topology) {
		if l != nil {
			t.log = l
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(t *Topology) { t.metrics = m }
}

// WithConnectivityModel replaces the default RangeModel.
func WithConnectivityModel(m ConnectivityModel) Option {
	return func(t *Topology) {
		if m != nil {
			t.model = m
		}
	}
}

func WithWirelessRange(r float64) Option {
	return func(t *Topology) { t.wirelessRange = r }
}

func WithDefaultOrientation(typ LinkType) Option {
	return func(t *Topology) { t.defaultType = typ }
}

func WithRefreshMode(m RefreshMode) Option {
	return func(t *Topology) { t.refreshMode = m }
}

// New constructs an empty topology.
func New(opts ...Option) *Topology {
	t := &Topology{
		nodes:         make(map[int64]*Node),
		links:         make(map[LinkKey]*Link),
		adjacency:     make(map[int64]map[LinkKey]*Link),
		defaultType:   Undirected,
		wirelessRange: DefaultWirelessRange,
		refreshMode:   ClockBased,
		model:         RangeModel{},
		props:         make(map[string]any),
		log:           logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

//
// ---------- Nodes ----------
//

// AddNode creates a node at (x, y, z) with a copy of props and notifies
// listeners with EventNodeAdded.
func (t *Topology) AddNode(x, y, z float64, props map[string]any) *Node {
	t.mu.Lock()
	n := newNode(t.nextID, Vec3{X: x, Y: y, Z: z}, props)
	t.nextID++
	n.topo.Store(t)
	t.nodes[n.id] = n
	t.nodeOrder = append(t.nodeOrder, n)
	t.recordCountsLocked()
	t.queueLocked(Event{Kind: EventNodeAdded, Node: n})
	t.mu.Unlock()

	t.flush()
	return n
}

// RemoveNode detaches n. Incident links are removed first, each
// announced with EventLinkRemoved, then EventNodeRemoved is sent. It
// returns false when n does not belong to this topology.
func (t *Topology) RemoveNode(n *Node) bool {
	if n == nil {
		return false
	}

	t.mu.Lock()
	if !t.ownsLocked(n) {
		t.mu.Unlock()
		return false
	}

	incident := t.incidentLocked(n)
	events := make([]Event, 0, len(incident)+1)
	for _, l := range incident {
		t.detachLinkLocked(l)
		events = append(events, Event{Kind: EventLinkRemoved, Link: l})
	}

	delete(t.nodes, n.id)
	delete(t.adjacency, n.id)
	if i, ok := slices.BinarySearchFunc(t.nodeOrder, n.id, compareNodeID); ok {
		t.nodeOrder = slices.Delete(t.nodeOrder, i, i+1)
	}
	if t.selected == n {
		t.selected = nil
	}
	n.topo.Store(nil)
	t.recordCountsLocked()
	t.queueLocked(append(events, Event{Kind: EventNodeRemoved, Node: n})...)
	t.mu.Unlock()

	t.flush()
	return true
}

// Node returns the attached node with the given id.
func (t *Topology) Node(id int64) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns the attached nodes in ascending id order.
func (t *Topology) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.nodeOrder)
}

func (t *Topology) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Clear removes every node, and therefore every link, emitting the
// usual removal events.
func (t *Topology) Clear() {
	for _, n := range t.Nodes() {
		t.RemoveNode(n)
	}
}

// moveNode applies update to n's position and queues EventNodeMoved in
// the same critical section, so a move can never be announced after the
// node's removal.
func (t *Topology) moveNode(n *Node, update func(Vec3) Vec3) bool {
	t.mu.Lock()
	if !t.ownsLocked(n) {
		t.mu.Unlock()
		return false
	}
	p := update(*n.pos.Load())
	n.pos.Store(&p)
	t.queueLocked(Event{Kind: EventNodeMoved, Node: n})
	t.mu.Unlock()

	t.flush()
	return true
}

//
// ---------- Links ----------
//

// Connect adds a wired link from src to dst using the default
// orientation.
func (t *Topology) Connect(src, dst *Node) (*Link, error) {
	l := NewLink(src, dst, t.DefaultOrientation(), Wired)
	if err := t.AddLink(l); err != nil {
		return nil, err
	}
	return l, nil
}

// AddLink attaches a caller-built wired link. It is rejected, with no
// notification, when an equal link exists, when an endpoint is nil or
// foreign, for self links, and for wireless links, which only the
// connectivity model may create.
func (t *Topology) AddLink(l *Link) error {
	if l == nil || l.src == nil || l.dst == nil {
		return ErrNilEndpoint
	}
	if l.mode == Wireless {
		t.log.Debug(context.Background(), "rejected wireless link", logging.String("link", l.String()))
		return fmt.Errorf("%w: %v", ErrWirelessManaged, l)
	}
	if l.src == l.dst {
		return fmt.Errorf("%w: %v", ErrSelfLink, l)
	}

	t.mu.Lock()
	if err := t.checkAddLocked(l); err != nil {
		t.mu.Unlock()
		t.log.Debug(context.Background(), "rejected link",
			logging.String("link", l.String()),
			logging.String("error", err.Error()),
		)
		return err
	}
	t.attachLinkLocked(l)
	t.recordCountsLocked()
	t.queueLocked(Event{Kind: EventLinkAdded, Link: l})
	t.mu.Unlock()

	t.flush()
	return nil
}

func (t *Topology) checkAddLocked(l *Link) error {
	if !t.ownsLocked(l.src) || !t.ownsLocked(l.dst) {
		return fmt.Errorf("%w: %v", ErrForeignEndpoint, l)
	}
	switch l.state.Load() {
	case linkAttached:
		return fmt.Errorf("%w: %v", ErrLinkAlreadyAdded, l)
	case linkRemoved:
		return fmt.Errorf("%w: link %v was removed", ErrNotAttached, l)
	}
	if _, exists := t.links[l.Key()]; exists {
		return fmt.Errorf("%w: %v", ErrLinkExists, l)
	}
	return nil
}

// RemoveLink detaches the stored link equal to l and notifies listeners
// with EventLinkRemoved. Absent links and wireless links are left
// alone and false is returned.
func (t *Topology) RemoveLink(l *Link) bool {
	if l == nil || l.src == nil || l.dst == nil {
		return false
	}

	t.mu.Lock()
	existing, ok := t.links[l.Key()]
	if !ok || !existing.Equal(l) {
		t.mu.Unlock()
		return false
	}
	if existing.mode == Wireless {
		t.mu.Unlock()
		t.log.Debug(context.Background(), "refusing to remove wireless link", logging.String("link", existing.String()))
		return false
	}
	t.detachLinkLocked(existing)
	t.recordCountsLocked()
	t.queueLocked(Event{Kind: EventLinkRemoved, Link: existing})
	t.mu.Unlock()

	t.flush()
	return true
}

// Links returns every attached link ordered by canonical key.
func (t *Topology) Links() []*Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLinksLocked()
}

func (t *Topology) sortedLinksLocked() []*Link {
	out := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, l)
	}
	slices.SortFunc(out, compareLinks)
	return out
}

func (t *Topology) LinkCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.links)
}

// LinkBetween returns the attached link of type typ joining a and b
// (from a to b when directed).
func (t *Topology) LinkBetween(a, b *Node, typ LinkType) (*Link, bool) {
	if a == nil || b == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.links[makeLinkKey(a.id, b.id, typ)]
	if !ok || !l.Equal(NewLink(a, b, typ, l.mode)) {
		return nil, false
	}
	return l, true
}

func (t *Topology) incidentLinks(n *Node) []*Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.ownsLocked(n) {
		return nil
	}
	return t.incidentLocked(n)
}

func (t *Topology) neighbors(n *Node, out, in bool) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.ownsLocked(n) {
		return nil
	}

	seen := make(map[int64]*Node)
	for _, l := range t.adjacency[n.id] {
		other := l.dst
		if other == n {
			other = l.src
		}
		switch {
		case l.typ == Undirected:
		case l.src == n && !out:
			continue
		case l.dst == n && !in:
			continue
		}
		seen[other.id] = other
	}

	res := make([]*Node, 0, len(seen))
	for _, nb := range seen {
		res = append(res, nb)
	}
	slices.SortFunc(res, func(a, b *Node) int { return compareInt64(a.id, b.id) })
	return res
}

//
// ---------- Wireless connectivity ----------
//

// RecomputeWirelessLinks scans every unordered pair of nodes and
// reconciles wireless links with the connectivity model: missing links
// are added and links no longer justified are removed. Pairs already
// joined by an equal wired link are left as they are.
func (t *Topology) RecomputeWirelessLinks() (added, removed int) {
	start := time.Now()

	t.mu.Lock()
	model, r := t.model, t.wirelessRange
	var events []Event
	nodes := t.nodeOrder
	for i := 0; i < len(nodes); i++ {
		a := nodes[i]
		posA := a.Location()
		for j := i + 1; j < len(nodes); j++ {
			b := nodes[j]
			want := model.Connected(posA, b.Location(), r)

			key := makeLinkKey(a.id, b.id, Undirected)
			existing, ok := t.links[key]
			switch {
			case want && !ok:
				l := NewLink(a, b, Undirected, Wireless)
				t.attachLinkLocked(l)
				events = append(events, Event{Kind: EventLinkAdded, Link: l})
				added++
			case !want && ok && existing.mode == Wireless:
				t.detachLinkLocked(existing)
				events = append(events, Event{Kind: EventLinkRemoved, Link: existing})
				removed++
			}
		}
	}
	if added > 0 || removed > 0 {
		t.recordCountsLocked()
	}
	t.queueLocked(events...)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ObserveRecompute(time.Since(start), added, removed)
	}
	if added > 0 || removed > 0 {
		t.log.Debug(context.Background(), "wireless links recomputed",
			logging.Int("added", added),
			logging.Int("removed", removed),
		)
	}

	t.flush()
	return added, removed
}

// EmitTick announces the end of clock tick number tick. Under
// EventBased refresh the event is suppressed.
func (t *Topology) EmitTick(tick uint64) {
	t.mu.Lock()
	if t.refreshMode == EventBased {
		t.mu.Unlock()
		return
	}
	t.queueLocked(Event{Kind: EventTick, Tick: tick})
	t.mu.Unlock()

	t.flush()
}

//
// ---------- Settings ----------
//

func (t *Topology) WirelessRange() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wirelessRange
}

// SetWirelessRange changes the range used from the next recompute on.
func (t *Topology) SetWirelessRange(r float64) {
	t.mu.Lock()
	t.wirelessRange = r
	t.mu.Unlock()
}

func (t *Topology) DefaultOrientation() LinkType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.defaultType
}

func (t *Topology) SetDefaultOrientation(typ LinkType) {
	t.mu.Lock()
	t.defaultType = typ
	t.mu.Unlock()
}

func (t *Topology) RefreshMode() RefreshMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshMode
}

func (t *Topology) SetRefreshMode(m RefreshMode) {
	t.mu.Lock()
	t.refreshMode = m
	t.mu.Unlock()
}

// SetConnectivityModel swaps the wireless policy. A nil model restores
// RangeModel.
func (t *Topology) SetConnectivityModel(m ConnectivityModel) {
	if m == nil {
		m = RangeModel{}
	}
	t.mu.Lock()
	t.model = m
	t.mu.Unlock()
}

//
// ---------- Selection and properties ----------
//

// SelectNode marks n as selected and emits EventNodeSelected. Passing
// a node foreign to this topology is ignored.
func (t *Topology) SelectNode(n *Node) bool {
	t.mu.Lock()
	if n != nil && !t.ownsLocked(n) {
		t.mu.Unlock()
		return false
	}
	t.selected = n
	t.queueLocked(Event{Kind: EventNodeSelected, Node: n})
	t.mu.Unlock()

	t.flush()
	return true
}

func (t *Topology) SelectedNode() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selected
}

// SetProperty stores value under key and emits EventPropertyChanged.
func (t *Topology) SetProperty(key string, value any) {
	t.mu.Lock()
	t.props[key] = value
	t.queueLocked(Event{Kind: EventPropertyChanged, Key: key})
	t.mu.Unlock()

	t.flush()
}

// RemoveProperty deletes key, emitting EventPropertyChanged if it was
// present.
func (t *Topology) RemoveProperty(key string) {
	t.mu.Lock()
	_, ok := t.props[key]
	delete(t.props, key)
	if ok {
		t.queueLocked(Event{Kind: EventPropertyChanged, Key: key})
	}
	t.mu.Unlock()

	t.flush()
}

func (t *Topology) Property(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.props[key]
	return v, ok
}

func (t *Topology) HasProperty(key string) bool {
	_, ok := t.Property(key)
	return ok
}

//
// ---------- Listeners ----------
//

// AddListener registers l. Listeners are notified in registration order.
func (t *Topology) AddListener(l Listener) {
	if l == nil {
		return
	}
	t.listeners.add(l)
}

// RemoveListener unregisters the first registration of l. A listener
// removed while an event is being dispatched is not called again, even
// for the remainder of that dispatch.
func (t *Topology) RemoveListener(l Listener) bool {
	if l == nil {
		return false
	}
	return t.listeners.removeFirst(func(x Listener) bool { return x == l })
}

// Subscribe registers fn and returns a function that unregisters it.
func (t *Topology) Subscribe(fn func(Event)) (unsubscribe func()) {
	e := t.listeners.add(&funcListener{fn: fn})
	return func() { t.listeners.remove(e) }
}

// ListenerCount returns the number of registered topology listeners.
func (t *Topology) ListenerCount() int { return t.listeners.len() }

// eventQueue holds events in commit order until they are delivered.
// Only one goroutine drains it at a time.
type eventQueue struct {
	mu       sync.Mutex
	pending  []Event
	draining bool
}

// queueLocked appends events behind everything committed before them.
// Caller must hold t.mu (write lock).
func (t *Topology) queueLocked(events ...Event) {
	if len(events) == 0 {
		return
	}
	t.queue.mu.Lock()
	t.queue.pending = append(t.queue.pending, events...)
	t.queue.mu.Unlock()
}

// flush delivers queued events until none remain. If another goroutine
// is already delivering, it takes over the caller's events; so does the
// outer flush when a listener mutates the topology.
func (t *Topology) flush() {
	q := &t.queue
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true

	done := false
	defer func() {
		if !done {
			// A listener panicked; let the next mutation resume delivery.
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
		}
	}()

	for len(q.pending) > 0 {
		ev := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		t.listeners.each(func(l Listener) { l.TopologyChanged(ev) })

		q.mu.Lock()
	}
	q.pending = nil
	q.draining = false
	done = true
	q.mu.Unlock()
}

//
// ---------- Helpers ----------
//

// ownsLocked reports whether n is attached to t. Caller must hold t.mu.
func (t *Topology) ownsLocked(n *Node) bool {
	cur, ok := t.nodes[n.id]
	return ok && cur == n
}

// attachLinkLocked stores l and indexes it under both endpoints.
// Caller must hold t.mu (write lock).
func (t *Topology) attachLinkLocked(l *Link) {
	key := l.Key()
	t.links[key] = l
	for _, id := range [2]int64{l.src.id, l.dst.id} {
		m, ok := t.adjacency[id]
		if !ok {
			m = make(map[LinkKey]*Link)
			t.adjacency[id] = m
		}
		m[key] = l
	}
	if l.mode == Wireless {
		t.wirelessCount++
	} else {
		t.wiredCount++
	}
	l.state.Store(linkAttached)
}

// detachLinkLocked is the inverse of attachLinkLocked.
// Caller must hold t.mu (write lock).
func (t *Topology) detachLinkLocked(l *Link) {
	key := l.Key()
	delete(t.links, key)
	for _, id := range [2]int64{l.src.id, l.dst.id} {
		if m, ok := t.adjacency[id]; ok {
			delete(m, key)
			if len(m) == 0 {
				delete(t.adjacency, id)
			}
		}
	}
	if l.mode == Wireless {
		t.wirelessCount--
	} else {
		t.wiredCount--
	}
	l.state.Store(linkRemoved)
}

func (t *Topology) incidentLocked(n *Node) []*Link {
	m := t.adjacency[n.id]
	out := make([]*Link, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	slices.SortFunc(out, compareLinks)
	return out
}

func (t *Topology) recordCountsLocked() {
	if t.metrics == nil {
		return
	}
	t.metrics.SetTopologyCounts(len(t.nodes), t.wiredCount, t.wirelessCount)
}

func compareNodeID(n *Node, id int64) int { return compareInt64(n.id, id) }

func compareLinks(a, b *Link) int {
	ka, kb := a.Key(), b.Key()
	if c := compareInt64(ka.A, kb.A); c != 0 {
		return c
	}
	if c := compareInt64(ka.B, kb.B); c != 0 {
		return c
	}
	return int(ka.Type) - int(kb.Type)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
