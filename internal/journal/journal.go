// Package journal keeps a bounded, queryable history of topology
// events for observers that poll rather than listen.
package journal

import (
	"sync"
	"time"

	"github.com/signalsfoundry/topology-simulator/core"
)

// DefaultCapacity is the number of entries kept when none is given.
const DefaultCapacity = 1024

// Entry is one recorded topology event.
type Entry struct {
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
	Node *int64    `json:"node,omitempty"`
	Link string    `json:"link,omitempty"`
	Key  string    `json:"key,omitempty"`
	Tick uint64    `json:"tick,omitempty"`
}

// Journal is an in-memory, thread-safe ring of entries. Sequence
// numbers start at 1 and keep increasing after old entries are evicted.
type Journal struct {
	mu sync.RWMutex

	entries      []Entry
	capacity     int
	next         uint64
	includeTicks bool
	now          func() time.Time

	subs   map[int]func(Entry)
	nextID int
}

type Option func(*Journal)

// WithTicks records tick events as well. They are skipped by default
// since a clock-based run produces one per tick.
func WithTicks() Option {
	return func(j *Journal) { j.includeTicks = true }
}

func withClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// New constructs an empty journal holding at most capacity entries.
func New(capacity int, opts ...Option) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	j := &Journal{
		capacity: capacity,
		next:     1,
		now:      time.Now,
		subs:     make(map[int]func(Entry)),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Attach subscribes the journal to topo and returns a function that
// detaches it.
func (j *Journal) Attach(topo *core.Topology) (detach func()) {
	return topo.Subscribe(func(ev core.Event) { j.Record(ev) })
}

// Record appends ev and notifies subscribers. It reports false when the
// event was filtered out.
func (j *Journal) Record(ev core.Event) (Entry, bool) {
	if ev.Kind == core.EventTick && !j.includeTicks {
		return Entry{}, false
	}

	e := Entry{
		At:   j.now().UTC(),
		Kind: ev.Kind.String(),
		Key:  ev.Key,
		Tick: ev.Tick,
	}
	if ev.Node != nil {
		id := ev.Node.ID()
		e.Node = &id
	}
	if ev.Link != nil {
		e.Link = ev.Link.String()
	}

	j.mu.Lock()
	e.Seq = j.next
	j.next++
	if len(j.entries) == j.capacity {
		copy(j.entries, j.entries[1:])
		j.entries[len(j.entries)-1] = e
	} else {
		j.entries = append(j.entries, e)
	}
	subs := make([]func(Entry), 0, len(j.subs))
	for id := 0; id < j.nextID; id++ {
		if fn, ok := j.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	j.mu.Unlock()

	// Notify outside the lock so subscribers may query the journal.
	for _, fn := range subs {
		fn(e)
	}
	return e, true
}

// Since returns the retained entries with a sequence number greater
// than seq, oldest first.
func (j *Journal) Since(seq uint64) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i, e := range j.entries {
		if e.Seq > seq {
			return append([]Entry(nil), j.entries[i:]...)
		}
	}
	return nil
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// LastSeq returns the sequence number of the newest entry, or 0.
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.next - 1
}

// Subscribe registers fn for new entries, in registration order. It
// returns an unsubscribe function.
func (j *Journal) Subscribe(fn func(Entry)) (unsubscribe func()) {
	j.mu.Lock()
	id := j.nextID
	j.nextID++
	j.subs[id] = fn
	j.mu.Unlock()

	return func() {
		j.mu.Lock()
		delete(j.subs, id)
		j.mu.Unlock()
	}
}
