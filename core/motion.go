package core

import (
	"context"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// StepTime describes the clock tick a Stepper is invoked for.
type StepTime struct {
	// Tick is the 1-based number of the tick being executed.
	Tick uint64
	// Time is the simulation time at the end of the tick.
	Time time.Time
	// Period is the nominal tick period (zero for manual steps).
	Period time.Duration
}

// Stepper is the per-node algorithm hook driven by the clock. Step is
// called once per attached node per tick, in ascending id order, before
// wireless links are recomputed. Algorithms must not depend on that
// order.
type Stepper interface {
	Step(ctx context.Context, n *Node, st StepTime)
}

// StepFunc adapts a function to Stepper.
type StepFunc func(ctx context.Context, n *Node, st StepTime)

func (f StepFunc) Step(ctx context.Context, n *Node, st StepTime) { f(ctx, n, st) }

// Steppers runs several steppers in order for each node.
type Steppers []Stepper

func (s Steppers) Step(ctx context.Context, n *Node, st StepTime) {
	for _, stepper := range s {
		if stepper != nil {
			stepper.Step(ctx, n, st)
		}
	}
}

// StaticMotion leaves nodes where they are.
type StaticMotion struct{}

func (StaticMotion) Step(context.Context, *Node, StepTime) {}

// VelocityProperty is the node property read by LinearMotion. Its value
// is a Vec3 displacement applied once per tick.
const VelocityProperty = "velocity"

// LinearMotion translates each node by its VelocityProperty every tick.
// Nodes without the property, or with a value of another type, stay put.
type LinearMotion struct{}

func (LinearMotion) Step(_ context.Context, n *Node, _ StepTime) {
	v, ok := n.Property(VelocityProperty)
	if !ok {
		return
	}
	var d Vec3
	switch vel := v.(type) {
	case Vec3:
		d = vel
	case *Vec3:
		if vel == nil {
			return
		}
		d = *vel
	default:
		return
	}
	_ = n.Translate3(d.X, d.Y, d.Z)
	if d.X != 0 || d.Y != 0 {
		_ = n.SetDirection(Vec3{}.HeadingTo(d))
	}
}

// OrbitalMotion propagates tracked nodes along TLE orbits with SGP4 and
// places them at their ECEF position. go-satellite works in kilometres;
// Scale converts to scenario units (1 keeps kilometres).
type OrbitalMotion struct {
	Scale float64

	mu   sync.RWMutex
	sats map[int64]satellite.Satellite
}

// NewOrbitalMotion returns an orbital stepper with no tracked nodes.
func NewOrbitalMotion() *OrbitalMotion {
	return &OrbitalMotion{
		Scale: 1,
		sats:  make(map[int64]satellite.Satellite),
	}
}

// Track assigns a two-line element set to the node with the given id.
func (m *OrbitalMotion) Track(id int64, line1, line2 string) {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	m.mu.Lock()
	m.sats[id] = sat
	m.mu.Unlock()
}

// Tracks reports whether the node with the given id has an orbit.
func (m *OrbitalMotion) Tracks(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sats[id]
	return ok
}

func (m *OrbitalMotion) Step(_ context.Context, n *Node, st StepTime) {
	m.mu.RLock()
	sat, ok := m.sats[n.ID()]
	m.mu.RUnlock()
	if !ok || st.Time.IsZero() {
		return
	}

	simTime := st.Time.UTC()
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	_ = n.SetLocation(posECEF.X*scale, posECEF.Y*scale, posECEF.Z*scale)
}

// MotionSet dispatches each node to the stepper assigned to it, falling
// back to Default for unassigned nodes.
type MotionSet struct {
	Default Stepper

	mu     sync.RWMutex
	models map[int64]Stepper
}

func NewMotionSet(def Stepper) *MotionSet {
	return &MotionSet{Default: def, models: make(map[int64]Stepper)}
}

// Assign binds s to the node with the given id. A nil s removes the
// binding.
func (m *MotionSet) Assign(id int64, s Stepper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		delete(m.models, id)
		return
	}
	m.models[id] = s
}

func (m *MotionSet) Step(ctx context.Context, n *Node, st StepTime) {
	m.mu.RLock()
	s, ok := m.models[n.ID()]
	m.mu.RUnlock()
	if !ok {
		s = m.Default
	}
	if s != nil {
		s.Step(ctx, n, st)
	}
}
