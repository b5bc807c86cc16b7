package core

// ConnectivityModel decides whether two nodes at positions a and b
// should share a wireless link given the topology's wireless range r.
// Implementations must be pure: the Topology calls them while holding
// its lock.
type ConnectivityModel interface {
	Connected(a, b Vec3, r float64) bool
}

// ConnectivityFunc adapts a plain function to ConnectivityModel.
type ConnectivityFunc func(a, b Vec3, r float64) bool

func (f ConnectivityFunc) Connected(a, b Vec3, r float64) bool { return f(a, b, r) }

// RangeModel links two nodes when their Euclidean distance is at most
// the wireless range, so with range 0 only coincident nodes are linked.
// A negative range links nothing. It is the default model.
type RangeModel struct{}

func (RangeModel) Connected(a, b Vec3, r float64) bool {
	if r < 0 {
		return false
	}
	return a.DistanceTo(b) <= r
}

// AlwaysConnected links every pair regardless of range.
type AlwaysConnected struct{}

func (AlwaysConnected) Connected(Vec3, Vec3, float64) bool { return true }

// NeverConnected disables wireless connectivity altogether.
type NeverConnected struct{}

func (NeverConnected) Connected(Vec3, Vec3, float64) bool { return false }
