// Package generator builds topologies programmatically. Generators only
// add nodes and wired links; wireless links are left to the
// connectivity model.
package generator

import (
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/topology-simulator/core"
)

// Generator populates a topology.
type Generator interface {
	Generate(topo *core.Topology) ([]*core.Node, error)
}

// DefaultLinkProbability is the chance that a given pair is wired when
// wiring is enabled.
const DefaultLinkProbability = 0.8

// RandomLocations scatters nodes uniformly over a rectangle and can
// wire random pairs.
type RandomLocations struct {
	nodes           int
	x0, y0          float64
	width, height   float64
	wired, directed bool
	linkProbability float64
	rnd             *rand.Rand
}

type Option func(*RandomLocations)

// WithArea sets the rectangle nodes are placed in.
func WithArea(x0, y0, width, height float64) Option {
	return func(g *RandomLocations) {
		g.x0, g.y0, g.width, g.height = x0, y0, width, height
	}
}

// WithWiring enables wired links between random pairs, directed from
// the older to the newer node when directed is set.
func WithWiring(directed bool) Option {
	return func(g *RandomLocations) {
		g.wired = true
		g.directed = directed
	}
}

// WithLinkProbability overrides DefaultLinkProbability.
func WithLinkProbability(p float64) Option {
	return func(g *RandomLocations) { g.linkProbability = p }
}

// WithSeed makes placement and wiring reproducible.
func WithSeed(seed int64) Option {
	return func(g *RandomLocations) { g.rnd = rand.New(rand.NewSource(seed)) }
}

// NewRandomLocations returns a generator for n nodes on an 800x600 area.
func NewRandomLocations(n int, opts ...Option) *RandomLocations {
	g := &RandomLocations{
		nodes:           n,
		width:           800,
		height:          600,
		linkProbability: DefaultLinkProbability,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rnd == nil {
		g.rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return g
}

// Generate adds the nodes, then the wired links if enabled. It returns
// the new nodes in creation order.
func (g *RandomLocations) Generate(topo *core.Topology) ([]*core.Node, error) {
	if topo == nil {
		return nil, fmt.Errorf("generator: topology is nil")
	}
	if g.nodes < 0 {
		return nil, fmt.Errorf("generator: negative node count %d", g.nodes)
	}

	nodes := make([]*core.Node, g.nodes)
	for i := range nodes {
		x := g.x0 + g.rnd.Float64()*g.width
		y := g.y0 + g.rnd.Float64()*g.height
		nodes[i] = topo.AddNode(x, y, 0, nil)
	}

	if !g.wired {
		return nodes, nil
	}

	typ := core.Undirected
	if g.directed {
		typ = core.Directed
	}
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if g.rnd.Float64() >= g.linkProbability {
				continue
			}
			if err := topo.AddLink(core.NewLink(nodes[i], nodes[j], typ, core.Wired)); err != nil {
				return nodes, fmt.Errorf("generator: wire %v-%v: %w", nodes[i], nodes[j], err)
			}
		}
	}
	return nodes, nil
}
