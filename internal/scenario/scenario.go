// Package scenario loads a topology description from YAML or JSON and
// populates a core.Topology with it.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/topology-simulator/core"
)

// ErrInvalidScenario wraps structural problems found before anything is
// added to the topology.
var ErrInvalidScenario = errors.New("invalid scenario")

// File is the on-disk shape of a scenario. JSON documents are accepted
// as well since they are valid YAML.
type File struct {
	Nodes []NodeSpec `yaml:"nodes" json:"nodes" validate:"dive"`
	Links []LinkSpec `yaml:"links" json:"links" validate:"dive"`
}

type NodeSpec struct {
	Name       string         `yaml:"name" json:"name" validate:"required"`
	Position   core.Vec3      `yaml:"position" json:"position"`
	Properties map[string]any `yaml:"properties" json:"properties"`
	// Velocity moves the node every tick with LinearMotion.
	Velocity *core.Vec3 `yaml:"velocity" json:"velocity"`
	// TLE is a two-line element set; the node then follows its orbit.
	TLE []string `yaml:"tle" json:"tle" validate:"omitempty,len=2,dive,min=69"`
}

type LinkSpec struct {
	Source      string         `yaml:"source" json:"source" validate:"required"`
	Destination string         `yaml:"destination" json:"destination" validate:"required,nefield=Source"`
	Type        string         `yaml:"type" json:"type" validate:"omitempty,oneof=directed undirected"`
	Properties  map[string]any `yaml:"properties" json:"properties"`
}

// Loaded summarises what Apply added, keyed by scenario name.
type Loaded struct {
	Nodes map[string]*core.Node
	Links []*core.Link
	// Orbital holds the orbit tracks created for TLE nodes, or nil.
	Orbital *core.OrbitalMotion
}

var validate = validator.New()

// Decode reads and validates a scenario document.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("scenario: decode failed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile decodes the scenario at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Validate checks field constraints, name uniqueness and that every
// link refers to a declared node.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidScenario, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	names := make(map[string]struct{}, len(f.Nodes))
	for _, n := range f.Nodes {
		if _, dup := names[n.Name]; dup {
			return fmt.Errorf("%w: duplicate node name %q", ErrInvalidScenario, n.Name)
		}
		names[n.Name] = struct{}{}
	}
	for i, l := range f.Links {
		for _, end := range []string{l.Source, l.Destination} {
			if _, ok := names[end]; !ok {
				return fmt.Errorf("%w: link %d refers to unknown node %q", ErrInvalidScenario, i, end)
			}
		}
	}
	return nil
}

// Apply adds the scenario's nodes and wired links to topo. Nodes with a
// velocity or TLE are bound to the matching stepper in motion, which
// may be nil when no motion is wanted. Links the topology rejects, such
// as duplicates, abort the load.
func (f *File) Apply(topo *core.Topology, motion *core.MotionSet) (*Loaded, error) {
	if topo == nil {
		return nil, fmt.Errorf("scenario: topology is nil")
	}

	res := &Loaded{
		Nodes: make(map[string]*core.Node, len(f.Nodes)),
		Links: make([]*core.Link, 0, len(f.Links)),
	}

	for _, spec := range f.Nodes {
		props := make(map[string]any, len(spec.Properties)+2)
		for k, v := range spec.Properties {
			props[k] = v
		}
		props["name"] = spec.Name
		if spec.Velocity != nil {
			props[core.VelocityProperty] = *spec.Velocity
		}

		n := topo.AddNode(spec.Position.X, spec.Position.Y, spec.Position.Z, props)
		res.Nodes[spec.Name] = n

		if motion == nil {
			continue
		}
		switch {
		case len(spec.TLE) == 2:
			if res.Orbital == nil {
				res.Orbital = core.NewOrbitalMotion()
			}
			res.Orbital.Track(n.ID(), spec.TLE[0], spec.TLE[1])
			motion.Assign(n.ID(), res.Orbital)
		case spec.Velocity != nil:
			motion.Assign(n.ID(), core.LinearMotion{})
		}
	}

	for i, spec := range f.Links {
		src, dst := res.Nodes[spec.Source], res.Nodes[spec.Destination]

		typ := topo.DefaultOrientation()
		switch spec.Type {
		case core.Directed.String():
			typ = core.Directed
		case core.Undirected.String():
			typ = core.Undirected
		}

		l := core.NewLink(src, dst, typ, core.Wired)
		for k, v := range spec.Properties {
			if err := l.SetProperty(k, v); err != nil {
				return res, fmt.Errorf("scenario: link %d: %w", i, err)
			}
		}
		if err := topo.AddLink(l); err != nil {
			return res, fmt.Errorf("scenario: link %d (%s -> %s): %w", i, spec.Source, spec.Destination, err)
		}
		res.Links = append(res.Links, l)
	}
	return res, nil
}
