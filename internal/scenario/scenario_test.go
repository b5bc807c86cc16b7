package scenario

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/topology-simulator/core"
)

func TestLoadFileAndApply(t *testing.T) {
	f, err := LoadFile("testdata/triangle.yaml")
	require.NoError(t, err)
	require.Len(t, f.Nodes, 3)

	topo := core.New(core.WithWirelessRange(0))
	motion := core.NewMotionSet(core.StaticMotion{})

	var added []string
	topo.AddListener(&core.ListenerFuncs{
		NodeAdded: func(n *core.Node) { added = append(added, "node "+n.String()) },
		LinkAdded: func(l *core.Link) { added = append(added, "link "+l.String()) },
	})

	res, err := f.Apply(topo, motion)
	require.NoError(t, err)

	assert.Equal(t, []string{"node 0", "node 1", "node 2", "link 0 <--> 1", "link 1 --> 2"}, added)
	assert.Equal(t, 3, topo.NodeCount())
	assert.Equal(t, 2, topo.LinkCount())

	base := res.Nodes["base"]
	icon, ok := base.Property("icon")
	require.True(t, ok)
	assert.Equal(t, "antenna", icon)
	name, _ := base.Property("name")
	assert.Equal(t, "base", name)

	require.NotNil(t, res.Orbital)
	assert.True(t, res.Orbital.Tracks(res.Nodes["iss"].ID()))

	latency, ok := res.Links[1].Property("latency_ms")
	require.True(t, ok)
	assert.Equal(t, 12, latency)

	st := core.StepTime{Tick: 1, Time: time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)}
	for _, n := range topo.Nodes() {
		motion.Step(context.Background(), n, st)
	}
	assert.Equal(t, core.Vec3{}, base.Location())
	assert.Equal(t, core.Vec3{X: 31}, res.Nodes["rover"].Location())
	assert.Greater(t, res.Nodes["iss"].Location().Norm(), 6000.0)
}

func TestDecodeJSON(t *testing.T) {
	doc := `{"nodes":[{"name":"a","position":{"x":1,"y":2,"z":3}},{"name":"b"}],
	         "links":[{"source":"a","destination":"b","type":"undirected"}]}`
	f, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	topo := core.New()
	res, err := f.Apply(topo, nil)
	require.NoError(t, err)
	assert.Equal(t, core.Vec3{X: 1, Y: 2, Z: 3}, res.Nodes["a"].Location())
	assert.Nil(t, res.Orbital)

	l, ok := topo.LinkBetween(res.Nodes["b"], res.Nodes["a"], core.Undirected)
	require.True(t, ok)
	assert.False(t, l.IsWireless())
}

func TestDecodeEmptyDocument(t *testing.T) {
	f, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Nodes)
}

func TestInvalidScenarios(t *testing.T) {
	cases := map[string]string{
		"missing name":   "nodes: [{position: {x: 1}}]",
		"duplicate name": "nodes: [{name: a}, {name: a}]",
		"unknown node":   "nodes: [{name: a}]\nlinks: [{source: a, destination: z}]",
		"self link":      "nodes: [{name: a}]\nlinks: [{source: a, destination: a}]",
		"bad type":       "nodes: [{name: a}, {name: b}]\nlinks: [{source: a, destination: b, type: both}]",
		"short tle":      "nodes: [{name: a, tle: [\"1 x\", \"2 y\"]}]",
		"one tle line":   "nodes: [{name: a, tle: [\"1 x\"]}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			require.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestUnknownFieldIsADecodeError(t *testing.T) {
	_, err := Decode(strings.NewReader("nodes: [{name: a, colour: red}]"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidScenario)
}

func TestApplyStopsOnRejectedLink(t *testing.T) {
	doc := "nodes: [{name: a}, {name: b}]\nlinks: [{source: a, destination: b}, {source: b, destination: a}]"
	f, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	topo := core.New()
	res, err := f.Apply(topo, nil)
	require.ErrorIs(t, err, core.ErrLinkExists)
	assert.Len(t, res.Links, 1)
	assert.Equal(t, 1, topo.LinkCount())
}
