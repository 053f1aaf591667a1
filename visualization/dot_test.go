package visualization

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0000marcell/xstate"
)

func newLightMachine(t *testing.T) *xstate.StateMachine {
	t.Helper()
	machine, err := xstate.Machine(&xstate.MachineConfig{
		Key: "light",
		StateConfig: xstate.StateConfig{
			Initial: "green",
			States: map[string]*xstate.StateConfig{
				"green":  {On: map[string]any{"TIMER": "yellow"}},
				"yellow": {On: map[string]any{"TIMER": "red"}},
				"red": {
					Initial: "walk",
					On:      map[string]any{"TIMER": "green"},
					States: map[string]*xstate.StateConfig{
						"walk": {On: map[string]any{"PED": "wait"}},
						"wait": {},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	return machine
}

func TestDOTGenerator_Generate(t *testing.T) {
	machine := newLightMachine(t)

	dot, err := NewDOTGenerator(machine).Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(dot, "digraph StateMachine {"))
	assert.Contains(t, dot, `"light.green"`)
	assert.Contains(t, dot, `subgraph "cluster_light.red"`)
	assert.Contains(t, dot, `"light.green" -> "light.yellow" [label="TIMER"];`)
	assert.Contains(t, dot, `"light.red.walk" -> "light.red.wait" [label="PED"];`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(dot), "}"))
}

func TestDOTGenerator_EdgesIntoCompoundAnchorOnLeaf(t *testing.T) {
	machine := newLightMachine(t)

	dot, err := NewDOTGenerator(machine).Generate()
	require.NoError(t, err)

	// yellow -> red targets a cluster; the edge anchors on its first
	// leaf in document order.
	assert.Contains(t, dot, `"light.yellow" -> "light.red.wait" [label="TIMER"];`)
}

func TestDOTGenerator_Options(t *testing.T) {
	machine := newLightMachine(t)

	opts := DefaultDOTOptions()
	opts.RankDirection = "LR"
	opts.ShowEventTypes = false
	dot, err := NewDOTGenerator(machine, opts).Generate()
	require.NoError(t, err)

	assert.Contains(t, dot, "rankdir=LR;")
	assert.NotContains(t, dot, `label="TIMER"`)
}
