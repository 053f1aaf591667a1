package xstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const trafficLightYAML = `
key: light
strict: true
initial: green
states:
  green:
    on:
      TIMER: yellow
  yellow:
    on:
      TIMER: red
  red:
    initial: walk
    on:
      TIMER: green
    states:
      walk:
        on:
          PED: wait
      wait:
        on:
          PED: stop
      stop: {}
`

func TestConfig_DecodedFromYAML(t *testing.T) {
	var config MachineConfig
	require.NoError(t, yaml.Unmarshal([]byte(trafficLightYAML), &config))

	machine, err := Machine(&config)
	require.NoError(t, err)
	assert.Equal(t, "light", machine.ID())

	st, err := machine.Transition("yellow", "TIMER")
	require.NoError(t, err)
	AssertValue(t, st, map[string]StateValue{"red": "walk"})

	_, err = machine.Transition("green", "NOPE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnhandledEvent, GetErrorCode(err))
}

const guardedYAML = `
key: door
initial: closed
states:
  closed:
    initial: idle
    states:
      idle: {}
      error: {}
    on:
      OPEN:
        - target: opened
          cond: isAdmin
        - target: .error
  opened:
    on:
      CLOSE: closed
`

func TestConfig_YAMLTransitionListsAndNamedGuards(t *testing.T) {
	var config MachineConfig
	require.NoError(t, yaml.Unmarshal([]byte(guardedYAML), &config))

	machine, err := Machine(&config, Options{Guards: map[string]GuardFunc{
		"isAdmin": func(ctx Context, _ Event) bool { return ctx.GetBool("isAdmin") },
	}})
	require.NoError(t, err)

	st, err := machine.WithContext(Context{"isAdmin": true}).Transition(map[string]StateValue{"closed": "idle"}, "OPEN")
	require.NoError(t, err)
	AssertValue(t, st, "opened")

	st, err = machine.WithContext(Context{"isAdmin": false}).Transition(map[string]StateValue{"closed": "idle"}, "OPEN")
	require.NoError(t, err)
	AssertValue(t, st, map[string]StateValue{"closed": "error"})
}

func TestConfig_TransitionForms(t *testing.T) {
	t.Run("bare target string", func(t *testing.T) {
		configs, err := toTransitionConfigs("next")
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, []string{"next"}, configs[0].Target)
	})

	t.Run("single config value", func(t *testing.T) {
		configs, err := toTransitionConfigs(TransitionConfig{Internal: true})
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.True(t, configs[0].Internal)
	})

	t.Run("list of mixed forms", func(t *testing.T) {
		configs, err := toTransitionConfigs([]any{
			"first",
			TransitionConfig{Target: []string{"second"}},
		})
		require.NoError(t, err)
		require.Len(t, configs, 2)
	})

	t.Run("decoded mapping", func(t *testing.T) {
		configs, err := toTransitionConfigs(map[string]any{
			"target":   "next",
			"cond":     "ready",
			"internal": true,
		})
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, []string{"next"}, configs[0].Target)
		assert.True(t, configs[0].Internal)
	})

	t.Run("unknown mapping field rejected", func(t *testing.T) {
		_, err := toTransitionConfigs(map[string]any{"goto": "next"})
		require.Error(t, err)
	})

	t.Run("nil marks the event handled without effect", func(t *testing.T) {
		configs, err := toTransitionConfigs(nil)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Empty(t, configs[0].Target)
	})
}

func TestConfig_ValidationFailures(t *testing.T) {
	t.Run("compound without initial", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Initial: "a",
				States: map[string]*StateConfig{
					"a": {States: map[string]*StateConfig{"x": {}}},
				},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "initial child")
	})

	t.Run("initial names a missing child", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Initial: "ghost",
				States:  map[string]*StateConfig{"a": {}},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("parallel with initial", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Type:    "parallel",
				Initial: "A",
				States: map[string]*StateConfig{
					"A": {Initial: "a", States: map[string]*StateConfig{"a": {}}},
				},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Initial: "a",
				States: map[string]*StateConfig{
					"a": {ID: "same"},
					"b": {ID: "same"},
				},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("unresolvable target", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Initial: "a",
				States: map[string]*StateConfig{
					"a": {On: map[string]any{"GO": "nowhere"}},
				},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), "cannot be resolved")
	})

	t.Run("history with children", func(t *testing.T) {
		_, err := Machine(&MachineConfig{
			Key: "m",
			StateConfig: StateConfig{
				Initial: "a",
				States: map[string]*StateConfig{
					"a": {},
					"h": {Type: "history", States: map[string]*StateConfig{"x": {}}},
				},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("machine without states", func(t *testing.T) {
		_, err := Machine(&MachineConfig{Key: "m"})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}

func TestConfig_ParseDelay(t *testing.T) {
	ms, name := parseDelay("1500")
	assert.Equal(t, 1500, ms)
	assert.Empty(t, name)

	ms, name = parseDelay("LONG_WAIT")
	assert.Zero(t, ms)
	assert.Equal(t, "LONG_WAIT", name)
}

func TestConfig_AbsoluteAndRelativeTargets(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "outer",
			States: map[string]*StateConfig{
				"outer": {
					Initial: "inner",
					States: map[string]*StateConfig{
						"inner": {On: map[string]any{
							"JUMP":  "#m.other",
							"LOCAL": ".leaf",
						}, States: map[string]*StateConfig{"leaf": {}}, Initial: "leaf"},
					},
				},
				"other": {},
			},
		},
	})

	st, err := machine.Transition(map[string]StateValue{"outer": map[string]StateValue{"inner": "leaf"}}, "JUMP")
	require.NoError(t, err)
	AssertValue(t, st, "other")

	st, err = machine.Transition(map[string]StateValue{"outer": map[string]StateValue{"inner": "leaf"}}, "LOCAL")
	require.NoError(t, err)
	AssertValue(t, st, map[string]StateValue{"outer": map[string]StateValue{"inner": "leaf"}})
}
