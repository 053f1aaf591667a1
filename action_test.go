package xstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_SendResolvedOntoActionList(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{
					"GO": TransitionConfig{
						Target: []string{"b"},
						Actions: Send("PING").
							WithTo("sibling").
							WithDelay(2 * time.Second).
							WithID("ping-1").
							WithPayload(func(ctx Context, evt Event) any {
								return map[string]any{"from": evt.Type}
							}),
					},
				}},
				"b": {},
			},
		},
	})

	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)

	send := st.Actions[0]
	assert.Equal(t, ActionTypeSend, send.Type)
	assert.Equal(t, "PING", send.Event.Type)
	assert.Equal(t, "sibling", send.To)
	assert.Equal(t, 2*time.Second, send.Delay)
	assert.Equal(t, "ping-1", send.ID)
	assert.Equal(t, map[string]any{"from": "GO"}, send.Event.Data)
}

func TestAction_NamedDelayResolvedFromRegistry(t *testing.T) {
	config := &MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{
					"GO": TransitionConfig{Actions: Send("PING").WithDelayName("short")},
				}},
			},
		},
	}

	machine := mustMachine(config, Options{Delays: map[string]any{"short": 250 * time.Millisecond}})
	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	assert.Equal(t, 250*time.Millisecond, st.Actions[0].Delay)

	t.Run("delay function sees context and event", func(t *testing.T) {
		machine := mustMachine(config, Options{Delays: map[string]any{
			"short": func(ctx Context, _ Event) time.Duration {
				return time.Duration(ctx.GetInt("backoff")) * time.Millisecond
			},
		}})
		st, err := machine.WithContext(Context{"backoff": 40}).Transition("a", "GO")
		require.NoError(t, err)
		require.Len(t, st.Actions, 1)
		assert.Equal(t, 40*time.Millisecond, st.Actions[0].Delay)
	})

	t.Run("unknown delay fails the microstep", func(t *testing.T) {
		machine := mustMachine(config)
		_, err := machine.Transition("a", "GO")
		require.Error(t, err)
		require.True(t, IsRegistryError(err))
		assert.Equal(t, "delay", err.(*RegistryError).Registry)
	})
}

func TestAction_AfterLoweredToSendAndCancel(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "waiting",
			States: map[string]*StateConfig{
				"waiting": {
					After: map[string]any{"1000": "expired"},
					On:    map[string]any{"STOP": "idle"},
				},
				"expired": {},
				"idle":    {},
			},
		},
	})

	// Entering the state schedules the delayed send.
	st, err := machine.InitialState()
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	send := st.Actions[0]
	assert.Equal(t, ActionTypeSend, send.Type)
	assert.Equal(t, time.Second, send.Delay)
	expectedEvent := "after(1000)#m.waiting"
	assert.Equal(t, expectedEvent, send.Event.Type)
	assert.Equal(t, expectedEvent, send.ID)

	// The runtime feeding the event back drives the lowered transition.
	st2, err := machine.Transition(st, expectedEvent)
	require.NoError(t, err)
	AssertValue(t, st2, "expired")

	// Leaving the state pairs the send with a cancel.
	st3, err := machine.Transition(st, "STOP")
	require.NoError(t, err)
	var cancels []Action
	for _, a := range st3.Actions {
		if a.Kind == ActionCancel {
			cancels = append(cancels, a)
		}
	}
	require.Len(t, cancels, 1)
	assert.Equal(t, expectedEvent, cancels[0].SendID)
}

func TestAction_ActivitiesStartAndStop(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "player",
		StateConfig: StateConfig{
			Initial: "paused",
			States: map[string]*StateConfig{
				"paused":  {On: map[string]any{"PLAY": "playing"}},
				"playing": {Activities: []any{"beeping"}, On: map[string]any{"PAUSE": "paused"}},
			},
		},
	})

	st, err := machine.Transition("paused", "PLAY")
	require.NoError(t, err)
	assert.True(t, st.ActivityRunning("beeping"))
	require.Len(t, st.Actions, 1)
	assert.Equal(t, ActionStart, st.Actions[0].Kind)
	assert.Equal(t, "beeping", st.Actions[0].Activity.Type)

	st, err = machine.Transition(st, "PAUSE")
	require.NoError(t, err)
	assert.False(t, st.ActivityRunning("beeping"))
	require.Len(t, st.Actions, 1)
	assert.Equal(t, ActionStop, st.Actions[0].Kind)
}

func TestAction_InvokeLoweredToActivityAndTransitions(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "loading",
			States: map[string]*StateConfig{
				"loading": {
					Invoke: []InvokeConfig{{
						ID:      "fetch-user",
						Src:     "fetchUser",
						OnDone:  "ready",
						OnError: "failed",
					}},
				},
				"ready":  {},
				"failed": {},
			},
		},
	}, Options{Services: map[string]any{"fetchUser": func() {}}})

	st, err := machine.InitialState()
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	start := st.Actions[0]
	assert.Equal(t, ActionStart, start.Kind)
	assert.Equal(t, "fetchUser", start.Activity.Src)
	assert.Equal(t, "fetch-user", start.Activity.ID)
	assert.True(t, st.ActivityRunning("fetch-user"))

	done, err := machine.Transition(st, doneInvokeEvent("fetch-user"))
	require.NoError(t, err)
	AssertValue(t, done, "ready")
	assert.False(t, done.ActivityRunning("fetch-user"))

	failed, err := machine.Transition(st, errorInvokeEvent("fetch-user"))
	require.NoError(t, err)
	AssertValue(t, failed, "failed")
}

func TestAction_UnknownServiceFailsStart(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "loading",
			States: map[string]*StateConfig{
				"loading": {Invoke: []InvokeConfig{{ID: "job", Src: "missing"}}},
			},
		},
	}, Options{Services: map[string]any{"other": func() {}}})

	_, err := machine.InitialState()
	require.Error(t, err)
	require.True(t, IsRegistryError(err))
	assert.Equal(t, "service", err.(*RegistryError).Registry)
}

func TestAction_PureExpandsRecursively(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key:     "m",
		Context: Context{"n": 2},
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{
					"GO": TransitionConfig{Actions: Pure(func(ctx Context, _ Event) []Action {
						out := make([]Action, 0, ctx.GetInt("n"))
						for i := 0; i < ctx.GetInt("n"); i++ {
							out = append(out, Custom("notify"))
						}
						return out
					})},
				}},
			},
		},
	})

	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)
	assert.Equal(t, []string{"notify", "notify"}, actionTypes(st.Actions))
}

func TestAction_LogForwardedToSink(t *testing.T) {
	logger := &recordingLogger{}
	machine := mustMachine(&MachineConfig{
		Key:     "m",
		Context: Context{"count": 7},
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{
					"GO": TransitionConfig{Actions: Log("counter", func(ctx Context, _ Event) any {
						return ctx.GetInt("count")
					})},
				}},
			},
		},
	}, Options{Logger: logger})

	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)

	require.Len(t, logger.Logs, 1)
	assert.Equal(t, "counter", logger.Logs[0].Label)
	assert.Equal(t, 7, logger.Logs[0].Value)
	require.Len(t, st.Actions, 1)
	assert.Equal(t, 7, st.Actions[0].Value)
}

func TestAction_NamedResolvedFromRegistry(t *testing.T) {
	ran := false
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{"GO": TransitionConfig{Actions: "notify"}}},
			},
		},
	}, Options{Actions: map[string]ActionFunc{
		"notify": func(Context, Event) { ran = true },
	}})

	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	require.NotNil(t, st.Actions[0].Exec)

	st.Actions[0].Exec(st.Context, st.Event)
	assert.True(t, ran)
}

func TestAction_UnknownTypeForwardedWithWarning(t *testing.T) {
	logger := &recordingLogger{}
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{"GO": TransitionConfig{Actions: "mystery"}}},
			},
		},
	}, Options{Logger: logger})

	st, err := machine.Transition("a", "GO")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	assert.Equal(t, "mystery", st.Actions[0].Type)
	assert.Nil(t, st.Actions[0].Exec)
	assert.NotEmpty(t, logger.Warns)
}

func TestAction_AssignPanicSurfacesAsEvalError(t *testing.T) {
	machine := mustMachine(&MachineConfig{
		Key: "m",
		StateConfig: StateConfig{
			Initial: "a",
			States: map[string]*StateConfig{
				"a": {On: map[string]any{
					"GO": TransitionConfig{Actions: Assign(func(Context, Event) Context {
						panic("bad assign")
					})},
				}},
			},
		},
	})

	_, err := machine.Transition("a", "GO")
	require.Error(t, err)
	require.True(t, IsEvalError(err))
	evalErr := err.(*EvalError)
	assert.Equal(t, StageAssign, evalErr.Stage)
	assert.Equal(t, "m.a", evalErr.StateID)
	assert.Equal(t, "GO", evalErr.EventType)
}
