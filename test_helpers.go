package xstate

import "testing"

// Shared machine fixtures used across the package tests.

// mustMachine builds a machine and panics on configuration errors;
// fixtures are known-good definitions.
func mustMachine(config *MachineConfig, options ...Options) *StateMachine {
	m, err := Machine(config, options...)
	if err != nil {
		panic(err)
	}
	return m
}

// newTrafficLightConfig is the three-state light: green -> yellow ->
// red -> green on TIMER.
func newTrafficLightConfig() *MachineConfig {
	return &MachineConfig{
		Key: "light",
		StateConfig: StateConfig{
			Initial: "green",
			States: map[string]*StateConfig{
				"green":  {On: map[string]any{"TIMER": "yellow"}},
				"yellow": {On: map[string]any{"TIMER": "red"}},
				"red":    {On: map[string]any{"TIMER": "green"}},
			},
		},
	}
}

// newHierarchicalLightConfig expands red into a pedestrian sub-machine.
func newHierarchicalLightConfig() *MachineConfig {
	config := newTrafficLightConfig()
	config.States["red"] = &StateConfig{
		Initial: "walk",
		On:      map[string]any{"TIMER": "green"},
		States: map[string]*StateConfig{
			"walk": {On: map[string]any{"PED": "wait"}},
			"wait": {On: map[string]any{"PED": "stop"}},
			"stop": {},
		},
	}
	return config
}

// newDoorConfig is the guarded fork: OPEN reaches opened for admins and
// the in-closed error child otherwise.
func newDoorConfig() *MachineConfig {
	return &MachineConfig{
		Key:     "door",
		Context: Context{"isAdmin": false},
		StateConfig: StateConfig{
			Initial: "closed",
			States: map[string]*StateConfig{
				"closed": {
					Initial: "idle",
					States: map[string]*StateConfig{
						"idle":  {},
						"error": {},
					},
					On: map[string]any{
						"OPEN": []TransitionConfig{
							{Target: []string{"opened"}, Cond: Cond(func(ctx Context, _ Event) bool {
								return ctx.GetBool("isAdmin")
							})},
							{Target: []string{".error"}},
						},
					},
				},
				"opened": {On: map[string]any{"CLOSE": "closed"}},
			},
		},
	}
}

// newParallelConfig is the two-region orthogonal machine of independent
// X and Y events.
func newParallelConfig() *MachineConfig {
	return &MachineConfig{
		Key: "ortho",
		StateConfig: StateConfig{
			Type: "parallel",
			States: map[string]*StateConfig{
				"A": {
					Initial: "a1",
					States: map[string]*StateConfig{
						"a1": {On: map[string]any{"X": "a2"}},
						"a2": {},
					},
				},
				"B": {
					Initial: "b1",
					States: map[string]*StateConfig{
						"b1": {On: map[string]any{"Y": "b2"}},
						"b2": {},
					},
				},
			},
		},
	}
}

// newHistoryLightConfig is the shallow-history machine: leave A for F,
// return via A.$history.
func newHistoryLightConfig() *MachineConfig {
	return &MachineConfig{
		Key: "hist",
		StateConfig: StateConfig{
			Initial: "A",
			States: map[string]*StateConfig{
				"A": {
					Initial: "B",
					On:      map[string]any{"OUT": "F"},
					States: map[string]*StateConfig{
						"B": {On: map[string]any{"ONE": "C"}},
						"C": {On: map[string]any{"TWO": "D"}},
						"D": {},
					},
				},
				"F": {On: map[string]any{"BACK": "A.$history"}},
			},
		},
	}
}

// newCounterConfig is the transient-chain machine: INC assigns count+1,
// and a null-event transition guarded on count fires the third time.
func newCounterConfig() *MachineConfig {
	return &MachineConfig{
		Key:     "counter",
		Context: Context{"count": 0},
		StateConfig: StateConfig{
			Initial: "counting",
			States: map[string]*StateConfig{
				"counting": {
					On: map[string]any{
						"INC": TransitionConfig{Actions: Assign(func(ctx Context, _ Event) Context {
							return ctx.With("count", ctx.GetInt("count")+1)
						})},
						"": TransitionConfig{
							Target: []string{"finished"},
							Cond: Cond(func(ctx Context, _ Event) bool {
								return ctx.GetInt("count") == 3
							}),
						},
					},
				},
				"finished": {},
			},
		},
	}
}

// recordingLogger captures diagnostic output for assertions.
type recordingLogger struct {
	Logs  []LogEntry
	Warns []string
}

// LogEntry is one captured log action.
type LogEntry struct {
	Label string
	Value any
}

func (l *recordingLogger) Log(label string, value any) {
	l.Logs = append(l.Logs, LogEntry{Label: label, Value: value})
}

func (l *recordingLogger) Warn(format string, args ...any) {
	l.Warns = append(l.Warns, format)
}

// AssertValue checks that a state's value structurally equals the
// expected one.
func AssertValue(t *testing.T, st *State, expected StateValue) {
	t.Helper()
	if !ValueEquals(st.Value, ToStateValue(expected, DefaultDelimiter)) {
		t.Errorf("expected value %v, got %v", expected, st.Value)
	}
}

// AssertChanged checks a state's changed flag.
func AssertChanged(t *testing.T, st *State, expected bool) {
	t.Helper()
	if st.Changed != expected {
		t.Errorf("expected changed=%v, got %v", expected, st.Changed)
	}
}

// actionTypes projects the type names of a resolved action list.
func actionTypes(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}
