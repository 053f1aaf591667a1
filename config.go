package xstate

import (
	"fmt"
	"sort"
	"strconv"
)

// StateConfig is the declarative description of one state node. The
// zero value describes an atomic state with no behavior.
type StateConfig struct {
	// ID overrides the generated id (machineKey.parent.child)
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Type is one of "", atomic, compound, parallel, final, history.
	// When empty it is inferred: compound when States is non-empty,
	// atomic otherwise.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Initial names the child entered by default (compound only)
	Initial string `json:"initial,omitempty" yaml:"initial,omitempty"`
	// History selects shallow or deep recall (history nodes only)
	History string `json:"history,omitempty" yaml:"history,omitempty"`
	// Target is the default target of a history node
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// States maps child keys to their configurations
	States map[string]*StateConfig `json:"states,omitempty" yaml:"states,omitempty"`
	// On maps event types to a transition, a transition list, or a
	// bare target string
	On map[string]any `json:"on,omitempty" yaml:"on,omitempty"`
	// Entry and Exit are action descriptors or lists thereof
	Entry any `json:"entry,omitempty" yaml:"entry,omitempty"`
	Exit  any `json:"exit,omitempty" yaml:"exit,omitempty"`
	// Activities are started on entry and stopped on exit
	Activities []any `json:"activities,omitempty" yaml:"activities,omitempty"`
	// Invoke lists services started on entry and disposed on exit
	Invoke []InvokeConfig `json:"invoke,omitempty" yaml:"invoke,omitempty"`
	// After maps delays (millisecond literals or registry names) to
	// transitions; lowered into entry-scheduled sends and
	// exit-scheduled cancels
	After map[string]any `json:"after,omitempty" yaml:"after,omitempty"`
	// Meta is an arbitrary annotation surfaced on the node
	Meta any `json:"meta,omitempty" yaml:"meta,omitempty"`
	// Data is the done-event payload of a final state
	Data any `json:"data,omitempty" yaml:"data,omitempty"`
}

// TransitionConfig is the declarative description of one transition.
type TransitionConfig struct {
	// Target holds zero or more target paths; empty means a
	// self-targeted action-only transition
	Target []string `json:"target,omitempty" yaml:"target,omitempty"`
	// Cond is a guard: a *Guard, an inline predicate, or a registry name
	Cond any `json:"cond,omitempty" yaml:"cond,omitempty"`
	// Actions are executed between the exit and entry sets
	Actions any `json:"actions,omitempty" yaml:"actions,omitempty"`
	// In restricts the transition to configurations matching the value
	In any `json:"in,omitempty" yaml:"in,omitempty"`
	// Internal suppresses exit and re-entry of the source boundary
	Internal bool `json:"internal,omitempty" yaml:"internal,omitempty"`
}

// InvokeConfig describes a service invocation owned by a state node.
type InvokeConfig struct {
	// ID identifies the invocation; generated when empty
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Src names the service in the options registry
	Src string `json:"src" yaml:"src"`
	// Data is passed to the service on start
	Data any `json:"data,omitempty" yaml:"data,omitempty"`
	// OnDone and OnError are transitions taken when the service
	// completes or fails
	OnDone  any `json:"onDone,omitempty" yaml:"onDone,omitempty"`
	OnError any `json:"onError,omitempty" yaml:"onError,omitempty"`
}

// MachineConfig is the root state configuration plus machine-level
// options.
type MachineConfig struct {
	StateConfig `yaml:",inline"`
	// Key is the machine name used as the id prefix; defaults to
	// "machine"
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
	// Context is the initial extended state
	Context Context `json:"context,omitempty" yaml:"context,omitempty"`
	// Strict rejects events outside the machine alphabet
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
	// Delimiter separates id segments; defaults to "."
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// toTransitionConfigs canonicalizes the accepted transition forms for
// one event type: a bare target string, a TransitionConfig, a pointer,
// a list of any of those, or a decoded YAML/JSON mapping.
func toTransitionConfigs(x any) ([]TransitionConfig, error) {
	switch v := x.(type) {
	case nil:
		// An explicit nil maps the event to a targetless no-op, which
		// still marks it handled in strict mode.
		return []TransitionConfig{{}}, nil
	case string:
		return []TransitionConfig{{Target: []string{v}}}, nil
	case TransitionConfig:
		return []TransitionConfig{v}, nil
	case *TransitionConfig:
		return []TransitionConfig{*v}, nil
	case []TransitionConfig:
		return v, nil
	case []string:
		out := make([]TransitionConfig, len(v))
		for i, t := range v {
			out[i] = TransitionConfig{Target: []string{t}}
		}
		return out, nil
	case []any:
		var out []TransitionConfig
		for _, item := range v {
			configs, err := toTransitionConfigs(item)
			if err != nil {
				return nil, err
			}
			out = append(out, configs...)
		}
		return out, nil
	case map[string]any:
		tc, err := decodeTransitionMap(v)
		if err != nil {
			return nil, err
		}
		return []TransitionConfig{tc}, nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as a transition", x)
	}
}

// decodeTransitionMap converts a decoded YAML/JSON mapping into a
// TransitionConfig.
func decodeTransitionMap(m map[string]any) (TransitionConfig, error) {
	var tc TransitionConfig
	for key, value := range m {
		switch key {
		case "target":
			switch t := value.(type) {
			case string:
				tc.Target = []string{t}
			case []string:
				tc.Target = t
			case []any:
				for _, item := range t {
					s, ok := item.(string)
					if !ok {
						return tc, fmt.Errorf("transition target must be a string, got %T", item)
					}
					tc.Target = append(tc.Target, s)
				}
			default:
				return tc, fmt.Errorf("transition target must be a string or list, got %T", value)
			}
		case "cond":
			tc.Cond = value
		case "actions":
			tc.Actions = value
		case "in":
			tc.In = value
		case "internal":
			b, ok := value.(bool)
			if !ok {
				return tc, fmt.Errorf("transition internal must be a bool, got %T", value)
			}
			tc.Internal = b
		default:
			return tc, fmt.Errorf("unknown transition field '%s'", key)
		}
	}
	return tc, nil
}

// eventTypesInOrder returns the event types of an On mapping with typed
// events first and the wildcard last, each group sorted for determinism.
func eventTypesInOrder(on map[string]any) []string {
	typed := make([]string, 0, len(on))
	hasWildcard := false
	for eventType := range on {
		if eventType == WildcardEventType {
			hasWildcard = true
			continue
		}
		typed = append(typed, eventType)
	}
	sort.Strings(typed)
	if hasWildcard {
		typed = append(typed, WildcardEventType)
	}
	return typed
}

// parseDelay interprets an After key as a millisecond literal or a
// registry delay name.
func parseDelay(key string) (ms int, name string) {
	if n, err := strconv.Atoi(key); err == nil {
		return n, ""
	}
	return 0, key
}
