package xstate

import "encoding/json"

// State is the immutable result of one Transition call: the active
// state value, the extended context after assigns, the ordered action
// list left for the host to execute, the running-activity map, the
// active configuration, the history snapshot, and the event that
// produced it. A State is never mutated after it is returned.
type State struct {
	// Value is the active state value
	Value StateValue
	// Context is the extended state after all assigns of the step
	Context Context
	// Actions are the resolved side effects, in execution order.
	// Assigns and raises are consumed by the engine and do not appear.
	Actions []Action
	// Activities maps activity keys to whether they are running
	Activities map[string]bool
	// Configuration is the set of active nodes in document order
	Configuration []*StateNode
	// History is the recorded-subtree snapshot
	History HistoryValue
	// Event produced this state
	Event Event
	// Previous links to the prior state; the chain is truncated to one
	// level to keep states from retaining their whole lineage
	Previous *State
	// Changed reports whether an assign ran or the value structurally
	// differs from the input state's; an action-only transition without
	// an assign leaves it false
	Changed bool
	// Done reports whether the machine reached its top-level final
	// condition
	Done bool
}

// Matches reports whether the given value (dotted path, nested mapping)
// is a prefix of the state's active value.
func (s *State) Matches(value any) bool {
	delimiter := DefaultDelimiter
	if len(s.Configuration) > 0 {
		delimiter = s.Configuration[0].delimiter()
	}
	return MatchesState(value, s.Value, delimiter)
}

// Strings returns the active leaf paths joined by the machine delimiter.
func (s *State) Strings() []string {
	delimiter := DefaultDelimiter
	if len(s.Configuration) > 0 {
		delimiter = s.Configuration[0].delimiter()
	}
	return ToStrings(s.Value, delimiter)
}

// ActivityRunning reports whether the activity with the given key is
// marked running.
func (s *State) ActivityRunning(key string) bool {
	return s.Activities[key]
}

// truncate cuts the previous-state chain to one level without touching
// the caller's state: the link is replaced by a copy with no previous.
func (s *State) truncate() *State {
	if s.Previous != nil && s.Previous.Previous != nil {
		previous := *s.Previous
		previous.Previous = nil
		s.Previous = &previous
	}
	return s
}

// stateJSON is the serialized form of a State.
type stateJSON struct {
	Value      StateValue      `json:"value"`
	Context    Context         `json:"context,omitempty"`
	Activities map[string]bool `json:"activities,omitempty"`
	Event      Event           `json:"event"`
	Changed    bool            `json:"changed"`
	Done       bool            `json:"done"`
}

// MarshalJSON serializes the externally meaningful parts of the state:
// value, context, activities, event and the changed/done flags.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Value:      s.Value,
		Context:    s.Context,
		Activities: s.Activities,
		Event:      s.Event,
		Changed:    s.Changed,
		Done:       s.Done,
	})
}
