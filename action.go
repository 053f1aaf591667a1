package xstate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind tags the variants of an action descriptor.
type ActionKind int

const (
	// ActionCustom is a host-interpreted action, either an inline
	// function or an opaque named type forwarded verbatim.
	ActionCustom ActionKind = iota
	// ActionAssign updates the extended context
	ActionAssign
	// ActionRaise queues an internal event
	ActionRaise
	// ActionSend emits an event to a target, optionally delayed
	ActionSend
	// ActionLog forwards an expression to the diagnostic sink
	ActionLog
	// ActionPure expands into a computed list of actions
	ActionPure
	// ActionStart marks an activity or invocation as running
	ActionStart
	// ActionStop marks an activity or invocation as stopped
	ActionStop
	// ActionCancel asks the runtime to cancel a scheduled send
	ActionCancel
)

// Canonical action type names.
const (
	ActionTypeAssign = "xstate.assign"
	ActionTypeRaise  = "xstate.raise"
	ActionTypeSend   = "xstate.send"
	ActionTypeLog    = "xstate.log"
	ActionTypePure   = "xstate.pure"
	ActionTypeStart  = "xstate.start"
	ActionTypeStop   = "xstate.stop"
	ActionTypeCancel = "xstate.cancel"
)

// TargetInternal is the send target that queues the event on the
// machine's own internal queue instead of emitting a side effect.
const TargetInternal = "internal"

// ActionFunc is a host-executed side effect. The engine never calls it;
// it is carried on the resolved action list for the runtime.
type ActionFunc func(ctx Context, event Event)

// Assigner computes the next extended context from the current one and
// the triggering event. It must not mutate its input.
type Assigner func(ctx Context, event Event) Context

// PayloadFunc computes a send/raise payload from context and event.
type PayloadFunc func(ctx Context, event Event) any

// PureFunc computes a list of actions from context and event.
type PureFunc func(ctx Context, event Event) []Action

// Activity describes a long-running worker tied to a state: started when
// the state is entered and stopped when it is exited. Src carries the
// service name for lowered invocations.
type Activity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Src  string `json:"src,omitempty"`
	Data any    `json:"data,omitempty"`
}

// key identifies the activity in the State activity map.
func (a *Activity) key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Type
}

// Action is a tagged side-effect descriptor. Constructors Assign, Raise,
// Send, Log, Pure, Start, Stop and Cancel build the engine-interpreted
// kinds; anything else rides through as ActionCustom.
type Action struct {
	// Type is the canonical or host-defined action name
	Type string
	// Kind selects the variant
	Kind ActionKind
	// Exec is the inline function of a custom action
	Exec ActionFunc

	// Event is the payload-resolved event of a send or raise
	Event Event
	// To is the send target: a machine/actor id or TargetInternal
	To string
	// Delay is the resolved send delay
	Delay time.Duration
	// DelayName is an unresolved named delay from the options registry
	DelayName string
	// ID identifies a send for later cancellation
	ID string
	// SendID is the id a cancel action refers to
	SendID string

	// Label and Value carry a resolved log line
	Label string
	Value any

	// Activity is the descriptor of a start/stop action
	Activity *Activity

	assigner Assigner
	payload  PayloadFunc
	pure     PureFunc
	valueFn  PayloadFunc
	owner    string
}

// Owner returns the id of the state node the action was declared on,
// when known.
func (a Action) Owner() string {
	return a.owner
}

// Assign creates an action that produces a new context from the current
// context and event. Assigns are evaluated eagerly during the microstep,
// before any other action of the step is handed to the host.
func Assign(fn Assigner) Action {
	return Action{Type: ActionTypeAssign, Kind: ActionAssign, assigner: fn}
}

// AssignValue creates an assign action that replaces a single key.
func AssignValue(key string, fn PayloadFunc) Action {
	return Assign(func(ctx Context, event Event) Context {
		return ctx.With(key, fn(ctx, event))
	})
}

// Raise creates an action that queues an event on the internal queue;
// it is processed before the next external event.
func Raise(event any) Action {
	evt, err := toEvent(event)
	if err != nil {
		evt = Event{Type: fmt.Sprintf("%v", event)}
	}
	return Action{Type: ActionTypeRaise, Kind: ActionRaise, Event: evt, To: TargetInternal}
}

// Send creates an action that emits an event to a target. Without a
// target the send addresses the machine itself and the runtime is
// expected to feed the event back in.
func Send(event any) Action {
	evt, err := toEvent(event)
	if err != nil {
		evt = Event{Type: fmt.Sprintf("%v", event)}
	}
	return Action{Type: ActionTypeSend, Kind: ActionSend, Event: evt}
}

// WithTo sets the send target.
func (a Action) WithTo(target string) Action {
	a.To = target
	return a
}

// WithDelay sets a literal send delay.
func (a Action) WithDelay(d time.Duration) Action {
	a.Delay = d
	return a
}

// WithDelayName sets a named delay resolved against the options registry
// at transition time.
func (a Action) WithDelayName(name string) Action {
	a.DelayName = name
	return a
}

// WithID sets the send id used by Cancel.
func (a Action) WithID(id string) Action {
	a.ID = id
	return a
}

// WithPayload sets a payload function evaluated against (context, event)
// when the send or raise is resolved.
func (a Action) WithPayload(fn PayloadFunc) Action {
	a.payload = fn
	return a
}

// Log creates an action that evaluates an expression and forwards the
// labelled value to the diagnostic sink.
func Log(label string, fn PayloadFunc) Action {
	return Action{Type: ActionTypeLog, Kind: ActionLog, Label: label, valueFn: fn}
}

// LogValue creates a log action with a literal value.
func LogValue(label string, value any) Action {
	return Action{Type: ActionTypeLog, Kind: ActionLog, Label: label, Value: value}
}

// Pure creates an action whose resolution expands into the returned
// action list, each of which is resolved recursively.
func Pure(fn PureFunc) Action {
	return Action{Type: ActionTypePure, Kind: ActionPure, pure: fn}
}

// Start creates an action that marks an activity as running and tells
// the runtime to create the worker.
func Start(activity *Activity) Action {
	return Action{Type: ActionTypeStart, Kind: ActionStart, Activity: activity}
}

// Stop creates an action that marks an activity as stopped and tells
// the runtime to dispose the worker.
func Stop(activity *Activity) Action {
	return Action{Type: ActionTypeStop, Kind: ActionStop, Activity: activity}
}

// Cancel creates an action instructing the runtime to cancel the
// scheduled send with the given id.
func Cancel(sendID string) Action {
	return Action{Type: ActionTypeCancel, Kind: ActionCancel, SendID: sendID}
}

// Custom creates a named host-interpreted action.
func Custom(actionType string) Action {
	return Action{Type: actionType, Kind: ActionCustom}
}

// Do creates an inline custom action carried to the host as a function.
func Do(actionType string, fn ActionFunc) Action {
	return Action{Type: actionType, Kind: ActionCustom, Exec: fn}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSend:
		return fmt.Sprintf("%s(%s to=%s)", a.Type, a.Event.Type, a.To)
	case ActionRaise:
		return fmt.Sprintf("%s(%s)", a.Type, a.Event.Type)
	case ActionLog:
		return fmt.Sprintf("%s(%s)", a.Type, a.Label)
	case ActionStart, ActionStop:
		if a.Activity != nil {
			return fmt.Sprintf("%s(%s)", a.Type, a.Activity.key())
		}
	}
	return a.Type
}

// newActivity canonicalizes the accepted activity forms: a name string,
// an Activity value, or a pointer.
func newActivity(x any) (*Activity, error) {
	switch v := x.(type) {
	case *Activity:
		if v.ID == "" {
			v.ID = v.Type
		}
		return v, nil
	case Activity:
		if v.ID == "" {
			v.ID = v.Type
		}
		return &v, nil
	case string:
		return &Activity{Type: v, ID: v}, nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as an activity", x)
	}
}

// newInvocationID generates an id for an invocation declared without one.
func newInvocationID() string {
	return uuid.New().String()
}

// toActions canonicalizes the accepted action forms of entry/exit and
// transition declarations: a single Action, a name string, an inline
// ActionFunc, or a list of any of those.
func toActions(x any) ([]Action, error) {
	if x == nil {
		return nil, nil
	}
	switch v := x.(type) {
	case Action:
		return []Action{v}, nil
	case []Action:
		return v, nil
	case string:
		return []Action{Custom(v)}, nil
	case ActionFunc:
		return []Action{Do("", v)}, nil
	case func(Context, Event):
		return []Action{Do("", v)}, nil
	case []any:
		var out []Action
		for _, item := range v {
			actions, err := toActions(item)
			if err != nil {
				return nil, err
			}
			out = append(out, actions...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as an action", x)
	}
}
