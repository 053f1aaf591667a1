package xstate

import "fmt"

const (
	// NullEventType is the type of the eventless (transient) trigger.
	NullEventType = ""

	// WildcardEventType matches any non-null event type.
	WildcardEventType = "*"
)

// Event is a trigger for transitions. Type identifies the event; Data is
// an optional payload threaded through guards, assigns and actions.
type Event struct {
	Type string `json:"type" yaml:"type"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`

	// Origin is the event whose processing raised this one. It is set
	// only on internally raised events and exists for diagnostics.
	Origin *Event `json:"-" yaml:"-"`
}

// NewEvent creates a new event with the given type and payload
func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, Data: data}
}

// NullEvent returns the eventless trigger used for transient transitions.
func NullEvent() Event {
	return Event{Type: NullEventType}
}

// IsNull reports whether this is the eventless trigger.
func (e Event) IsNull() bool {
	return e.Type == NullEventType
}

func (e Event) String() string {
	if e.Data == nil {
		return e.Type
	}
	return fmt.Sprintf("%s(%v)", e.Type, e.Data)
}

// raised returns a copy of the event stamped with its originating event.
func (e Event) raised(origin Event) Event {
	e.Origin = &origin
	return e
}

// toEvent normalizes the accepted event forms: a bare type string, an
// Event value, or a *Event.
func toEvent(x any) (Event, error) {
	switch v := x.(type) {
	case Event:
		return v, nil
	case *Event:
		if v == nil {
			return Event{}, fmt.Errorf("nil event")
		}
		return *v, nil
	case string:
		return Event{Type: v}, nil
	case nil:
		return Event{}, fmt.Errorf("nil event")
	default:
		return Event{}, fmt.Errorf("cannot interpret %T as an event", x)
	}
}

// doneStateEvent names the event raised when a compound or parallel node
// is done, i.e. its active descendants reached final states.
func doneStateEvent(id string) string {
	return "done.state." + id
}

// doneInvokeEvent names the event raised by the runtime when an invoked
// service completes.
func doneInvokeEvent(id string) string {
	return "done.invoke." + id
}

// errorInvokeEvent names the event raised by the runtime when an invoked
// service fails.
func errorInvokeEvent(id string) string {
	return "error.invoke." + id
}

// afterEvent names the lowered event type for a delayed transition of the
// given node. The delay part is either a millisecond count or a named
// delay from the options registry.
func afterEvent(delay string, id string) string {
	return fmt.Sprintf("after(%s)#%s", delay, id)
}
