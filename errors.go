package xstate

import "fmt"

// ErrorCode represents specific error conditions in the statechart engine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// Machine configuration is invalid
	ErrCodeInvalidConfiguration
	// State was not found by id or path
	ErrCodeStateNotFound
	// A named guard, action, service, activity or delay is missing from the options registries
	ErrCodeUnknownReference
	// Transition target could not be resolved
	ErrCodeUnresolvableTarget
	// Event is not part of the machine alphabet while strict mode is on
	ErrCodeUnhandledEvent
	// Raised/null event chain exceeded the transient limit
	ErrCodeTransientLoop
	// User-supplied guard, assign or action code failed
	ErrCodeEvaluationFailed
)

// ConfigurationError reports an invalid machine definition detected at
// construction time: a compound node without an initial child, a duplicate
// id, an unresolvable target, or a transition crossing orthogonal regions.
type ConfigurationError struct {
	StateID string
	Issue   string
}

func (e *ConfigurationError) Error() string {
	if e.StateID == "" {
		return fmt.Sprintf("invalid machine configuration: %s", e.Issue)
	}
	return fmt.Sprintf("invalid configuration of state '%s': %s", e.StateID, e.Issue)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(stateID, issue string) *ConfigurationError {
	return &ConfigurationError{StateID: stateID, Issue: issue}
}

// StateError represents a failed state lookup
type StateError struct {
	Code    ErrorCode
	StateID string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error [%s]: %s", e.StateID, e.Message)
}

// NewStateNotFoundError creates a new state not found error
func NewStateNotFoundError(stateID string) *StateError {
	return &StateError{
		Code:    ErrCodeStateNotFound,
		StateID: stateID,
		Message: fmt.Sprintf("state '%s' not found", stateID),
	}
}

// RegistryError reports a name that could not be resolved against the
// options registries (guards, actions, services, activities, delays).
type RegistryError struct {
	Registry  string
	Name      string
	StateID   string
	EventType string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("unknown %s '%s' referenced by state '%s' on event '%s'",
		e.Registry, e.Name, e.StateID, e.EventType)
}

// NewRegistryError creates a new registry resolution error
func NewRegistryError(registry, name, stateID, eventType string) *RegistryError {
	return &RegistryError{Registry: registry, Name: name, StateID: stateID, EventType: eventType}
}

// TransitionError represents a failure while computing a transition
type TransitionError struct {
	Code      ErrorCode
	MachineID string
	StateID   string
	EventType string
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error in machine '%s' [state '%s', event '%s']: %s",
		e.MachineID, e.StateID, e.EventType, e.Reason)
}

// NewUnhandledEventError creates the strict-mode failure for an event
// outside the machine alphabet.
func NewUnhandledEventError(machineID, stateID, eventType string) *TransitionError {
	return &TransitionError{
		Code:      ErrCodeUnhandledEvent,
		MachineID: machineID,
		StateID:   stateID,
		EventType: eventType,
		Reason:    fmt.Sprintf("event '%s' is not handled by this machine (strict mode)", eventType),
	}
}

// NewTransientLoopError creates the failure for an unbounded raised/null
// event chain.
func NewTransientLoopError(machineID, stateID string, limit int) *TransitionError {
	return &TransitionError{
		Code:      ErrCodeTransientLoop,
		MachineID: machineID,
		StateID:   stateID,
		EventType: NullEventType,
		Reason:    fmt.Sprintf("raised/null event chain exceeded %d microsteps", limit),
	}
}

// NewUnresolvableTargetError creates the failure for a transition target
// that cannot be resolved against the state tree.
func NewUnresolvableTargetError(machineID, stateID, eventType, target string) *TransitionError {
	return &TransitionError{
		Code:      ErrCodeUnresolvableTarget,
		MachineID: machineID,
		StateID:   stateID,
		EventType: eventType,
		Reason:    fmt.Sprintf("target '%s' cannot be resolved", target),
	}
}

// EvalStage identifies which kind of user-supplied code failed
type EvalStage string

const (
	// StageGuard marks a guard predicate failure
	StageGuard EvalStage = "guard"
	// StageAssign marks an assigner failure
	StageAssign EvalStage = "assign"
	// StageAction marks an action resolution failure
	StageAction EvalStage = "action"
)

// EvalError wraps a failure raised by user-supplied guard, assign or
// action code, naming the state node and event type for diagnostics.
type EvalError struct {
	Stage     EvalStage
	MachineID string
	StateID   string
	EventType string
	Err       error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s failed in machine '%s' [state '%s', event '%s']: %v",
		e.Stage, e.MachineID, e.StateID, e.EventType, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// NewEvalError creates a new evaluation error
func NewEvalError(stage EvalStage, machineID, stateID, eventType string, err error) *EvalError {
	return &EvalError{Stage: stage, MachineID: machineID, StateID: stateID, EventType: eventType, Err: err}
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// IsStateError checks if an error is a StateError
func IsStateError(err error) bool {
	_, ok := err.(*StateError)
	return ok
}

// IsRegistryError checks if an error is a RegistryError
func IsRegistryError(err error) bool {
	_, ok := err.(*RegistryError)
	return ok
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	_, ok := err.(*TransitionError)
	return ok
}

// IsEvalError checks if an error is an EvalError
func IsEvalError(err error) bool {
	_, ok := err.(*EvalError)
	return ok
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ConfigurationError:
		return ErrCodeInvalidConfiguration
	case *StateError:
		return e.Code
	case *RegistryError:
		return ErrCodeUnknownReference
	case *TransitionError:
		return e.Code
	case *EvalError:
		return ErrCodeEvaluationFailed
	default:
		return ErrCodeNone
	}
}
