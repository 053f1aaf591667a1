package xstate

import "fmt"

// GuardKind tags the variants of a guard descriptor.
type GuardKind int

const (
	// GuardInline is a Go predicate supplied in the configuration
	GuardInline GuardKind = iota
	// GuardNamed is resolved against the options guard registry
	GuardNamed
	// GuardExpr is an expression-language predicate
	GuardExpr
)

// GuardFunc decides whether a transition may be taken.
type GuardFunc func(ctx Context, event Event) bool

// Guard is a tagged predicate descriptor attached to a transition.
type Guard struct {
	Kind GuardKind
	Name string
	Pred GuardFunc

	expr *exprProgram
}

// Cond creates an inline guard from a predicate.
func Cond(pred GuardFunc) *Guard {
	return &Guard{Kind: GuardInline, Pred: pred}
}

// CondNamed creates a guard resolved by name against the options guard
// registry at transition time.
func CondNamed(name string) *Guard {
	return &Guard{Kind: GuardNamed, Name: name}
}

func (g *Guard) String() string {
	switch g.Kind {
	case GuardNamed:
		return fmt.Sprintf("guard(%s)", g.Name)
	case GuardExpr:
		return fmt.Sprintf("guard(expr %s)", g.Name)
	}
	return "guard(inline)"
}

// toGuard canonicalizes the accepted guard forms: a *Guard, a Guard, an
// inline predicate, or a name string.
func toGuard(x any) (*Guard, error) {
	if x == nil {
		return nil, nil
	}
	switch v := x.(type) {
	case *Guard:
		return v, nil
	case Guard:
		return &v, nil
	case GuardFunc:
		return Cond(v), nil
	case func(Context, Event) bool:
		return Cond(v), nil
	case string:
		return CondNamed(v), nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as a guard", x)
	}
}
