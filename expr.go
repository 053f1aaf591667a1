package xstate

import (
	"fmt"

	"github.com/dop251/goja"
)

// exprProgram is a compiled expression-language snippet. Expressions
// are ECMAScript 5.1 and see two globals: "ctx", the extended context,
// and "event", a {type, data} record.
type exprProgram struct {
	src  string
	prog *goja.Program
}

// compileExpr compiles an expression once; the program is reused across
// evaluations.
func compileExpr(src string) (*exprProgram, error) {
	prog, err := goja.Compile("expr", "("+src+")", true)
	if err != nil {
		return nil, fmt.Errorf("bad expression '%s': %w", src, err)
	}
	return &exprProgram{src: src, prog: prog}, nil
}

// eval runs the expression against (context, event) in a fresh runtime.
func (p *exprProgram) eval(ctx Context, evt Event) (goja.Value, error) {
	vm := goja.New()
	if err := vm.Set("ctx", map[string]any(ctx)); err != nil {
		return nil, err
	}
	if err := vm.Set("event", map[string]any{"type": evt.Type, "data": evt.Data}); err != nil {
		return nil, err
	}
	value, err := vm.RunProgram(p.prog)
	if err != nil {
		return nil, fmt.Errorf("expression '%s': %w", p.src, err)
	}
	return value, nil
}

// CondExpr creates a guard from an expression string, e.g.
// "ctx.count === 3". The expression is compiled on first evaluation and
// judged by ECMAScript truthiness.
func CondExpr(src string) *Guard {
	return &Guard{Kind: GuardExpr, Name: src}
}

// evalExprBool evaluates an expression guard, compiling it on first use.
func (g *Guard) evalExprBool(ctx Context, evt Event) (bool, error) {
	if g.expr == nil {
		prog, err := compileExpr(g.Name)
		if err != nil {
			return false, err
		}
		g.expr = prog
	}
	value, err := g.expr.eval(ctx, evt)
	if err != nil {
		return false, err
	}
	return value.ToBoolean(), nil
}

// AssignExpr creates an assign action that sets a context key to the
// result of an expression, e.g. AssignExpr("count", "ctx.count + 1").
func AssignExpr(key, src string) Action {
	var prog *exprProgram
	return Assign(func(ctx Context, evt Event) Context {
		if prog == nil {
			p, err := compileExpr(src)
			if err != nil {
				panic(err)
			}
			prog = p
		}
		value, err := prog.eval(ctx, evt)
		if err != nil {
			panic(err)
		}
		return ctx.With(key, value.Export())
	})
}

// LogExpr creates a log action whose value is the result of an
// expression evaluated against (context, event).
func LogExpr(label, src string) Action {
	var prog *exprProgram
	return Log(label, func(ctx Context, evt Event) any {
		if prog == nil {
			p, err := compileExpr(src)
			if err != nil {
				panic(err)
			}
			prog = p
		}
		value, err := prog.eval(ctx, evt)
		if err != nil {
			panic(err)
		}
		return value.Export()
	})
}
