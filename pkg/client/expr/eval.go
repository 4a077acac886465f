package expr

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Scope supplies the values an expression can see: signal lookups,
// context variables (event, el), and callable helpers.
type Scope struct {
	// Signal resolves `$name`. A nil func resolves every signal to nil.
	Signal func(name string) any

	// Vars resolves bare identifiers.
	Vars map[string]any

	// Funcs resolves call targets named by bare identifiers.
	Funcs map[string]func(args []any) any
}

// Program is a compiled expression.
type Program struct {
	src  string
	root Node
	refs []string
}

// evalPanic carries an evaluation failure through the interpreter.
type evalPanic struct{ err error }

// Compile parses src into a reusable program. Programs are immutable
// and safe for concurrent evaluation.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root, refs: collectRefs(root)}, nil
}

// Cache memoizes compilation by source text.
type Cache struct {
	mu       sync.Mutex
	programs map[string]*Program
}

// NewCache creates an empty program cache.
func NewCache() *Cache {
	return &Cache{programs: make(map[string]*Program)}
}

// Compile returns the cached program for src, compiling on first use.
func (c *Cache) Compile(src string) (*Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	c.programs[src] = p
	return p, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

// Refs returns the signal names the expression reads, used for
// dependency subscription.
func (p *Program) Refs() []string { return p.refs }

// Eval interprets the program. Failures are contained: the error
// return is the only way out, never a panic.
func (p *Program) Eval(scope *Scope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ep, ok := r.(evalPanic); ok {
				err = ep.err
				return
			}
			err = fmt.Errorf("expr: eval %q: %v", p.src, r)
		}
	}()
	if scope == nil {
		scope = &Scope{}
	}
	return eval(p.root, scope), nil
}

func fail(format string, args ...any) {
	panic(evalPanic{err: fmt.Errorf("expr: "+format, args...)})
}

func eval(n Node, scope *Scope) any {
	switch n := n.(type) {
	case *Literal:
		return n.Value

	case *SignalRef:
		if scope.Signal == nil {
			return nil
		}
		return scope.Signal(n.Name)

	case *VarRef:
		if v, ok := scope.Vars[n.Name]; ok {
			return v
		}
		if fn, ok := scope.Funcs[n.Name]; ok {
			return fn
		}
		return nil

	case *Unary:
		x := eval(n.X, scope)
		switch n.Op {
		case "!":
			return !Truthy(x)
		case "-":
			return -toNumber(x)
		}
		fail("unknown unary operator %q", n.Op)

	case *Binary:
		return evalBinary(n, scope)

	case *Ternary:
		if Truthy(eval(n.Cond, scope)) {
			return eval(n.Then, scope)
		}
		return eval(n.Else, scope)

	case *Call:
		fn := eval(n.Fn, scope)
		callable, ok := fn.(func(args []any) any)
		if !ok {
			fail("call of non-function")
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			args[i] = eval(a, scope)
		}
		return callable(args)

	case *Member:
		x := eval(n.X, scope)
		m, ok := x.(map[string]any)
		if !ok {
			fail("member access on non-object")
		}
		return m[n.Name]

	case *Index:
		x := eval(n.X, scope)
		i := eval(n.I, scope)
		switch v := x.(type) {
		case []any:
			idx := int(toNumber(i))
			if idx < 0 || idx >= len(v) {
				fail("index %d out of range", idx)
			}
			return v[idx]
		case map[string]any:
			return v[toString(i)]
		default:
			fail("index of non-indexable")
		}
	}
	fail("unknown node %T", n)
	return nil
}

func evalBinary(n *Binary, scope *Scope) any {
	// Short-circuit logical operators before evaluating the right side.
	switch n.Op {
	case "&&":
		l := eval(n.L, scope)
		if !Truthy(l) {
			return l
		}
		return eval(n.R, scope)
	case "||":
		l := eval(n.L, scope)
		if Truthy(l) {
			return l
		}
		return eval(n.R, scope)
	}

	l := eval(n.L, scope)
	r := eval(n.R, scope)

	switch n.Op {
	case "+":
		if ls, ok := l.(string); ok {
			return ls + toString(r)
		}
		if rs, ok := r.(string); ok {
			return toString(l) + rs
		}
		return toNumber(l) + toNumber(r)
	case "-":
		return toNumber(l) - toNumber(r)
	case "*":
		return toNumber(l) * toNumber(r)
	case "/":
		d := toNumber(r)
		if d == 0 {
			fail("division by zero")
		}
		return toNumber(l) / d
	case "%":
		d := toNumber(r)
		if d == 0 {
			fail("division by zero")
		}
		return math.Mod(toNumber(l), d)
	case "==", "===":
		return looseEqual(l, r)
	case "!=", "!==":
		return !looseEqual(l, r)
	case "<":
		return toNumber(l) < toNumber(r)
	case "<=":
		return toNumber(l) <= toNumber(r)
	case ">":
		return toNumber(l) > toNumber(r)
	case ">=":
		return toNumber(l) >= toNumber(r)
	}
	fail("unknown operator %q", n.Op)
	return nil
}

// Truthy follows the conventions client templates expect: nil, false,
// zero, and "" are false, everything else true.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

func toNumber(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err != nil {
			fail("cannot convert %q to number", v)
		}
		return f
	case nil:
		return 0
	default:
		fail("cannot convert %T to number", v)
		return 0
	}
}

func toString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToString renders an evaluated value for text interpolation.
func ToString(v any) string { return toString(v) }

func looseEqual(l, r any) bool {
	if l == nil && r == nil {
		return true
	}
	if lb, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			return lb == rb
		}
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return ls == rs
		}
	}
	// Numeric comparison covers mixed int/float64 pairs.
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if lok && rok {
		return lf == rf
	}
	return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r)
}

func numeric(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func collectRefs(n Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *SignalRef:
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
		case *Unary:
			walk(n.X)
		case *Binary:
			walk(n.L)
			walk(n.R)
		case *Ternary:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		case *Call:
			walk(n.Fn)
			for _, a := range n.Args {
				walk(a)
			}
		case *Member:
			walk(n.X)
		case *Index:
			walk(n.X)
			walk(n.I)
		}
	}
	walk(n)
	return out
}
