// Package expr compiles the small attribute-embedded expression
// language used by declarative directives: `$name` references signals,
// `event` and `el` reference the firing event and element, and the
// usual literals and operators compose them.
//
// Expressions compile to an explicit AST and are interpreted; there is
// no general-purpose code evaluator behind them, which keeps
// sandboxing tractable. A throwing expression logs and yields a no-op,
// never a crash of the surrounding render loop.
package expr

// Node is one AST node.
type Node interface {
	node()
}

// Literal is a number, string, bool, or null constant.
type Literal struct {
	Value any
}

// SignalRef is `$name`.
type SignalRef struct {
	Name string
}

// VarRef is a bare identifier resolved against the evaluation scope
// (event, el, context helpers).
type VarRef struct {
	Name string
}

// Unary is `!x` or `-x`.
type Unary struct {
	Op string
	X  Node
}

// Binary is a two-operand operator.
type Binary struct {
	Op   string
	L, R Node
}

// Ternary is `cond ? a : b`.
type Ternary struct {
	Cond, Then, Else Node
}

// Call is `fn(args...)`.
type Call struct {
	Fn   Node
	Args []Node
}

// Member is `x.name`.
type Member struct {
	X    Node
	Name string
}

// Index is `x[i]`.
type Index struct {
	X, I Node
}

func (*Literal) node()   {}
func (*SignalRef) node() {}
func (*VarRef) node()    {}
func (*Unary) node()     {}
func (*Binary) node()    {}
func (*Ternary) node()   {}
func (*Call) node()      {}
func (*Member) node()    {}
func (*Index) node()     {}
