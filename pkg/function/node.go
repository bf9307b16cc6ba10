package function

import (
	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// Node is an expression tree node. The set of node types is closed; callers
// switch on the concrete type.
type Node interface {
	// Children lists the sub-expressions evaluated in the enclosing
	// function. Lambda bodies are not children.
	Children() []Node

	isNode()
}

type Number struct {
	Value float64
}

// String is a string constant; it evaluates to HashString(Value).
type String struct {
	Value string
}

// Symbol references a parameter of the enclosing function or lambda.
type Symbol struct {
	Idx int
}

type Neg struct {
	Child Node
}

type Not struct {
	Child Node
}

// Binary is an infix operator such as a+b.
type Binary struct {
	Op       engine.Operator
	LHS, RHS Node
}

// If selects between two expressions. PTrue is an optional hint of how
// likely the condition is to hold.
type If struct {
	Cond, True, False Node
	PTrue             float64
	HasPTrue          bool
}

// In tests a value against a list of constants.
type In struct {
	Child   Node
	Entries []Node
}

// Call invokes a builtin scalar function such as max(a,b).
type Call struct {
	Op   engine.Operator
	Args []Node
}

type TensorMap struct {
	Child  Node
	Lambda *Function
}

type TensorJoin struct {
	LHS, RHS Node
	Lambda   *Function
}

type TensorReduce struct {
	Child Node
	Aggr  engine.Aggr
	Dims  []string
}

type TensorRename struct {
	Child    Node
	From, To []string
}

type TensorConcat struct {
	LHS, RHS Node
	Dim      string
}

// TensorLambda builds a dense tensor by evaluating Lambda once per cell with
// the cell indexes as arguments, in dimension order.
type TensorLambda struct {
	Type   engine.ValueType
	Lambda *Function
}

type TensorLiteral struct {
	Spec *engine.TensorSpec
}

func (*Number) Children() []Node         { return nil }
func (*String) Children() []Node         { return nil }
func (*Symbol) Children() []Node         { return nil }
func (n *Neg) Children() []Node          { return []Node{n.Child} }
func (n *Not) Children() []Node          { return []Node{n.Child} }
func (n *Binary) Children() []Node       { return []Node{n.LHS, n.RHS} }
func (n *If) Children() []Node           { return []Node{n.Cond, n.True, n.False} }
func (n *In) Children() []Node           { return append([]Node{n.Child}, n.Entries...) }
func (n *Call) Children() []Node         { return n.Args }
func (n *TensorMap) Children() []Node    { return []Node{n.Child} }
func (n *TensorJoin) Children() []Node   { return []Node{n.LHS, n.RHS} }
func (n *TensorReduce) Children() []Node { return []Node{n.Child} }
func (n *TensorRename) Children() []Node { return []Node{n.Child} }
func (n *TensorConcat) Children() []Node { return []Node{n.LHS, n.RHS} }
func (*TensorLambda) Children() []Node   { return nil }
func (*TensorLiteral) Children() []Node  { return nil }

func (*Number) isNode()        {}
func (*String) isNode()        {}
func (*Symbol) isNode()        {}
func (*Neg) isNode()           {}
func (*Not) isNode()           {}
func (*Binary) isNode()        {}
func (*If) isNode()            {}
func (*In) isNode()            {}
func (*Call) isNode()          {}
func (*TensorMap) isNode()     {}
func (*TensorJoin) isNode()    {}
func (*TensorReduce) isNode()  {}
func (*TensorRename) isNode()  {}
func (*TensorConcat) isNode()  {}
func (*TensorLambda) isNode()  {}
func (*TensorLiteral) isNode() {}

// IsTensorOp reports nodes that only make sense on tensors.
func IsTensorOp(n Node) bool {
	switch n.(type) {
	case *TensorMap, *TensorJoin, *TensorReduce, *TensorRename, *TensorConcat, *TensorLambda, *TensorLiteral:
		return true
	}
	return false
}

// Walk calls visit for n and all its children, parents first.
func Walk(n Node, visit func(Node)) {
	visit(n)
	for _, child := range n.Children() {
		Walk(child, visit)
	}
}
