package function

import (
	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// NodeTypes holds the inferred value type of every node in a function,
// given the types of its parameters.
type NodeTypes struct {
	types map[Node]engine.ValueType
}

// NewNodeTypes infers types bottom-up. Parameters without a type in inputs
// are treated as any. Lambda bodies are not typed.
func NewNodeTypes(f *Function, inputs []engine.ValueType) *NodeTypes {
	nt := &NodeTypes{types: make(map[Node]engine.ValueType)}
	if f.root != nil {
		nt.resolve(f.root, inputs)
	}
	return nt
}

// Get returns the type of n, or any if n was not typed.
func (nt *NodeTypes) Get(n Node) engine.ValueType {
	if nt == nil {
		return engine.AnyType()
	}
	if t, ok := nt.types[n]; ok {
		return t
	}
	return engine.AnyType()
}

// AllTypesKnown reports whether no node resolved to any or error.
func (nt *NodeTypes) AllTypesKnown() bool {
	if nt == nil || len(nt.types) == 0 {
		return false
	}
	for _, t := range nt.types {
		if t.IsAny() || t.IsError() {
			return false
		}
	}
	return true
}

func (nt *NodeTypes) resolve(n Node, inputs []engine.ValueType) engine.ValueType {
	children := n.Children()
	childTypes := make([]engine.ValueType, len(children))
	for i, child := range children {
		childTypes[i] = nt.resolve(child, inputs)
	}
	t := nt.infer(n, childTypes, inputs)
	nt.types[n] = t
	return t
}

func (nt *NodeTypes) infer(n Node, child []engine.ValueType, inputs []engine.ValueType) engine.ValueType {
	switch n := n.(type) {
	case *Number, *String:
		return engine.DoubleType()
	case *Symbol:
		if n.Idx < len(inputs) {
			return inputs[n.Idx]
		}
		return engine.AnyType()
	case *Neg, *Not, *TensorMap:
		return child[0]
	case *Binary, *TensorJoin:
		return engine.JoinTypes(child[0], child[1])
	case *Call:
		if len(child) == 1 {
			return child[0]
		}
		return engine.JoinTypes(child[0], child[1])
	case *If:
		switch {
		case child[0].IsError():
			return engine.ErrorType()
		case child[1].Equal(child[2]):
			return child[1]
		}
		return engine.AnyType()
	case *In:
		if child[0].IsError() {
			return engine.ErrorType()
		}
		return engine.DoubleType()
	case *TensorReduce:
		return child[0].Reduce(n.Dims)
	case *TensorRename:
		return child[0].Rename(n.From, n.To)
	case *TensorConcat:
		return engine.ConcatTypes(child[0], child[1], n.Dim)
	case *TensorLambda:
		return n.Type
	case *TensorLiteral:
		t, err := engine.ResolveSpecType(n.Spec)
		if err != nil {
			return engine.ErrorType()
		}
		return t
	}
	return engine.AnyType()
}
