package function

import (
	"slices"
	"strconv"
	"strings"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// Dump renders the function as text that parses back to the same tree.
func (f *Function) Dump() string {
	if f.root == nil {
		return "[error]"
	}
	var b strings.Builder
	dumpNode(&b, f.root, f.params)
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func dumpLambda(b *strings.Builder, lambda *Function) {
	b.WriteString("f(")
	b.WriteString(strings.Join(lambda.params, ","))
	b.WriteString(")(")
	dumpNode(b, lambda.root, lambda.params)
	b.WriteString(")")
}

func dumpDims(b *strings.Builder, dims []string) {
	if len(dims) == 1 {
		b.WriteString(dims[0])
		return
	}
	b.WriteString("(")
	b.WriteString(strings.Join(dims, ","))
	b.WriteString(")")
}

func dumpNode(b *strings.Builder, n Node, params []string) {
	dump := func(child Node) { dumpNode(b, child, params) }
	switch n := n.(type) {
	case *Number:
		b.WriteString(formatNumber(n.Value))
	case *String:
		b.WriteString(strconv.Quote(n.Value))
	case *Symbol:
		b.WriteString(params[n.Idx])
	case *Neg:
		b.WriteString("-")
		dump(n.Child)
	case *Not:
		b.WriteString("!")
		dump(n.Child)
	case *Binary:
		b.WriteString("(")
		dump(n.LHS)
		b.WriteString(n.Op.String())
		dump(n.RHS)
		b.WriteString(")")
	case *If:
		b.WriteString("if(")
		dump(n.Cond)
		b.WriteString(",")
		dump(n.True)
		b.WriteString(",")
		dump(n.False)
		if n.HasPTrue {
			b.WriteString(",")
			b.WriteString(formatNumber(n.PTrue))
		}
		b.WriteString(")")
	case *In:
		b.WriteString("(")
		dump(n.Child)
		b.WriteString(" in [")
		for i, entry := range n.Entries {
			if i > 0 {
				b.WriteString(",")
			}
			dump(entry)
		}
		b.WriteString("])")
	case *Call:
		if n.Op == engine.OpPow {
			b.WriteString("pow")
		} else {
			b.WriteString(n.Op.String())
		}
		b.WriteString("(")
		for i, arg := range n.Args {
			if i > 0 {
				b.WriteString(",")
			}
			dump(arg)
		}
		b.WriteString(")")
	case *TensorMap:
		b.WriteString("map(")
		dump(n.Child)
		b.WriteString(",")
		dumpLambda(b, n.Lambda)
		b.WriteString(")")
	case *TensorJoin:
		b.WriteString("join(")
		dump(n.LHS)
		b.WriteString(",")
		dump(n.RHS)
		b.WriteString(",")
		dumpLambda(b, n.Lambda)
		b.WriteString(")")
	case *TensorReduce:
		b.WriteString("reduce(")
		dump(n.Child)
		b.WriteString(",")
		b.WriteString(n.Aggr.String())
		for _, dim := range n.Dims {
			b.WriteString(",")
			b.WriteString(dim)
		}
		b.WriteString(")")
	case *TensorRename:
		b.WriteString("rename(")
		dump(n.Child)
		b.WriteString(",")
		dumpDims(b, n.From)
		b.WriteString(",")
		dumpDims(b, n.To)
		b.WriteString(")")
	case *TensorConcat:
		b.WriteString("concat(")
		dump(n.LHS)
		b.WriteString(",")
		dump(n.RHS)
		b.WriteString(",")
		b.WriteString(n.Dim)
		b.WriteString(")")
	case *TensorLambda:
		b.WriteString(n.Type.ToSpec())
		b.WriteString("(")
		dumpNode(b, n.Lambda.root, n.Lambda.params)
		b.WriteString(")")
	case *TensorLiteral:
		b.WriteString(n.Spec.Type())
		b.WriteString(":{")
		for i, cell := range n.Spec.Cells() {
			if i > 0 {
				b.WriteString(",")
			}
			dumpAddress(b, cell.Address)
			b.WriteString(":")
			b.WriteString(formatNumber(cell.Value))
		}
		b.WriteString("}")
	}
}

func dumpAddress(b *strings.Builder, addr engine.Address) {
	names := make([]string, 0, len(addr))
	for name := range addr {
		names = append(names, name)
	}
	slices.Sort(names)
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(name)
		b.WriteString(":")
		l := addr[name]
		switch {
		case !l.Mapped:
			b.WriteString(strconv.FormatUint(uint64(l.Index), 10))
		case engine.IsIdentifier(l.Name):
			b.WriteString(l.Name)
		default:
			b.WriteString(strconv.Quote(l.Name))
		}
	}
	b.WriteString("}")
}
