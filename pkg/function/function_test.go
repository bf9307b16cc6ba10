package function

import (
	"strings"
	"testing"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

func mustParse(t *testing.T, params []string, text string) *Function {
	t.Helper()
	f := Parse(params, text)
	if f.HasError() {
		t.Fatalf("failed to parse %q: %v", text, f.Err())
	}
	return f
}

func TestParseDump(t *testing.T) {
	grid := []struct {
		params []string
		text   string
		want   string
	}{
		{[]string{"a"}, "a+10", "(a+10)"},
		{[]string{"a", "b", "c"}, "a+b*c", "(a+(b*c))"},
		{[]string{"a", "b", "c"}, "(a+b)*c", "((a+b)*c)"},
		{[]string{"a", "b", "c"}, "a-b-c", "((a-b)-c)"},
		{[]string{"a", "b", "c"}, "a^b^c", "(a^(b^c))"},
		{[]string{"a", "b"}, "a<b&&b<10||!a", "(((a<b)&&(b<10))||!a)"},
		{[]string{"a", "b"}, "a != -b", "(a!=-b)"},
		{[]string{"a"}, "if(a<10,1,2)", "if((a<10),1,2)"},
		{[]string{"a"}, "if(a, 1, 2, 0.75)", "if(a,1,2,0.75)"},
		{[]string{"a"}, "a in [1, -2, \"foo\"]", "(a in [1,-2,\"foo\"])"},
		{[]string{"a", "b"}, "max(a, b) + pow(a,2)", "(max(a,b)+pow(a,2))"},
		{[]string{"a"}, "sqrt(a)", "sqrt(a)"},
		{[]string{"a"}, "1.5e3", "1500"},
		{[]string{"a"}, "map(a, f(x)(x*2))", "map(a,f(x)((x*2)))"},
		{[]string{"a", "b"}, "join(a,b,f(x,y)(x+y))", "join(a,b,f(x,y)((x+y)))"},
		{[]string{"a", "b"}, "reduce(a*b, sum)", "reduce((a*b),sum)"},
		{[]string{"a", "b"}, "reduce(a*b,sum,y, x)", "reduce((a*b),sum,y,x)"},
		{[]string{"a"}, "rename(a,x,y)", "rename(a,x,y)"},
		{[]string{"a"}, "rename(a,(x,y),(y,x))", "rename(a,(x,y),(y,x))"},
		{[]string{"a", "b"}, "concat(a,b,x)", "concat(a,b,x)"},
		{nil, "tensor(y[3],x[2])(x+y)", "tensor(x[2],y[3])((x+y))"},
		{nil, "tensor(x{}):{{x:a}:1,{x:\"b c\"}:-2}", "tensor(x{}):{{x:a}:1,{x:\"b c\"}:-2}"},
		{nil, "tensor(x[]):{{x:2}:5}", "tensor(x[]):{{x:2}:5}"},
	}
	for _, g := range grid {
		f := mustParse(t, g.params, g.text)
		got := f.Dump()
		if got != g.want {
			t.Errorf("dump of %q: got %q, want %q", g.text, got, g.want)
			continue
		}
		again := mustParse(t, g.params, got)
		if again.Dump() != got {
			t.Errorf("reparse of %q dumped as %q", got, again.Dump())
		}
	}
}

func TestParseErrors(t *testing.T) {
	grid := []struct {
		params []string
		text   string
	}{
		{[]string{"x", "y"}, "x & y"},
		{[]string{"a"}, "b+1"},
		{[]string{"a"}, "a+"},
		{[]string{"a"}, "foo(a)"},
		{[]string{"a"}, "max(a)"},
		{[]string{"a"}, "(a+1"},
		{[]string{"a"}, "map(a,f(x,y)(x))"},
		{[]string{"a"}, "map(a,f(x)(a))"},
		{[]string{"a"}, "reduce(a,median)"},
		{[]string{"a"}, "rename(a,(x,y),(z))"},
		{[]string{"a"}, "if(a,1,2,3)"},
		{nil, "tensor(x{})(1)"},
		{nil, "tensor(x[2]):{{x:5}:1}"},
		{[]string{"a", "a"}, "a"},
		{[]string{"a"}, "\"unterminated"},
		{[]string{"a"}, `a+"x\`},
	}
	for _, g := range grid {
		f := Parse(g.params, g.text)
		if !f.HasError() {
			t.Errorf("expected %q to fail, got %s", g.text, f.Dump())
			continue
		}
		if f.Root() != nil {
			t.Errorf("failed parse of %q has a root", g.text)
		}
		if f.Err() == nil || f.Dump() != "[error]" {
			t.Errorf("unexpected error state for %q", g.text)
			continue
		}
		if msg := f.Err().Error(); !strings.HasPrefix(msg, "[") {
			t.Errorf("unexpected message for %q: %s", g.text, msg)
		}
	}

	f := Parse([]string{"a"}, `a+"x\`)
	if !strings.HasSuffix(f.Err().Error(), "...[]") {
		t.Errorf("trailing escape should put the error at end of input: %v", f.Err())
	}

	f = Parse([]string{"x", "y"}, "x & y")
	if !strings.Contains(f.Err().Error(), "[x ]") {
		t.Errorf("error should point after 'x ': %v", f.Err())
	}
}

func TestParseImplicit(t *testing.T) {
	f := ParseImplicit("b*2 + a - b")
	if f.HasError() {
		t.Fatalf("failed to parse: %v", f.Err())
	}
	if f.NumParams() != 2 || f.ParamName(0) != "b" || f.ParamName(1) != "a" {
		t.Errorf("unexpected params %v", f.Params())
	}

	// Lambda bodies only see lambda parameters.
	if f := ParseImplicit("map(a,f(x)(x+c))"); !f.HasError() {
		t.Errorf("expected error for free symbol in lambda, got %s", f.Dump())
	}
}

func TestStringHash(t *testing.T) {
	f := mustParse(t, []string{"a"}, "a==\"foo\"")
	rhs := f.Root().(*Binary).RHS.(*String)
	if rhs.Value != "foo" {
		t.Fatalf("unexpected string %q", rhs.Value)
	}
	if HashString("foo") != HashString("foo") || HashString("foo") == HashString("bar") {
		t.Errorf("unexpected string hashing")
	}
}

func TestDetectIssues(t *testing.T) {
	grid := []struct {
		text   string
		issues int
	}{
		{"a+b", 0},
		{"reduce(map(a,f(x)(x*2)),sum)", 0},
		{"join(a,b,f(x,y)(x*y))", 0},
		{"map(a,f(x)(reduce(x,sum)))", 1},
		{"join(a,b,f(x,y)(rename(x,d,e)))", 1},
		{"tensor(d[2])(concat(d,d,e))", 1},
	}
	for _, g := range grid {
		f := ParseImplicit(g.text)
		if f.HasError() {
			t.Fatalf("failed to parse %q: %v", g.text, f.Err())
		}
		issues := DetectIssues(f)
		if len(issues.List) != g.issues {
			t.Errorf("%q: got issues %v, want %d", g.text, issues.List, g.issues)
		}
		if issues.HasIssues() != (g.issues > 0) {
			t.Errorf("%q: inconsistent HasIssues", g.text)
		}
	}
}

func mustType(t *testing.T, spec string) engine.ValueType {
	t.Helper()
	vt, err := engine.ValueTypeFromSpec(spec)
	if err != nil {
		t.Fatalf("bad type %q: %v", spec, err)
	}
	return vt
}

func TestNodeTypes(t *testing.T) {
	grid := []struct {
		text   string
		inputs []string
		want   string
	}{
		{"a+b", []string{"double", "double"}, "double"},
		{"a+b", []string{"tensor(x[3])", "double"}, "tensor(x[3])"},
		{"a*b", []string{"tensor(x[2],y[2])", "tensor(y[2],z[2])"}, "tensor(x[2],y[2],z[2])"},
		{"reduce(a*b,sum,y)", []string{"tensor(x[2],y[2])", "tensor(y[2],z[2])"}, "tensor(x[2],z[2])"},
		{"reduce(a*b,sum)", []string{"tensor(x[3])", "tensor(x[3])"}, "double"},
		{"a+b", []string{"tensor(x[3])", "tensor(x[2])"}, "error"},
		{"a+b", []string{"tensor", "double"}, "tensor"},
		{"a+b", []string{"any", "double"}, "any"},
		{"reduce(a,sum,z)", []string{"tensor(x[3])"}, "error"},
		{"rename(a,x,y)", []string{"tensor(x{})"}, "tensor(y{})"},
		{"concat(a,b,x)", []string{"tensor(x[2])", "tensor(x[3])"}, "tensor(x[5])"},
		{"map(a,f(v)(v*2))", []string{"tensor(x{})"}, "tensor(x{})"},
		{"if(a,b,c)", []string{"double", "double", "double"}, "double"},
		{"if(a,b,c)", []string{"double", "double", "tensor(x[2])"}, "any"},
		{"a in [1,2]", []string{"tensor(x[2])"}, "double"},
		{"tensor(x[2])(x+1)", nil, "tensor(x[2])"},
		{"tensor(x[]):{{x:3}:1}", nil, "tensor(x[4])"},
	}
	for _, g := range grid {
		f := ParseImplicit(g.text)
		if f.HasError() {
			t.Fatalf("failed to parse %q: %v", g.text, f.Err())
		}
		inputs := make([]engine.ValueType, len(g.inputs))
		for i, s := range g.inputs {
			inputs[i] = mustType(t, s)
		}
		types := NewNodeTypes(f, inputs)
		if got := types.Get(f.Root()); got.ToSpec() != g.want {
			t.Errorf("%q with %v: got %s, want %s", g.text, g.inputs, got, g.want)
		}
	}

	var empty *NodeTypes
	if !empty.Get(&Number{Value: 1}).IsAny() {
		t.Errorf("nil node types should answer any")
	}
	f := mustParse(t, []string{"a"}, "a+1")
	if !NewNodeTypes(f, nil).Get(f.Root()).IsAny() {
		t.Errorf("missing input types should give any")
	}
	if NewNodeTypes(f, nil).AllTypesKnown() {
		t.Errorf("untyped function reported all types known")
	}
	if !NewNodeTypes(f, []engine.ValueType{engine.DoubleType()}).AllTypesKnown() {
		t.Errorf("typed function should have all types known")
	}
}
