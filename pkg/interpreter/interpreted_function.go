package interpreter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/function"
)

// ErrParamCount is the panic value (wrapped) when a program is evaluated with
// the wrong number of parameters.
var ErrParamCount = errors.New("wrong number of parameters")

// InterpretedFunction is a function compiled to a linear program for one
// tensor engine. It is immutable and may be evaluated concurrently, each
// goroutine using its own Context.
type InterpretedFunction struct {
	engine    engine.TensorEngine
	numParams int
	program   []Instruction
	issues    function.Issues

	consts          []engine.Value
	memberFuns      []engine.MapFun
	mapFuns         []engine.MapFun
	joinFuns        []engine.JoinFun
	reduces         []reduceParams
	renames         []renameParams
	concatDims      []string
	tensorFunctions []engine.TensorFunction
}

// New compiles f for e. types may be nil; without types no tensor operation is
// specialized. A function that failed to parse compiles to a program that
// always produces the error value.
func New(e engine.TensorEngine, f *function.Function, types *function.NodeTypes) *InterpretedFunction {
	fn := &InterpretedFunction{
		engine:    e,
		numParams: f.NumParams(),
	}
	if f.HasError() {
		fn.emit(opError, 0)
		return fn
	}
	fn.issues = function.DetectIssues(f)
	c := &compiler{fn: fn, types: types}
	c.compile(f.Root())
	return fn
}

func (f *InterpretedFunction) Engine() engine.TensorEngine { return f.engine }

func (f *InterpretedFunction) ProgramSize() int { return len(f.program) }

func (f *InterpretedFunction) NumParams() int { return f.numParams }

// Issues lists the problems found in the function when it was compiled.
func (f *InterpretedFunction) Issues() function.Issues { return f.issues }

// DetectIssues reports whether f can be fully interpreted.
func DetectIssues(f *function.Function) function.Issues {
	return function.DetectIssues(f)
}

// Eval runs the program with params bound. The result lives in c and is valid
// until c is used again or released.
func (f *InterpretedFunction) Eval(c *Context, params []engine.Value) engine.Value {
	if len(params) != f.numParams {
		panic(fmt.Errorf("%w: got %d, want %d", ErrParamCount, len(params), f.numParams))
	}
	for _, p := range params {
		engine.CheckEngine(f.engine, p)
	}
	c.stash.Reset()
	clear(c.stack)
	c.stack = c.stack[:0]
	c.fn = f
	c.params = params
	c.pc = 0
	c.ifCount = 0
	for c.pc < len(f.program) {
		in := f.program[c.pc]
		c.pc++
		dispatch[in.op](c, in.param)
	}
	return c.stack[len(c.stack)-1]
}

// EstimateCostUs evaluates the program repeatedly for roughly budget and
// returns the average cost of one evaluation in microseconds.
func (f *InterpretedFunction) EstimateCostUs(params []engine.Value, budget time.Duration) float64 {
	c := NewContext()
	defer c.Release()
	start := time.Now()
	loops := 0
	for {
		f.Eval(c, params)
		loops++
		if elapsed := time.Since(start); elapsed >= budget {
			return float64(elapsed.Microseconds()) / float64(loops)
		}
	}
}

// Describe lists the instructions of the program.
func (f *InterpretedFunction) Describe() string {
	var b strings.Builder
	for i, in := range f.program {
		fmt.Fprintf(&b, "%3d: %s\n", i, in)
	}
	return b.String()
}

func (f *InterpretedFunction) emit(op opcode, param uint64) int {
	f.program = append(f.program, Instruction{op: op, param: param})
	return len(f.program) - 1
}

func (f *InterpretedFunction) addConst(v engine.Value) uint64 {
	f.consts = append(f.consts, v)
	return uint64(len(f.consts) - 1)
}

type compiler struct {
	fn    *InterpretedFunction
	types *function.NodeTypes

	// failed holds nodes that could not be lowered to tensor IR.
	failed map[function.Node]bool
	// typedInput caches hasTypedInput.
	typedInput map[function.Node]bool
}

func (c *compiler) compileChildren(n function.Node) {
	for _, child := range n.Children() {
		c.compile(child)
	}
}

func (c *compiler) compile(n function.Node) {
	fn := c.fn
	if function.IsTensorOp(n) {
		if tf := c.lowerTensorFunction(n); tf != nil {
			fn.tensorFunctions = append(fn.tensorFunctions, tf)
			fn.emit(opTensorFunction, uint64(len(fn.tensorFunctions)-1))
			return
		}
	}
	switch n := n.(type) {
	case *function.Number:
		fn.emit(opLoadConst, fn.addConst(engine.NewDoubleValue(n.Value)))
	case *function.String:
		fn.emit(opLoadConst, fn.addConst(engine.NewDoubleValue(function.HashString(n.Value))))
	case *function.Symbol:
		fn.emit(opLoadParam, uint64(n.Idx))
	case *function.Neg:
		c.compile(n.Child)
		fn.emit(opUnary, uint64(engine.OpNeg))
	case *function.Not:
		c.compile(n.Child)
		fn.emit(opUnary, uint64(engine.OpNot))
	case *function.Binary:
		c.compileChildren(n)
		fn.emit(opBinary, uint64(n.Op))
	case *function.Call:
		c.compileChildren(n)
		if len(n.Args) == 1 {
			fn.emit(opUnary, uint64(n.Op))
		} else {
			fn.emit(opBinary, uint64(n.Op))
		}
	case *function.If:
		c.compile(n.Cond)
		skipFalse := fn.emit(opSkipIfFalse, 0)
		c.compile(n.True)
		skipEnd := fn.emit(opSkip, 0)
		fn.program[skipFalse].param = uint64(len(fn.program))
		c.compile(n.False)
		fn.program[skipEnd].param = uint64(len(fn.program))
	case *function.In:
		c.compile(n.Child)
		fn.memberFuns = append(fn.memberFuns, memberFunc(memberSet(n)))
		fn.emit(opIn, uint64(len(fn.memberFuns)-1))
	case *function.TensorMap:
		c.compile(n.Child)
		lambda, err := compileLambda(n.Lambda)
		if err != nil {
			fn.emit(opError, 1)
			return
		}
		fn.mapFuns = append(fn.mapFuns, asMapFun(lambda))
		fn.emit(opMap, uint64(len(fn.mapFuns)-1))
	case *function.TensorJoin:
		c.compileChildren(n)
		lambda, err := compileLambda(n.Lambda)
		if err != nil {
			fn.emit(opError, 2)
			return
		}
		fn.joinFuns = append(fn.joinFuns, asJoinFun(lambda))
		fn.emit(opJoin, uint64(len(fn.joinFuns)-1))
	case *function.TensorReduce:
		c.compile(n.Child)
		fn.reduces = append(fn.reduces, reduceParams{aggr: n.Aggr, dims: n.Dims})
		fn.emit(opReduce, uint64(len(fn.reduces)-1))
	case *function.TensorRename:
		c.compile(n.Child)
		fn.renames = append(fn.renames, renameParams{from: n.From, to: n.To})
		fn.emit(opRename, uint64(len(fn.renames)-1))
	case *function.TensorConcat:
		c.compileChildren(n)
		fn.concatDims = append(fn.concatDims, n.Dim)
		fn.emit(opConcat, uint64(len(fn.concatDims)-1))
	case *function.TensorLambda:
		v, err := c.evalTensorLambda(n)
		if err != nil {
			fn.emit(opError, 0)
			return
		}
		fn.emit(opLoadConst, fn.addConst(v))
	case *function.TensorLiteral:
		v, err := engine.CreateValue(fn.engine, n.Spec)
		if err != nil {
			fn.emit(opError, 0)
			return
		}
		fn.emit(opLoadConst, fn.addConst(v))
	default:
		fn.emit(opError, 0)
	}
}

// evalTensorLambda computes every cell of a tensor lambda up front; the
// lambda only sees cell indexes, so the result is a constant.
func (c *compiler) evalTensorLambda(n *function.TensorLambda) (engine.Value, error) {
	lambda, err := compileLambda(n.Lambda)
	if err != nil {
		return nil, err
	}
	if n.Type.DenseSize() > engine.MaxCells {
		return nil, fmt.Errorf("tensor lambda of type %s has too many cells", n.Type)
	}
	dims := n.Type.Dimensions()
	spec := engine.NewTensorSpec(n.Type.ToSpec())
	idx := make([]uint32, len(dims))
	args := make([]float64, len(dims))
	for range n.Type.DenseSize() {
		addr := make(engine.Address, len(dims))
		for i, d := range dims {
			addr[d.Name] = engine.Idx(idx[i])
			args[i] = float64(idx[i])
		}
		spec.Add(addr, lambda(args))
		for i := len(dims) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < dims[i].Size {
				break
			}
			idx[i] = 0
		}
	}
	return engine.CreateValue(c.fn.engine, spec)
}

// lowerTensorFunction converts a tensor expression whose parameters all have
// known tensor types into tensor IR and lets the engine optimize it. It
// returns nil when the expression must be evaluated generically.
func (c *compiler) lowerTensorFunction(n function.Node) engine.TensorFunction {
	if c.types == nil || !c.hasTypedInput(n) {
		return nil
	}
	ir := c.lower(n)
	if ir == nil {
		return nil
	}
	optimized := c.fn.engine.Compile(ir)
	klog.V(4).Info("lowered tensor expression", "engine", c.fn.engine.Name(), "ir", engine.Describe(optimized))
	return optimized
}

// hasTypedInput reports whether the subtree of n reads a parameter of known
// tensor type.
func (c *compiler) hasTypedInput(n function.Node) bool {
	if found, ok := c.typedInput[n]; ok {
		return found
	}
	found := false
	if sym, ok := n.(*function.Symbol); ok {
		found = c.types.Get(sym).IsTypedTensor()
	}
	for _, child := range n.Children() {
		if c.hasTypedInput(child) {
			found = true
			break
		}
	}
	if c.typedInput == nil {
		c.typedInput = make(map[function.Node]bool)
	}
	c.typedInput[n] = found
	return found
}

// lower converts n to tensor IR, or returns nil if some node of it has no
// known type. A node that fails once is not walked again.
func (c *compiler) lower(n function.Node) engine.TensorFunction {
	if c.failed[n] {
		return nil
	}
	ir := c.lowerNode(n)
	if ir == nil || ir.ResultType().IsError() || ir.ResultType().IsUnknown() {
		if c.failed == nil {
			c.failed = make(map[function.Node]bool)
		}
		c.failed[n] = true
		return nil
	}
	return ir
}

func (c *compiler) lowerNode(n function.Node) engine.TensorFunction {
	lowerAll := func(nodes ...function.Node) []engine.TensorFunction {
		out := make([]engine.TensorFunction, len(nodes))
		for i, node := range nodes {
			if out[i] = c.lower(node); out[i] == nil {
				return nil
			}
		}
		return out
	}
	switch n := n.(type) {
	case *function.Number:
		return engine.NewConst(engine.NewDoubleValue(n.Value))
	case *function.Symbol:
		t := c.types.Get(n)
		if !t.IsDouble() && !t.IsTypedTensor() {
			return nil
		}
		return engine.NewInject(t, n.Idx)
	case *function.Neg:
		if child := c.lower(n.Child); child != nil {
			return engine.NewMap(child, engine.OpNeg, nil)
		}
	case *function.Binary:
		if args := lowerAll(n.LHS, n.RHS); args != nil {
			return engine.NewJoin(args[0], args[1], n.Op, nil)
		}
	case *function.Call:
		args := lowerAll(n.Args...)
		switch {
		case args == nil:
		case len(args) == 1:
			return engine.NewMap(args[0], n.Op, nil)
		default:
			return engine.NewJoin(args[0], args[1], n.Op, nil)
		}
	case *function.TensorMap:
		lambda, err := compileLambda(n.Lambda)
		child := c.lower(n.Child)
		if err == nil && child != nil {
			return engine.NewMap(child, engine.OpCustom, asMapFun(lambda))
		}
	case *function.TensorJoin:
		lambda, err := compileLambda(n.Lambda)
		args := lowerAll(n.LHS, n.RHS)
		if err == nil && args != nil {
			return engine.NewJoin(args[0], args[1], engine.OpCustom, asJoinFun(lambda))
		}
	case *function.TensorReduce:
		if child := c.lower(n.Child); child != nil {
			return engine.NewReduce(child, n.Aggr, n.Dims)
		}
	case *function.TensorRename:
		if child := c.lower(n.Child); child != nil {
			return engine.NewRename(child, n.From, n.To)
		}
	case *function.TensorConcat:
		if args := lowerAll(n.LHS, n.RHS); args != nil {
			return engine.NewConcat(args[0], args[1], n.Dim)
		}
	}
	return nil
}
