package interpreter

import (
	"fmt"
	"slices"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

type opcode uint8

const (
	// opError pops param operands and pushes the error value.
	opError opcode = iota
	opLoadConst
	opLoadParam
	opUnary
	opBinary
	opIn
	opSkipIfFalse
	opSkip
	opMap
	opJoin
	opReduce
	opRename
	opConcat
	opTensorFunction

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	opError:          "error",
	opLoadConst:      "load_const",
	opLoadParam:      "load_param",
	opUnary:          "unary",
	opBinary:         "binary",
	opIn:             "in",
	opSkipIfFalse:    "skip_if_false",
	opSkip:           "skip",
	opMap:            "map",
	opJoin:           "join",
	opReduce:         "reduce",
	opRename:         "rename",
	opConcat:         "concat",
	opTensorFunction: "tensor_function",
}

func (op opcode) String() string {
	if op >= numOpcodes {
		return fmt.Sprintf("opcode(%d)", op)
	}
	return opcodeNames[op]
}

// Instruction is one step of a program. param is an operator, a jump target,
// an operand count or an index into one of the program's side tables.
type Instruction struct {
	op    opcode
	param uint64
}

func (in Instruction) String() string {
	return fmt.Sprintf("%s %d", in.op, in.param)
}

type reduceParams struct {
	aggr engine.Aggr
	dims []string
}

type renameParams struct {
	from, to []string
}

var dispatch = [numOpcodes]func(c *Context, param uint64){
	opError:          execError,
	opLoadConst:      execLoadConst,
	opLoadParam:      execLoadParam,
	opUnary:          execUnary,
	opBinary:         execBinary,
	opIn:             execIn,
	opSkipIfFalse:    execSkipIfFalse,
	opSkip:           execSkip,
	opMap:            execMap,
	opJoin:           execJoin,
	opReduce:         execReduce,
	opRename:         execRename,
	opConcat:         execConcat,
	opTensorFunction: execTensorFunction,
}

func execError(c *Context, param uint64) {
	c.stack = c.stack[:len(c.stack)-int(param)]
	c.push(engine.ErrorValue)
}

func execLoadConst(c *Context, param uint64) {
	c.push(c.fn.consts[param])
}

func execLoadParam(c *Context, param uint64) {
	c.push(c.params[param])
}

func execUnary(c *Context, param uint64) {
	c.mapValue(engine.Operator(param).MapFunc())
}

func execBinary(c *Context, param uint64) {
	c.joinValues(engine.Operator(param).JoinFunc())
}

func execMap(c *Context, param uint64) {
	c.mapValue(c.fn.mapFuns[param])
}

func execJoin(c *Context, param uint64) {
	c.joinValues(c.fn.joinFuns[param])
}

// execIn compares whole values, so a tensor is never a member.
func execIn(c *Context, param uint64) {
	a := c.pop()
	switch {
	case a.IsError():
		c.push(engine.ErrorValue)
	case a.IsDouble():
		c.push(c.stash.Double(c.fn.memberFuns[param](a.AsDouble())))
	default:
		c.push(c.stash.Double(0.0))
	}
}

func execSkipIfFalse(c *Context, param uint64) {
	c.ifCount++
	if !c.pop().AsBool() {
		c.pc = int(param)
	}
}

func execSkip(c *Context, param uint64) {
	c.pc = int(param)
}

func execReduce(c *Context, param uint64) {
	p := &c.fn.reduces[param]
	a := c.pop()
	if a.IsError() {
		c.push(engine.ErrorValue)
		return
	}
	c.push(c.fn.engine.Reduce(a, p.aggr, p.dims, c.stash))
}

func execRename(c *Context, param uint64) {
	p := &c.fn.renames[param]
	a := c.pop()
	if a.IsError() {
		c.push(engine.ErrorValue)
		return
	}
	c.push(c.fn.engine.Rename(a, p.from, p.to, c.stash))
}

func execConcat(c *Context, param uint64) {
	b, a := c.pop(), c.pop()
	if a.IsError() || b.IsError() {
		c.push(engine.ErrorValue)
		return
	}
	c.push(c.fn.engine.Concat(a, b, c.fn.concatDims[param], c.stash))
}

func execTensorFunction(c *Context, param uint64) {
	fn := c.fn.tensorFunctions[param]
	c.push(fn.Eval(c.fn.engine, engine.ValuesInput(c.params), c.stash))
}

// mapValue replaces the top of the stack with fn applied to it.
func (c *Context) mapValue(fn engine.MapFun) {
	a := c.pop()
	switch {
	case a.IsError():
		c.push(engine.ErrorValue)
	case a.IsDouble():
		c.push(c.stash.Double(fn(a.AsDouble())))
	default:
		c.push(c.fn.engine.Map(a, fn, c.stash))
	}
}

// joinValues replaces the two topmost values with fn applied to them.
func (c *Context) joinValues(fn engine.JoinFun) {
	b, a := c.pop(), c.pop()
	switch {
	case a.IsError() || b.IsError():
		c.push(engine.ErrorValue)
	case a.IsDouble() && b.IsDouble():
		c.push(c.stash.Double(fn(a.AsDouble(), b.AsDouble())))
	default:
		c.push(c.fn.engine.Join(a, b, fn, c.stash))
	}
}

// memberFunc tests a value against a constant set.
func memberFunc(set []float64) engine.MapFun {
	return func(v float64) float64 {
		if slices.Contains(set, v) {
			return 1.0
		}
		return 0.0
	}
}
