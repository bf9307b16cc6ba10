package engine

import (
	"math"
	"strconv"
)

type MapFun func(float64) float64

type JoinFun func(float64, float64) float64

// Operator is the closed set of builtin scalar operations. OpCustom marks a
// lambda supplied by the expression.
type Operator uint8

const (
	OpCustom Operator = iota

	// binary
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpEqual
	OpNotEqual
	OpApprox
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpAnd
	OpOr
	OpAtan2
	OpLdexp
	OpFmod
	OpMin
	OpMax

	// unary
	OpNeg
	OpNot
	OpCos
	OpSin
	OpTan
	OpCosh
	OpSinh
	OpTanh
	OpAcos
	OpAsin
	OpAtan
	OpExp
	OpLog10
	OpLog
	OpSqrt
	OpCeil
	OpFabs
	OpFloor
	OpIsNan
	OpRelu
	OpSigmoid

	numOperators
)

var operatorNames = [numOperators]string{
	OpCustom:       "<lambda>",
	OpAdd:          "+",
	OpSub:          "-",
	OpMul:          "*",
	OpDiv:          "/",
	OpMod:          "%",
	OpPow:          "^",
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpApprox:       "~=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpAnd:          "&&",
	OpOr:           "||",
	OpAtan2:        "atan2",
	OpLdexp:        "ldexp",
	OpFmod:         "fmod",
	OpMin:          "min",
	OpMax:          "max",
	OpNeg:          "-",
	OpNot:          "!",
	OpCos:          "cos",
	OpSin:          "sin",
	OpTan:          "tan",
	OpCosh:         "cosh",
	OpSinh:         "sinh",
	OpTanh:         "tanh",
	OpAcos:         "acos",
	OpAsin:         "asin",
	OpAtan:         "atan",
	OpExp:          "exp",
	OpLog10:        "log10",
	OpLog:          "log",
	OpSqrt:         "sqrt",
	OpCeil:         "ceil",
	OpFabs:         "fabs",
	OpFloor:        "floor",
	OpIsNan:        "isNan",
	OpRelu:         "relu",
	OpSigmoid:      "sigmoid",
}

func (op Operator) String() string {
	if op >= numOperators {
		return "Operator(" + strconv.Itoa(int(op)) + ")"
	}
	return operatorNames[op]
}

func (op Operator) IsBinary() bool { return op >= OpAdd && op <= OpMax }
func (op Operator) IsUnary() bool  { return op >= OpNeg && op < numOperators }

func boolToDouble(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// maxOf returns b only if it compares greater than a, so a NaN in a wins and
// a NaN in b is ignored.
func maxOf(a, b float64) float64 {
	if a < b {
		return b
	}
	return a
}

func minOf(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}

// approxEqual matches values within a relative tolerance of roughly 2^-20.
func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= scale*(1.0/(1<<20))
}

var joinTable = [numOperators]JoinFun{
	OpAdd:          func(a, b float64) float64 { return a + b },
	OpSub:          func(a, b float64) float64 { return a - b },
	OpMul:          func(a, b float64) float64 { return a * b },
	OpDiv:          func(a, b float64) float64 { return a / b },
	OpMod:          math.Mod,
	OpPow:          math.Pow,
	OpEqual:        func(a, b float64) float64 { return boolToDouble(a == b) },
	OpNotEqual:     func(a, b float64) float64 { return boolToDouble(a != b) },
	OpApprox:       func(a, b float64) float64 { return boolToDouble(approxEqual(a, b)) },
	OpLess:         func(a, b float64) float64 { return boolToDouble(a < b) },
	OpLessEqual:    func(a, b float64) float64 { return boolToDouble(a <= b) },
	OpGreater:      func(a, b float64) float64 { return boolToDouble(a > b) },
	OpGreaterEqual: func(a, b float64) float64 { return boolToDouble(a >= b) },
	OpAnd:          func(a, b float64) float64 { return boolToDouble(a != 0 && b != 0) },
	OpOr:           func(a, b float64) float64 { return boolToDouble(a != 0 || b != 0) },
	OpAtan2:        math.Atan2,
	OpLdexp:        func(a, b float64) float64 { return math.Ldexp(a, int(b)) },
	OpFmod:         math.Mod,
	OpMin:          minOf,
	OpMax:          maxOf,
}

var mapTable = [numOperators]MapFun{
	OpNeg:     func(a float64) float64 { return -a },
	OpNot:     func(a float64) float64 { return boolToDouble(a == 0) },
	OpCos:     math.Cos,
	OpSin:     math.Sin,
	OpTan:     math.Tan,
	OpCosh:    math.Cosh,
	OpSinh:    math.Sinh,
	OpTanh:    math.Tanh,
	OpAcos:    math.Acos,
	OpAsin:    math.Asin,
	OpAtan:    math.Atan,
	OpExp:     math.Exp,
	OpLog10:   math.Log10,
	OpLog:     math.Log,
	OpSqrt:    math.Sqrt,
	OpCeil:    math.Ceil,
	OpFabs:    math.Abs,
	OpFloor:   math.Floor,
	OpIsNan:   func(a float64) float64 { return boolToDouble(math.IsNaN(a)) },
	OpRelu:    func(a float64) float64 { return math.Max(a, 0) },
	OpSigmoid: func(a float64) float64 { return 1.0 / (1.0 + math.Exp(-a)) },
}

// JoinFunc returns the scalar function of a binary operator, or nil.
func (op Operator) JoinFunc() JoinFun {
	if op >= numOperators {
		return nil
	}
	return joinTable[op]
}

// MapFunc returns the scalar function of a unary operator, or nil.
func (op Operator) MapFunc() MapFun {
	if op >= numOperators {
		return nil
	}
	return mapTable[op]
}

// LookupFunction finds a builtin function called by name, e.g. "cos" or "max".
func LookupFunction(name string) (Operator, bool) {
	for op := OpAtan2; op < numOperators; op++ {
		if op == OpNeg || op == OpNot {
			continue
		}
		if operatorNames[op] == name {
			return op, true
		}
	}
	if name == "pow" {
		return OpPow, true
	}
	return OpCustom, false
}

// Arity is 1 for unary operators and 2 for binary ones.
func (op Operator) Arity() int {
	switch {
	case op.IsBinary():
		return 2
	case op.IsUnary():
		return 1
	}
	return 0
}
