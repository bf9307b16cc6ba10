package function

import (
	"slices"
	"strconv"
	"strings"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

type bailout struct {
	err *ParseError
}

// scope resolves symbol names for the function or lambda being parsed.
type scope struct {
	params   []string
	implicit bool
}

func (s *scope) resolve(name string) (int, bool) {
	if i := slices.Index(s.params, name); i >= 0 {
		return i, true
	}
	if s.implicit {
		s.params = append(s.params, name)
		return len(s.params) - 1, true
	}
	return 0, false
}

type parser struct {
	text  string
	pos   int
	scope *scope
}

func newParser(text string, params []string, implicit bool) *parser {
	return &parser{
		text:  text,
		scope: &scope{params: slices.Clone(params), implicit: implicit},
	}
}

func (p *parser) fail(msg string) {
	panic(bailout{&ParseError{Text: p.text, Offset: min(p.pos, len(p.text)), Msg: msg}})
}

func (p *parser) parseFunction() (f *Function) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			f = &Function{params: p.scope.params, err: b.err}
		}
	}()
	for i, name := range p.scope.params {
		if !engine.IsIdentifier(name) || slices.Index(p.scope.params, name) != i {
			p.fail("invalid parameter name '" + name + "'")
		}
	}
	root := p.parseExpr()
	p.skipSpace()
	if !p.eof() {
		p.fail("expected operator, found '" + string(p.peek()) + "'")
	}
	return &Function{params: p.scope.params, root: root}
}

func (p *parser) eof() bool { return p.pos >= len(p.text) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.text[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.text[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// next skips space and returns the next byte without consuming it.
func (p *parser) next() byte {
	p.skipSpace()
	return p.peek()
}

func (p *parser) expect(c byte) {
	if p.next() != c {
		if p.eof() {
			p.fail("expected '" + string(c) + "', but got end of input")
		}
		p.fail("expected '" + string(c) + "', but got '" + string(p.peek()) + "'")
	}
	p.pos++
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$' || c == '@' || c == '.'
}

func (p *parser) parseIdent() string {
	p.skipSpace()
	start := p.pos
	if p.eof() || !isIdentStart(p.peek()) {
		p.fail("expected identifier")
	}
	for !p.eof() && isIdentPart(p.peek()) {
		p.pos++
	}
	return p.text[start:p.pos]
}

// lookingAtWord reports whether the next token is the keyword w.
func (p *parser) lookingAtWord(w string) bool {
	p.skipSpace()
	if !strings.HasPrefix(p.text[p.pos:], w) {
		return false
	}
	end := p.pos + len(w)
	return end == len(p.text) || !isIdentPart(p.text[end])
}

type operatorInfo struct {
	text       string
	op         engine.Operator
	prec       int
	rightAssoc bool
}

// operators is ordered so that longer tokens are tried first.
var operators = []operatorInfo{
	{"||", engine.OpOr, 1, false},
	{"&&", engine.OpAnd, 2, false},
	{"==", engine.OpEqual, 3, false},
	{"!=", engine.OpNotEqual, 3, false},
	{"~=", engine.OpApprox, 3, false},
	{"<=", engine.OpLessEqual, 3, false},
	{">=", engine.OpGreaterEqual, 3, false},
	{"<", engine.OpLess, 3, false},
	{">", engine.OpGreater, 3, false},
	{"+", engine.OpAdd, 4, false},
	{"-", engine.OpSub, 4, false},
	{"*", engine.OpMul, 5, false},
	{"/", engine.OpDiv, 5, false},
	{"%", engine.OpMod, 5, false},
	{"^", engine.OpPow, 6, true},
}

func (p *parser) peekOperator() (operatorInfo, bool) {
	p.skipSpace()
	rest := p.text[p.pos:]
	for _, info := range operators {
		if strings.HasPrefix(rest, info.text) {
			return info, true
		}
	}
	return operatorInfo{}, false
}

func (p *parser) parseExpr() Node {
	return p.parseBinary(1)
}

func (p *parser) parseBinary(minPrec int) Node {
	lhs := p.parseValue()
	for {
		info, ok := p.peekOperator()
		if !ok || info.prec < minPrec {
			return lhs
		}
		p.pos += len(info.text)
		nextPrec := info.prec + 1
		if info.rightAssoc {
			nextPrec = info.prec
		}
		rhs := p.parseBinary(nextPrec)
		lhs = &Binary{Op: info.op, LHS: lhs, RHS: rhs}
	}
}

func (p *parser) parseValue() Node {
	var value Node
	switch c := p.next(); {
	case p.eof():
		p.fail("missing value")
	case c == '(':
		p.pos++
		value = p.parseExpr()
		p.expect(')')
	case c == '-':
		p.pos++
		return &Neg{Child: p.parseValue()}
	case c == '!':
		p.pos++
		return &Not{Child: p.parseValue()}
	case c == '"':
		value = &String{Value: p.parseString()}
	case c >= '0' && c <= '9' || c == '.':
		value = &Number{Value: p.parseNumber()}
	case isIdentStart(c):
		value = p.parseIdentValue()
	default:
		p.fail("invalid operand '" + string(c) + "'")
	}
	if p.lookingAtWord("in") {
		p.pos += len("in")
		value = &In{Child: value, Entries: p.parseInList()}
	}
	return value
}

func (p *parser) parseString() string {
	start := p.pos
	p.pos++
	for {
		if p.eof() {
			p.fail("unterminated string")
		}
		c := p.text[p.pos]
		p.pos++
		if c == '\\' {
			p.pos++
			continue
		}
		if c == '"' {
			break
		}
	}
	s, err := strconv.Unquote(p.text[start:p.pos])
	if err != nil {
		p.pos = start
		p.fail("invalid string literal")
	}
	return s
}

func (p *parser) parseNumber() float64 {
	start := p.pos
	for !p.eof() && (p.peek() >= '0' && p.peek() <= '9' || p.peek() == '.') {
		p.pos++
	}
	if !p.eof() && (p.peek() == 'e' || p.peek() == 'E') {
		p.pos++
		if p.peek() == '+' || p.peek() == '-' {
			p.pos++
		}
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
	}
	v, err := strconv.ParseFloat(p.text[start:p.pos], 64)
	if err != nil {
		p.pos = start
		p.fail("invalid number")
	}
	return v
}

// parseSignedNumber accepts a leading minus, for constants in lists and
// tensor literals.
func (p *parser) parseSignedNumber() float64 {
	if p.next() == '-' {
		p.pos++
		p.skipSpace()
		return -p.parseNumber()
	}
	return p.parseNumber()
}

func (p *parser) parseInList() []Node {
	p.expect('[')
	var entries []Node
	for {
		switch c := p.next(); {
		case c == '"':
			entries = append(entries, &String{Value: p.parseString()})
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			entries = append(entries, &Number{Value: p.parseSignedNumber()})
		default:
			p.fail("expected constant in list")
		}
		if p.next() == ']' {
			p.pos++
			return entries
		}
		p.expect(',')
	}
}

func (p *parser) parseIdentValue() Node {
	start := p.pos
	name := p.parseIdent()
	if p.next() != '(' {
		idx, ok := p.scope.resolve(name)
		if !ok {
			p.pos = start
			p.fail("unknown symbol: '" + name + "'")
		}
		return &Symbol{Idx: idx}
	}
	p.pos++
	switch name {
	case "if":
		return p.parseIf()
	case "map":
		return p.parseMap()
	case "join":
		return p.parseJoin()
	case "reduce":
		return p.parseReduce()
	case "rename":
		return p.parseRename()
	case "concat":
		return p.parseConcat()
	case "tensor":
		return p.parseTensor()
	}
	op, ok := engine.LookupFunction(name)
	if !ok {
		p.pos = start
		p.fail("unknown function: '" + name + "'")
	}
	args := make([]Node, op.Arity())
	for i := range args {
		if i > 0 {
			p.expect(',')
		}
		args[i] = p.parseExpr()
	}
	p.expect(')')
	return &Call{Op: op, Args: args}
}

func (p *parser) parseIf() Node {
	n := &If{}
	n.Cond = p.parseExpr()
	p.expect(',')
	n.True = p.parseExpr()
	p.expect(',')
	n.False = p.parseExpr()
	if p.next() == ',' {
		p.pos++
		p.skipSpace()
		n.PTrue = p.parseNumber()
		n.HasPTrue = true
		if n.PTrue < 0 || n.PTrue > 1 {
			p.fail("p_true must be in the range [0,1]")
		}
	}
	p.expect(')')
	return n
}

// parseLambda parses f(a,b)(body) with the given number of parameters.
func (p *parser) parseLambda(arity int) *Function {
	if name := p.parseIdent(); name != "f" {
		p.fail("expected lambda, found '" + name + "'")
	}
	p.expect('(')
	var params []string
	for p.next() != ')' {
		if len(params) > 0 {
			p.expect(',')
		}
		params = append(params, p.parseIdent())
	}
	p.pos++
	if len(params) != arity {
		p.fail("lambda must have " + strconv.Itoa(arity) + " parameters")
	}
	return p.parseLambdaBody(params)
}

func (p *parser) parseLambdaBody(params []string) *Function {
	for i, name := range params {
		if slices.Index(params, name) != i {
			p.fail("duplicate lambda parameter '" + name + "'")
		}
	}
	outer := p.scope
	p.scope = &scope{params: params}
	defer func() { p.scope = outer }()
	p.expect('(')
	body := p.parseExpr()
	p.expect(')')
	return &Function{params: params, root: body}
}

func (p *parser) parseMap() Node {
	child := p.parseExpr()
	p.expect(',')
	lambda := p.parseLambda(1)
	p.expect(')')
	return &TensorMap{Child: child, Lambda: lambda}
}

func (p *parser) parseJoin() Node {
	lhs := p.parseExpr()
	p.expect(',')
	rhs := p.parseExpr()
	p.expect(',')
	lambda := p.parseLambda(2)
	p.expect(')')
	return &TensorJoin{LHS: lhs, RHS: rhs, Lambda: lambda}
}

func (p *parser) parseReduce() Node {
	child := p.parseExpr()
	p.expect(',')
	p.skipSpace()
	start := p.pos
	aggr, ok := engine.ParseAggr(p.parseIdent())
	if !ok {
		p.pos = start
		p.fail("unknown aggregator")
	}
	var dims []string
	for p.next() == ',' {
		p.pos++
		dim := p.parseIdent()
		if slices.Contains(dims, dim) {
			p.fail("duplicate dimension '" + dim + "'")
		}
		dims = append(dims, dim)
	}
	p.expect(')')
	return &TensorReduce{Child: child, Aggr: aggr, Dims: dims}
}

// parseDimList accepts a single name or a parenthesized list.
func (p *parser) parseDimList() []string {
	if p.next() != '(' {
		return []string{p.parseIdent()}
	}
	p.pos++
	var dims []string
	for p.next() != ')' {
		if len(dims) > 0 {
			p.expect(',')
		}
		dims = append(dims, p.parseIdent())
	}
	p.pos++
	return dims
}

func (p *parser) parseRename() Node {
	child := p.parseExpr()
	p.expect(',')
	from := p.parseDimList()
	p.expect(',')
	to := p.parseDimList()
	if len(from) == 0 || len(from) != len(to) {
		p.fail("dimension lists must be non-empty and of equal size")
	}
	p.expect(')')
	return &TensorRename{Child: child, From: from, To: to}
}

func (p *parser) parseConcat() Node {
	lhs := p.parseExpr()
	p.expect(',')
	rhs := p.parseExpr()
	p.expect(',')
	dim := p.parseIdent()
	p.expect(')')
	return &TensorConcat{LHS: lhs, RHS: rhs, Dim: dim}
}

// parseTensor handles tensor(dims)(body) and tensor(dims):{cells}.
func (p *parser) parseTensor() Node {
	start := p.pos
	end := strings.IndexByte(p.text[p.pos:], ')')
	if end < 0 {
		p.fail("unterminated tensor type")
	}
	spec := "tensor(" + p.text[p.pos:p.pos+end] + ")"
	typ, err := engine.ValueTypeFromSpec(spec)
	if err != nil || !typ.IsTypedTensor() {
		p.fail("invalid tensor type")
	}
	p.pos += end + 1
	switch p.next() {
	case '(':
		if !typ.IsBoundDense() {
			p.pos = start
			p.fail("tensor lambda requires indexed dimensions of known size")
		}
		lambda := p.parseLambdaBody(typ.DimensionNames())
		return &TensorLambda{Type: typ, Lambda: lambda}
	case ':':
		p.pos++
		return &TensorLiteral{Spec: p.parseTensorCells(typ)}
	}
	p.fail("expected tensor lambda or tensor cells")
	return nil
}

func (p *parser) parseLabel(d engine.Dimension) engine.Label {
	c := p.next()
	if d.IsIndexed() {
		if c < '0' || c > '9' {
			p.fail("expected index for dimension '" + d.Name + "'")
		}
		start := p.pos
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		idx, err := strconv.ParseUint(p.text[start:p.pos], 10, 32)
		if err != nil {
			p.fail("invalid index")
		}
		return engine.Idx(uint32(idx))
	}
	if c == '"' {
		return engine.Lbl(p.parseString())
	}
	start := p.pos
	for !p.eof() && (isIdentPart(p.peek()) || p.peek() == '-') {
		p.pos++
	}
	if start == p.pos {
		p.fail("expected label for dimension '" + d.Name + "'")
	}
	return engine.Lbl(p.text[start:p.pos])
}

func (p *parser) parseTensorCells(typ engine.ValueType) *engine.TensorSpec {
	spec := engine.NewTensorSpec(typ.ToSpec())
	p.expect('{')
	for p.next() != '}' {
		if spec.Len() > 0 {
			p.expect(',')
		}
		p.expect('{')
		addr := engine.Address{}
		for p.next() != '}' {
			if len(addr) > 0 {
				p.expect(',')
			}
			name := p.parseIdent()
			idx := typ.DimensionIndex(name)
			if idx < 0 {
				p.fail("unknown dimension '" + name + "'")
			}
			if _, dup := addr[name]; dup {
				p.fail("duplicate dimension '" + name + "'")
			}
			p.expect(':')
			addr[name] = p.parseLabel(typ.Dimensions()[idx])
		}
		p.pos++
		if len(addr) != len(typ.Dimensions()) {
			p.fail("incomplete cell address")
		}
		p.expect(':')
		spec.Add(addr, p.parseSignedNumber())
	}
	p.pos++
	if _, err := engine.ResolveSpecType(spec); err != nil {
		p.fail(err.Error())
	}
	return spec
}
