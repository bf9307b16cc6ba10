package interpreter

import (
	"sync"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
)

// Context holds the mutable state of one evaluation: the operand stack, the
// bound parameters and the scratch arena results are allocated from.
//
// A Context is not safe for concurrent use. It may be reused for any number
// of evaluations, of any program; each evaluation invalidates the result of
// the previous one.
type Context struct {
	fn      *InterpretedFunction
	params  []engine.Value
	stack   []engine.Value
	stash   *engine.Stash
	pc      int
	ifCount int
}

func NewContext() *Context {
	return &Context{stash: engine.NewStash()}
}

// IfCount is the number of conditions evaluated by the last evaluation.
func (c *Context) IfCount() int { return c.ifCount }

// StashStats reports how much of the scratch arena is in use.
func (c *Context) StashStats() engine.StashStats { return c.stash.Stats() }

// Release resets the scratch arena. Values returned by Eval are invalid
// afterwards.
func (c *Context) Release() {
	c.stash.Reset()
	clear(c.stack)
	c.stack = c.stack[:0]
	c.params = nil
	c.fn = nil
}

func (c *Context) push(v engine.Value) {
	c.stack = append(c.stack, v)
}

func (c *Context) pop() engine.Value {
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return v
}

// Pool shares contexts between goroutines.
type Pool struct {
	pool sync.Pool
}

// Get returns a context owned by the caller until it is passed to Put.
func (p *Pool) Get() *Context {
	if c, ok := p.pool.Get().(*Context); ok {
		return c
	}
	return NewContext()
}

// Put releases c and makes it available to other callers.
func (p *Pool) Put(c *Context) {
	c.Release()
	p.pool.Put(c)
}
