package server

import (
	"fmt"
	"runtime/debug"
)

// Phase names a middleware invocation point
type Phase string

const (
	PhaseBefore Phase = "before-routing"
	PhaseAfter  Phase = "after-routing"
)

// MiddlewareFunc transforms the request/response pair
type MiddlewareFunc func(req *Request, res *Response) (*Request, *Response, error)

// Middleware is a transformer plus the phases it takes part in.
// Before and After are independent; a middleware may set either, both, or neither.
type Middleware struct {
	Name   string
	Before bool
	After  bool
	Handle MiddlewareFunc
}

// MiddlewareError reports which middleware failed and in which phase
type MiddlewareError struct {
	Name  string
	Phase Phase
	Err   error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %q failed during %s: %v", e.Name, e.Phase, e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

// Pipeline runs middlewares in registration order within each phase
type Pipeline struct {
	middlewares []Middleware
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use registers a middleware. Registration happens before serving.
func (p *Pipeline) Use(m Middleware) {
	p.middlewares = append(p.middlewares, m)
}

func (p *Pipeline) Len() int { return len(p.middlewares) }

// RunBefore invokes every pre-phase middleware in order
func (p *Pipeline) RunBefore(req *Request, res *Response) (*Request, *Response, error) {
	return p.run(PhaseBefore, req, res)
}

// RunAfter invokes every post-phase middleware in order
func (p *Pipeline) RunAfter(req *Request, res *Response) (*Request, *Response, error) {
	return p.run(PhaseAfter, req, res)
}

func (p *Pipeline) run(phase Phase, req *Request, res *Response) (*Request, *Response, error) {
	for _, m := range p.middlewares {
		if (phase == PhaseBefore && !m.Before) || (phase == PhaseAfter && !m.After) {
			continue
		}
		if m.Handle == nil {
			continue
		}

		nextReq, nextRes, err := invoke(m, req, res)
		if err != nil {
			return req, res, &MiddlewareError{Name: m.Name, Phase: phase, Err: err}
		}
		if nextReq != nil {
			req = nextReq
		}
		if nextRes != nil {
			res = nextRes
		}
	}
	return req, res, nil
}

// invoke calls a middleware, turning a panic into an error
func invoke(m Middleware, req *Request, res *Response) (nextReq *Request, nextRes *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return m.Handle(req, res)
}
