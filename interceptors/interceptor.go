package interceptors

import (
	"context"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/messaging"
)

// Interceptor processes envelopes before they reach the handler
type Interceptor interface {
	// Intercept handles env and calls next to continue the chain
	Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error

	// Name identifies the interceptor in logs
	Name() string
}

// Func is a function-based Interceptor
type Func struct {
	name string
	fn   func(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error
}

// NewFunc creates a named Interceptor from fn
func NewFunc(name string, fn func(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Intercept(ctx context.Context, env *contracts.Envelope, next messaging.Handler) error {
	return f.fn(ctx, env, next)
}

func (f *Func) Name() string {
	return f.name
}

// Chain is an ordered list of interceptors
type Chain struct {
	interceptors []Interceptor
}

// NewChain creates a chain running interceptors in the given order
func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: append([]Interceptor(nil), interceptors...)}
}

// Add appends an interceptor to the chain
func (c *Chain) Add(interceptor Interceptor) *Chain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names lists the interceptors in execution order
func (c *Chain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Then returns handler wrapped by the chain. Later changes to the chain do
// not affect handlers already returned.
func (c *Chain) Then(handler messaging.Handler) messaging.Handler {
	wrapped := handler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := wrapped
		wrapped = messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
			return interceptor.Intercept(ctx, env, next)
		})
	}
	return wrapped
}

// Wrap is shorthand for NewChain(interceptors...).Then(handler)
func Wrap(handler messaging.Handler, interceptors ...Interceptor) messaging.Handler {
	return NewChain(interceptors...).Then(handler)
}
