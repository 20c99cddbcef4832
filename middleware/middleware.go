// Package middleware provides chainable gRPC unary interceptors backed
// by the hotpath cache and metrics stores: response caching, request
// metrics, structured logging and distributed tracing.
package middleware

import (
	"context"

	"google.golang.org/grpc"
)

// Middleware wraps a unary handler invocation. It receives the next
// handler in the chain and decides whether and how to call it.
type Middleware func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error)

// Chain composes middlewares into a single interceptor. The first
// middleware in the chain is the outermost wrapper.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain from the given middlewares.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Append adds middlewares to the end of the chain.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Prepend adds middlewares to the front of the chain.
func (c *Chain) Prepend(middlewares ...Middleware) *Chain {
	c.middlewares = append(middlewares, c.middlewares...)
	return c
}

// UnaryInterceptor returns a grpc.UnaryServerInterceptor executing the
// chain around the server handler.
func (c *Chain) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		// Wrap inside out so the first middleware runs first.
		next := handler
		for i := len(c.middlewares) - 1; i >= 0; i-- {
			mw := c.middlewares[i]
			inner := next
			next = func(ctx context.Context, req interface{}) (interface{}, error) {
				return mw(ctx, req, info, inner)
			}
		}
		return next(ctx, req)
	}
}

// ServerOption returns the chain as a gRPC server option.
func (c *Chain) ServerOption() grpc.ServerOption {
	return grpc.UnaryInterceptor(c.UnaryInterceptor())
}
