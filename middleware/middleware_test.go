package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// tagging returns a middleware appending name before and after the
// inner handler runs.
func tagging(name string, trace *[]string) Middleware {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		*trace = append(*trace, name+":before")
		resp, err := handler(ctx, req)
		*trace = append(*trace, name+":after")
		return resp, err
	}
}

func TestChainExecutionOrder(t *testing.T) {
	var order []string
	chain := NewChain(tagging("outer", &order), tagging("inner", &order))

	interceptor := chain.UnaryInterceptor()
	resp, err := interceptor(context.Background(), "request", mockInfo("/test.Service/Method"),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			order = append(order, "handler")
			return "response", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "response", resp)
	assert.Equal(t, []string{
		"outer:before",
		"inner:before",
		"handler",
		"inner:after",
		"outer:after",
	}, order)
}

func TestChainAppendAndPrepend(t *testing.T) {
	var order []string
	chain := NewChain(tagging("middle", &order))
	chain.Append(tagging("last", &order))
	chain.Prepend(tagging("first", &order))

	_, err := chain.UnaryInterceptor()(context.Background(), nil, mockInfo("/test.Service/Method"),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			order = append(order, "handler")
			return nil, nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"first:before", "middle:before", "last:before",
		"handler",
		"last:after", "middle:after", "first:after",
	}, order)
}

func TestEmptyChainCallsHandler(t *testing.T) {
	chain := NewChain()

	called := false
	resp, err := chain.UnaryInterceptor()(context.Background(), "req", mockInfo("/test.Service/Method"),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			called = true
			return req, nil
		})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "req", resp)
}

func TestChainServerOption(t *testing.T) {
	chain := NewChain(tagging("only", new([]string)))
	assert.NotNil(t, chain.ServerOption())
}
