package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hotpath-io/hotpath/pkg/cache"
)

type mockRequest struct {
	ID   int
	Data string
}

type mockResponse struct {
	Result string
}

func mockInfo(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

func newCacheStore(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.New(cache.WithoutNative())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// countingHandler returns resp and err and counts invocations.
func countingHandler(count *int, resp interface{}, err error) grpc.UnaryHandler {
	return func(ctx context.Context, req interface{}) (interface{}, error) {
		*count++
		return resp, err
	}
}

func TestCacheServesRepeatedRequests(t *testing.T) {
	store := newCacheStore(t)
	mw := Cache(store, WithTTL(time.Minute))

	req := &mockRequest{ID: 1, Data: "test"}
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := countingHandler(&callCount, &mockResponse{Result: "success"}, nil)

	resp1, err := mw(context.Background(), req, info, handler)
	require.NoError(t, err)
	assert.Equal(t, &mockResponse{Result: "success"}, resp1)
	assert.Equal(t, 1, callCount)

	// The hit hands back the stored JSON form.
	resp2, err := mw(context.Background(), req, info, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, callCount, "handler must not run on a cache hit")
	decoded, ok := resp2.(map[string]interface{})
	require.True(t, ok, "cached responses decode generically, got %T", resp2)
	assert.Equal(t, "success", decoded["Result"])

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheDistinctRequests(t *testing.T) {
	store := newCacheStore(t)
	mw := Cache(store, WithTTL(time.Minute))
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		callCount++
		return &mockResponse{Result: req.(*mockRequest).Data}, nil
	}

	resp1, _ := mw(context.Background(), &mockRequest{ID: 1, Data: "a"}, info, handler)
	resp2, _ := mw(context.Background(), &mockRequest{ID: 2, Data: "b"}, info, handler)
	assert.Equal(t, "a", resp1.(*mockResponse).Result)
	assert.Equal(t, "b", resp2.(*mockResponse).Result)
	assert.Equal(t, 2, callCount, "distinct requests must not share entries")
}

func TestCacheMethodTTL(t *testing.T) {
	store := newCacheStore(t)

	fast := "/test.Service/Fast"
	slow := "/test.Service/Slow"
	mw := Cache(store,
		WithTTL(time.Minute),
		WithMethodTTL(fast, 100*time.Millisecond),
	)
	req := &mockRequest{ID: 1}

	fastCount, slowCount := 0, 0
	_, _ = mw(context.Background(), req, mockInfo(fast), countingHandler(&fastCount, &mockResponse{}, nil))
	_, _ = mw(context.Background(), req, mockInfo(slow), countingHandler(&slowCount, &mockResponse{}, nil))

	time.Sleep(150 * time.Millisecond)

	_, _ = mw(context.Background(), req, mockInfo(fast), countingHandler(&fastCount, &mockResponse{}, nil))
	_, _ = mw(context.Background(), req, mockInfo(slow), countingHandler(&slowCount, &mockResponse{}, nil))

	assert.Equal(t, 2, fastCount, "short TTL expired")
	assert.Equal(t, 1, slowCount, "default TTL still live")
}

func TestCacheSkipAndOnlyMethods(t *testing.T) {
	store := newCacheStore(t)
	req := &mockRequest{ID: 1}

	skipped := "/test.Service/SkipMe"
	mw := Cache(store, WithSkipMethod(skipped))
	callCount := 0
	handler := countingHandler(&callCount, &mockResponse{}, nil)
	_, _ = mw(context.Background(), req, mockInfo(skipped), handler)
	_, _ = mw(context.Background(), req, mockInfo(skipped), handler)
	assert.Equal(t, 2, callCount, "skipped methods always reach the handler")

	only := "/test.Service/OnlyThis"
	other := "/test.Service/NotThis"
	mw = Cache(store, WithOnlyMethod(only))
	callCount = 0
	handler = countingHandler(&callCount, &mockResponse{}, nil)
	_, _ = mw(context.Background(), req, mockInfo(only), handler)
	_, _ = mw(context.Background(), req, mockInfo(only), handler)
	assert.Equal(t, 1, callCount)
	callCount = 0
	handler = countingHandler(&callCount, &mockResponse{}, nil)
	_, _ = mw(context.Background(), req, mockInfo(other), handler)
	_, _ = mw(context.Background(), req, mockInfo(other), handler)
	assert.Equal(t, 2, callCount, "methods outside the allow list bypass the cache")
}

func TestCacheErrorsPassThroughByDefault(t *testing.T) {
	store := newCacheStore(t)
	mw := Cache(store)

	req := &mockRequest{ID: 1}
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := countingHandler(&callCount, nil, status.Error(codes.Unavailable, "down"))

	_, err1 := mw(context.Background(), req, info, handler)
	_, err2 := mw(context.Background(), req, info, handler)
	assert.Error(t, err1)
	assert.Error(t, err2)
	assert.Equal(t, 2, callCount, "errors are not cached unless opted in")
}

func TestCacheErrorsWhenEnabled(t *testing.T) {
	store := newCacheStore(t)
	mw := Cache(store, WithCacheErrors())

	req := &mockRequest{ID: 1}
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := countingHandler(&callCount, nil, status.Error(codes.InvalidArgument, "bad input"))

	_, err1 := mw(context.Background(), req, info, handler)
	require.Error(t, err1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err1))

	_, err2 := mw(context.Background(), req, info, handler)
	require.Error(t, err2)
	assert.Equal(t, codes.InvalidArgument, status.Code(err2))
	assert.Equal(t, "rpc error: code = InvalidArgument desc = bad input", err2.Error())
	assert.Equal(t, 1, callCount, "the cached error is replayed")
}

func TestCacheCustomKeyGenerator(t *testing.T) {
	store := newCacheStore(t)

	// Key on the method alone so every request shares one entry.
	mw := Cache(store, WithKeyGenerator(cache.KeyGeneratorFunc(
		func(method string, req interface{}) (string, error) {
			return method, nil
		})))
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := countingHandler(&callCount, &mockResponse{Result: "shared"}, nil)
	_, _ = mw(context.Background(), &mockRequest{ID: 1}, info, handler)
	_, _ = mw(context.Background(), &mockRequest{ID: 2}, info, handler)
	assert.Equal(t, 1, callCount)
}

func TestInvalidateCache(t *testing.T) {
	store := newCacheStore(t)
	mw := Cache(store, WithTTL(time.Minute))

	req := &mockRequest{ID: 1}
	info := mockInfo("/test.Service/Method")

	callCount := 0
	handler := countingHandler(&callCount, &mockResponse{}, nil)
	_, _ = mw(context.Background(), req, info, handler)
	_, _ = mw(context.Background(), req, info, handler)
	require.Equal(t, 1, callCount)

	require.NoError(t, InvalidateCache(context.Background(), store, info.FullMethod, req))

	_, _ = mw(context.Background(), req, info, handler)
	assert.Equal(t, 2, callCount, "invalidation forces a fresh call")
}

func TestClearCache(t *testing.T) {
	store := newCacheStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key1", []byte("data1"), time.Minute))
	require.NoError(t, store.Set(ctx, "key2", []byte("data2"), time.Minute))

	require.NoError(t, ClearCache(ctx, store))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Size)
}
