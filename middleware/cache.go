package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hotpath-io/hotpath/pkg/cache"
)

// CacheConfig holds configuration for the response caching middleware.
type CacheConfig struct {
	// KeyGenerator derives cache keys from request payloads. Defaults
	// to the method plus a request digest.
	KeyGenerator cache.KeyGenerator

	// TTL applies to cached responses without a per-method override.
	TTL time.Duration

	// MethodTTLs overrides TTL per full method name.
	MethodTTLs map[string]time.Duration

	// SkipMethods are never cached.
	SkipMethods map[string]bool

	// OnlyMethods, when non-empty, restricts caching to those methods.
	OnlyMethods map[string]bool

	// CacheErrors also caches status-error responses.
	CacheErrors bool
}

// CacheOption is a functional option for cache configuration.
type CacheOption func(*CacheConfig)

// WithKeyGenerator sets the key derivation strategy.
func WithKeyGenerator(gen cache.KeyGenerator) CacheOption {
	return func(c *CacheConfig) {
		c.KeyGenerator = gen
	}
}

// WithTTL sets the default TTL for cached responses.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CacheConfig) {
		c.TTL = ttl
	}
}

// WithMethodTTL overrides the TTL for one method.
func WithMethodTTL(method string, ttl time.Duration) CacheOption {
	return func(c *CacheConfig) {
		if c.MethodTTLs == nil {
			c.MethodTTLs = make(map[string]time.Duration)
		}
		c.MethodTTLs[method] = ttl
	}
}

// WithSkipMethod excludes one method from caching.
func WithSkipMethod(method string) CacheOption {
	return func(c *CacheConfig) {
		if c.SkipMethods == nil {
			c.SkipMethods = make(map[string]bool)
		}
		c.SkipMethods[method] = true
	}
}

// WithOnlyMethod restricts caching to the named method. May be given
// multiple times.
func WithOnlyMethod(method string) CacheOption {
	return func(c *CacheConfig) {
		if c.OnlyMethods == nil {
			c.OnlyMethods = make(map[string]bool)
		}
		c.OnlyMethods[method] = true
	}
}

// WithCacheErrors also caches error responses.
func WithCacheErrors() CacheOption {
	return func(c *CacheConfig) {
		c.CacheErrors = true
	}
}

// cachedResponse is the stored envelope. Responses round-trip through
// JSON, so a cache hit hands back the decoded generic form, not the
// handler's concrete type.
type cachedResponse struct {
	Response interface{}  `json:"response,omitempty"`
	Error    *cachedError `json:"error,omitempty"`
}

type cachedError struct {
	Code    codes.Code `json:"code"`
	Message string     `json:"message"`
}

// Cache serves repeated requests from store instead of invoking the
// handler. Responses are stored under a key derived from the method and
// request; errors pass through uncached unless CacheErrors is set.
func Cache(store cache.Backend, opts ...CacheOption) Middleware {
	config := &CacheConfig{
		KeyGenerator: cache.NewDefaultKeyGenerator(),
		TTL:          5 * time.Minute,
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method := info.FullMethod
		if !shouldCache(method, config) {
			return handler(ctx, req)
		}

		key, err := config.KeyGenerator.GenerateKey(method, req)
		if err != nil {
			// No usable key, serve uncached.
			return handler(ctx, req)
		}

		if data, found, err := store.Get(ctx, key); err == nil && found {
			var envelope cachedResponse
			if err := json.Unmarshal(data, &envelope); err == nil {
				if envelope.Error != nil {
					return nil, status.Error(envelope.Error.Code, envelope.Error.Message)
				}
				return envelope.Response, nil
			}
		}

		resp, err := handler(ctx, req)
		if err != nil && !config.CacheErrors {
			return resp, err
		}

		envelope := cachedResponse{Response: resp}
		if err != nil {
			st := status.Convert(err)
			envelope.Error = &cachedError{Code: st.Code(), Message: st.Message()}
		}
		if data, marshalErr := json.Marshal(envelope); marshalErr == nil {
			_ = store.Set(ctx, key, data, ttlFor(method, config))
		}

		return resp, err
	}
}

func shouldCache(method string, config *CacheConfig) bool {
	if len(config.OnlyMethods) > 0 {
		return config.OnlyMethods[method]
	}
	return !config.SkipMethods[method]
}

func ttlFor(method string, config *CacheConfig) time.Duration {
	if ttl, ok := config.MethodTTLs[method]; ok {
		return ttl
	}
	return config.TTL
}

// InvalidateCache drops the cached response for one method and request.
func InvalidateCache(ctx context.Context, store cache.Backend, method string, req interface{}) error {
	key, err := cache.NewDefaultKeyGenerator().GenerateKey(method, req)
	if err != nil {
		return fmt.Errorf("deriving cache key: %w", err)
	}
	_, err = store.Delete(ctx, key)
	return err
}

// ClearCache drops every cached response.
func ClearCache(ctx context.Context, store cache.Backend) error {
	return store.Clear(ctx)
}
