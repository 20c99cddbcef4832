package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// KeyGenerator derives cache keys for method/request pairs.
type KeyGenerator interface {
	GenerateKey(method string, req interface{}) (string, error)
}

// KeyGeneratorFunc adapts a function to the KeyGenerator interface.
type KeyGeneratorFunc func(method string, req interface{}) (string, error)

func (f KeyGeneratorFunc) GenerateKey(method string, req interface{}) (string, error) {
	return f(method, req)
}

// DefaultKeyGenerator keys on the method name plus a digest of the
// encoded request, so equal payloads share an entry and unequal ones
// never collide. Proto messages are encoded with deterministic
// marshaling; anything else is JSON-encoded.
type DefaultKeyGenerator struct{}

// NewDefaultKeyGenerator returns the default key strategy.
func NewDefaultKeyGenerator() *DefaultKeyGenerator {
	return &DefaultKeyGenerator{}
}

func (g *DefaultKeyGenerator) GenerateKey(method string, req interface{}) (string, error) {
	var encoded []byte
	var err error
	if msg, ok := req.(proto.Message); ok {
		encoded, err = proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	} else {
		encoded, err = json.Marshal(req)
	}
	if err != nil {
		return "", fmt.Errorf("encoding request for cache key: %w", err)
	}
	digest := sha256.Sum256(encoded)
	return method + ":" + hex.EncodeToString(digest[:]), nil
}

// MethodKeyGenerator routes key derivation per method, falling back to
// a default strategy for unregistered methods.
type MethodKeyGenerator struct {
	fallback KeyGenerator
	methods  map[string]KeyGenerator
}

// NewMethodKeyGenerator returns a per-method router over fallback. A
// nil fallback uses the default strategy.
func NewMethodKeyGenerator(fallback KeyGenerator) *MethodKeyGenerator {
	if fallback == nil {
		fallback = NewDefaultKeyGenerator()
	}
	return &MethodKeyGenerator{
		fallback: fallback,
		methods:  make(map[string]KeyGenerator),
	}
}

// RegisterMethod assigns a strategy to one method.
func (g *MethodKeyGenerator) RegisterMethod(method string, gen KeyGenerator) {
	g.methods[method] = gen
}

func (g *MethodKeyGenerator) GenerateKey(method string, req interface{}) (string, error) {
	if gen, ok := g.methods[method]; ok {
		return gen.GenerateKey(method, req)
	}
	return g.fallback.GenerateKey(method, req)
}
