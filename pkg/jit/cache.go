//go:build linux && amd64

package jit

import (
	"sync"

	"golang.org/x/crypto/blake2b"

	"methodjit/pkg/classfile"
)

// codeCacheKey identifies one method's compiled artifact. Unlike a
// pure content hash, it is scoped to the method itself: this
// compiler bakes method-specific addresses (the method's own resolved
// pool-word array, static storage bases) and field offsets directly
// into the generated code as immediates, so two methods with byte-identical
// bytecode bodies but different declaring classes or constant pools
// do not generally produce interchangeable machine code. Scoping the
// key to the method's own identity sidesteps that, while the body
// hash is still carried and checked — any Method whose body
// mutates after it was first cached (which should never happen once
// a class is linked) is caught rather than silently serving a stale
// compilation.
type codeCacheKey struct {
	method *classfile.Method
	body   [32]byte
}

func cacheKeyFor(m *classfile.Method) codeCacheKey {
	return codeCacheKey{method: m, body: blake2b.Sum256(m.Code.Body)}
}

// CodeCache deduplicates compilation work so two goroutines racing to
// invoke the same not-yet-compiled method only pay for it once. It
// never evicts: compiled code objects live for the process lifetime
// once published, matching §5's "Compiled Code Objects are not
// individually freed."
type CodeCache struct {
	mu      sync.RWMutex
	entries map[codeCacheKey]*CompiledCode
}

func NewCodeCache() *CodeCache {
	return &CodeCache{entries: make(map[codeCacheKey]*CompiledCode)}
}

// Lookup returns a previously cached compilation for m, if any.
func (c *CodeCache) Lookup(m *classfile.Method) (*CompiledCode, bool) {
	key := cacheKeyFor(m)
	c.mu.RLock()
	defer c.mu.RUnlock()
	cc, ok := c.entries[key]
	return cc, ok
}

// Store records a compilation under m's identity and current body
// hash. If two goroutines compile the same method concurrently, the
// second Store call wins the race harmlessly: both compiled bodies
// are behaviorally identical, and the loser's arena space is simply
// never referenced again, consistent with "not individually freed."
func (c *CodeCache) Store(m *classfile.Method, cc *CompiledCode) {
	key := cacheKeyFor(m)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cc
}
