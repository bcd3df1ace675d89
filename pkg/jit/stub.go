//go:build !linux || !amd64

// Package jit provides stub types for platforms other than
// linux/amd64. The real compiler, executable arena, and native-call
// bridge depend on mmap'd RWX pages and a hand-written amd64 calling
// convention, neither of which this build has.
package jit

import (
	"errors"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/linker"
	"methodjit/pkg/types"
)

var errUnsupportedPlatform = errors.New("jit: method compilation is only available on linux/amd64")

const (
	DefaultCodeSize         = 0
	DefaultNativeStackSize  = 0
)

// Processor stubs out the real Processor's Facade; every method
// reports errUnsupportedPlatform rather than attempting to allocate
// executable memory.
type Processor struct{}

func NewProcessor(linker.Linker, heap.Heap, int) (*Processor, error) {
	return nil, errUnsupportedPlatform
}

func (p *Processor) Close() error { return nil }

func (p *Processor) Invoke(*Thread, *classfile.Method, types.Word, []types.Word) (types.Word, error) {
	return 0, errUnsupportedPlatform
}

func (p *Processor) StackTrace(*Thread) []string { return nil }

// Thread stubs out the real per-call-chain native stack.
type Thread struct{}

func NewThread(int) (*Thread, error) { return nil, errUnsupportedPlatform }

func (t *Thread) Free() {}
