//go:build linux && amd64

package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/linker"
	"methodjit/pkg/types"
	"methodjit/pkg/vmerrors"
)

// Processor is the Facade that owns every piece of process-wide state a
// compiled call needs: the code cache, the executable arena compiled
// bodies are copied into, and the Linker/Heap collaborators the compiler
// and the runtime-call gate both resolve against. Only one Processor is
// expected to be active per process — its helperContext is published to
// the package-level activeHelperContext runtimeCallGate reads, so a
// second Processor would race the first for that slot.
type Processor struct {
	cache  *CodeCache
	mem    *ExecutableMemory
	linker linker.Linker
	heap   heap.Heap

	compileMu sync.Mutex // serializes compile-and-install against the cache
}

// NewProcessor wires a Processor and publishes it as the active helper
// context. codeSize <= 0 selects DefaultCodeSize.
func NewProcessor(l linker.Linker, h heap.Heap, codeSize int) (*Processor, error) {
	mem, err := NewExecutableMemory(codeSize)
	if err != nil {
		return nil, err
	}
	p := &Processor{
		cache:  NewCodeCache(),
		mem:    mem,
		linker: l,
		heap:   h,
	}
	activeHelperContext = &helperContext{
		heap:              h,
		linker:            l,
		compileAndInstall: p.compileAndInstall,
	}
	return p, nil
}

// Close releases the executable arena. Any compiled code with a live
// call chain still on some Thread's native stack must not be running
// when this is called.
func (p *Processor) Close() error { return p.mem.Free() }

// compileAndInstall is the single path every lazy-compilation trigger
// goes through, whether from methodStubEntry's HelperCompileAndGetEntry
// call or from Processor.Invoke priming a method before its first call.
// It is idempotent: a method already cached returns its existing entry
// point without touching the arena again.
func (p *Processor) compileAndInstall(m *classfile.Method) (uintptr, error) {
	p.compileMu.Lock()
	defer p.compileMu.Unlock()

	if cc, ok := p.cache.Lookup(m); ok {
		return cc.EntryPoint(), nil
	}

	c := NewCompiler(m, p.linker, p.heap)
	cc, err := c.Compile()
	if err != nil {
		return 0, err
	}

	entry, err := p.install(cc)
	if err != nil {
		return 0, err
	}

	p.cache.Store(m, cc)
	m.SetCompiled(cc)
	return entry, nil
}

// install copies a freshly compiled body into the executable arena and
// fixes up every invoke site's self-patch immediate (the R10 argument
// methodStubEntry uses to rewrite its own call site once the callee is
// known) to point at that site's own call-target immediate, now that
// both addresses are final.
func (p *Processor) install(cc *CompiledCode) (uintptr, error) {
	body := cc.Body()
	addr, slice, err := p.mem.Allocate(len(body))
	if err != nil {
		return 0, fmt.Errorf("jit: installing %s: %w", cc.Method().Name, err)
	}
	copy(slice, body)
	cc.SetEntryPoint(addr)

	for _, site := range cc.InvokeSites() {
		immAddr := addr + uintptr(site.CallTargetOffset)
		selfPatchAddr := addr + uintptr(site.SelfPatchOffset)
		if err := p.mem.WriteAt(selfPatchAddr, EncodeCallSitePatch(immAddr)); err != nil {
			return 0, fmt.Errorf("jit: priming invoke site for %s: %w", cc.Method().Name, err)
		}
	}

	return addr, nil
}

// Invoke compiles m if needed and runs it to completion on thread,
// marshalling receiver/args per m's descriptor and returning its result
// word (zero for a void method). A pending exception left by the call
// is surfaced as a *vmerrors.ThrownException rather than a result.
func (p *Processor) Invoke(thread *Thread, m *classfile.Method, receiver types.Word, args []types.Word) (types.Word, error) {
	entry, err := p.compileAndInstall(m)
	if err != nil {
		return 0, err
	}

	marshalled := MarshalArguments(m, receiver, args)
	previousFrame := thread.topFrame()
	threadAddr := uintptr(unsafe.Pointer(thread))
	words := marshalled.TrampolineWords(previousFrame, methodHandleAddr(m), threadAddr)

	stackTop := thread.stack.Top()
	// The callee's own prologue (push rbp; mov rbp, rsp) has not run
	// yet when this is computed — it runs inside invokeTrampoline,
	// which Go cannot observe mid-flight — but the final rbp value is
	// pure arithmetic on the pushed word count: invokeTrampoline pushes
	// len(words) words, `call` pushes a return address, and the
	// callee's prologue pushes the caller's rbp, so the new frame base
	// sits (len(words)+2) words below stackTop.
	newTopBase := stackTop - uintptr(len(words)+2)*wordSize
	thread.setTopFrame(newTopBase)
	defer thread.setTopFrame(previousFrame)

	result := invokeTrampoline(entry, &words[0], uintptr(len(words)), stackTop)

	if pending, has := thread.PendingException(); has {
		thread.ClearException()
		className := "java/lang/Throwable"
		if cls := p.heap.ClassOf(pending); cls != nil {
			className = cls.Name
		}
		return 0, vmerrors.NewThrownException(className, "uncaught exception from %s", m.Name)
	}

	return types.Word(result), nil
}

// StackTrace returns the call chain active on thread, innermost first,
// as method names — useful for diagnosing an exception from Go-level
// code while the thread's frames are still live (for instance, from
// inside a native method called from compiled code). Once a frame's
// `ret` has executed, NewUnwinder can no longer see it.
func (p *Processor) StackTrace(thread *Thread) []string {
	var trace []string
	NewUnwinder(thread).Walk(func(f Frame) bool {
		m := (*classfile.Method)(ptrFromAddr(f.Method()))
		if m != nil {
			trace = append(trace, m.Name)
		}
		return true
	})
	return trace
}
