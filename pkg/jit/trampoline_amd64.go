//go:build linux && amd64

package jit

// invokeTrampoline pushes the nWords words at *words onto the native
// stack in order — the first word ends up furthest from the frame
// base, the last word ends up adjacent to the return address `call`
// pushes — then calls entryPoint and returns RAX once it returns.
// Callers build the word array as [arg0 .. argN-1, previousFrame,
// method, thread] so the pushed layout matches the frame described in
// frame.go.
//
// Implemented in trampoline_amd64.s. The source repository's matching
// assembly trampoline (pkg/pvm/jit/asm/trampoline.go declared
// CallJITCode but shipped no .s body in the retrieved tree, and its
// sibling cgo signal-handler glue included a "signal_handler.h" that
// is likewise absent) — this is a fresh implementation grounded in
// §4.3's frame layout rather than a port of missing source.
//
// stackTop is the initial stack pointer (see NativeStack.Top) the
// pushed words and the call itself run on; the trampoline switches to
// it before pushing anything and restores the original stack pointer
// before returning, so the calling goroutine's own stack never sees a
// single byte of compiled-code execution.
//
//go:noescape
func invokeTrampoline(entryPoint uintptr, words *uint64, nWords uintptr, stackTop uintptr) uint64

// invokeNative calls fn using the platform C calling convention,
// loading the first six integer/pointer argument registers (RDI, RSI,
// RDX, RCX, R8, R9 under System V AMD64) from args. Callers pad args
// to 6 words; unused trailing registers are harmless since fn ignores
// arguments it was not declared to take. This covers the common native
// method shape (an environment handle, a receiver or class handle, and
// a handful of value arguments) described in §4.6; a native method
// needing more than six integer/pointer arguments must spill through
// the native invoker's memory marshalling path instead (see
// argmarshal.go), which this trampoline does not implement.
//
//go:noescape
func invokeNative(fn uintptr, args *uint64, stackTop uintptr) uint64

// runtimeCallGate is declared only so its entry address can be taken
// with reflect.ValueOf(runtimeCallGate).Pointer() and baked into
// compiled code as an immediate (see Compiler.emitHelperCall in
// templates.go); it is never called directly from Go. Implemented in
// runtimegate_amd64.s.
func runtimeCallGate()

// methodStubEntry is the generic lazy-compilation target every invoke
// site calls through until its callee has been compiled once (§4.5).
// Like runtimeCallGate it is never called directly from Go — only its
// address is taken, with reflect.ValueOf(methodStubEntry).Pointer(),
// and baked into every invoke site as the initial call target (see
// Compiler.emitInvoke). Implemented in runtimegate_amd64.s.
func methodStubEntry()
