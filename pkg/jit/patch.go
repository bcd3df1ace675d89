//go:build linux && amd64

package jit

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"methodjit/pkg/classfile"
)

func ptrFromAddr(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) } //nolint:govet

// methodHandleAddr returns m's address as a bare integer, the form
// compiled code passes a callee's method handle around in (see
// Compiler.emitInvoke and methodStubEntry's R11 argument). m is always
// kept alive for the life of the process by the class it belongs to,
// so this does not need a runtime.KeepAlive pin.
func methodHandleAddr(m *classfile.Method) uintptr { return uintptr(unsafe.Pointer(m)) }

// classHandleAddr returns c's address, passed to HelperEnsureInitialized
// so the helper knows which class's static initializer to run.
func classHandleAddr(c *classfile.Class) uintptr { return uintptr(unsafe.Pointer(c)) }

// staticFieldsBase returns the address of f's declaring class's static
// storage array. A field's class and offset are both known at compile
// time, so emitStaticFieldAccess bakes this address as an immediate
// instead of reaching it through any runtime register — static storage
// is allocated once, at class-initialization time, and never resized,
// so the address stays valid for the life of the process.
func staticFieldsBase(f *classfile.Field) uintptr {
	if len(f.Class.StaticFields) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&f.Class.StaticFields[0]))
}

// CallSite describes a direct-call instruction emitted by a
// not-yet-compiled invoke template: it calls through a method stub
// (methodStubEntry, runtimegate_amd64.s), and once the callee has been
// compiled the stub rewrites this site so every future call bypasses
// it entirely (§4.5, §9's "no observed recompilation path").
//
// immAddr is the absolute address of the 8-byte immediate operand of
// the MovRegImm64Aligned instruction the compiler emitted to load the
// callee's entry point into a scratch register before `call reg` — see
// assembler.go's MovRegImm64Aligned, which pads with NOPs specifically
// so this address is 8-byte aligned and can be rewritten with a single
// atomic store.
type CallSite struct {
	immAddr uintptr
}

// PatchDirectCallSite rewrites the call site's target in place. The
// write is a single aligned 8-byte store, so any thread concurrently
// executing the call site's `mov reg, imm64` either reads the old
// target or the new one, never a torn mix of both — the call
// instruction itself is not touched, only the immediate the mov loads
// a register from, and the mov instruction's own bytes besides the
// immediate never change.
func PatchDirectCallSite(site CallSite, newTarget uintptr) {
	ptr := (*uint64)(ptrFromAddr(site.immAddr))
	atomic.StoreUint64(ptr, uint64(newTarget))
}

// EncodeCallSitePatch returns the little-endian bytes a non-atomic
// writer (ExecutableMemory.WriteAt, used for initial emission before
// the site is ever reachable) should place at immAddr.
func EncodeCallSitePatch(target uintptr) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(target))
	return buf[:]
}
