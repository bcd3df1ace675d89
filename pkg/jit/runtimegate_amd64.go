//go:build linux && amd64

package jit

import (
	"reflect"
	"sync"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/linker"
	"methodjit/pkg/types"
	"methodjit/pkg/vmerrors"
)

// gateAddress returns runtimeCallGate's entry address, cached after
// the first lookup since it never changes for the life of the
// process.
var gateAddr uintptr

func gateAddress() uintptr {
	if gateAddr == 0 {
		gateAddr = reflect.ValueOf(runtimeCallGate).Pointer()
	}
	return gateAddr
}

// methodStubAddr/methodStubAddress mirror gateAddr/gateAddress for
// methodStubEntry (runtimegate_amd64.s), the lazy-compilation target
// every invoke site's call-target immediate is initialized to.
var methodStubAddr uintptr

func methodStubAddress() uintptr {
	if methodStubAddr == 0 {
		methodStubAddr = reflect.ValueOf(methodStubEntry).Pointer()
	}
	return methodStubAddr
}

// Helper identifies one of the small set of operations compiled code
// cannot do inline and must call back into the host runtime for:
// anything that can allocate, anything that can trigger class
// initialization, and anything that throws. Everything else (field
// access, arithmetic, array indexing once bounds-checked) is emitted
// as straight-line machine code with no call at all.
type Helper uint64

const (
	HelperAllocate Helper = iota
	HelperNullCheckFailed
	HelperBoundsCheckFailed
	HelperDivideByZero
	HelperThrow
	HelperEnsureInitialized
	HelperResolveVirtual
	HelperFindLocalHandler
	HelperCompileAndGetEntry // = 8; methodStubEntry (runtimegate_amd64.s) loads this ordinal as a bare immediate, so this enum's order must not change without updating it too.
	HelperCheckCast
	HelperInstanceOf
)

// helperContext is the ambient state helperDispatch needs but cannot
// receive through the gate's fixed register argument list; set once
// per Processor and read without locking since only one compiled call
// chain runs per Thread at a time.
type helperContext struct {
	heap   heap.Heap
	linker linker.Linker

	// compileAndInstall compiles m if it hasn't been already and
	// copies its body into the executable arena, returning its final
	// entry point. Set by the owning Processor, which is the only
	// thing that holds both the CodeCache and the ExecutableMemory
	// arena this package's compiler and installer need.
	compileAndInstall func(m *classfile.Method) (uintptr, error)
}

// allocateArray creates a new array of the given element type and
// length, dispatching to the Heap's per-primitive constructor the same
// way MarshalArguments' reference-slot masking dispatches on a
// descriptor's type code. elemType == TypeReference is anewarray's own
// case — elemClass is the resolved element class read through poolReg
// at the call site (Compiler.emitOne's OpANewArray case) and is passed
// straight to MakeObjectArray; newarray's existing primitive-array call
// sites still pass a class handle through this same parameter, but
// every primitive TypeCode branch below returns before it would ever
// be dereferenced.
func (ctx *helperContext) allocateArray(count int, elemType types.TypeCode, elemClass *classfile.Class) heap.ObjectID {
	switch elemType {
	case types.TypeByte, types.TypeBoolean:
		return ctx.heap.MakeByteArray(count)
	case types.TypeChar:
		return ctx.heap.MakeCharArray(count)
	case types.TypeShort:
		return ctx.heap.MakeShortArray(count)
	case types.TypeInt, types.TypeFloat:
		return ctx.heap.MakeIntArray(count)
	case types.TypeLong, types.TypeDouble:
		return ctx.heap.MakeLongArray(count)
	default:
		return ctx.heap.MakeObjectArray(elemClass, count)
	}
}

var classInitMu sync.Mutex

// ensureClassInitialized marks class initialized exactly once. See
// HelperEnsureInitialized's dispatch case for why there is no guest
// <clinit> body to run here.
func ensureClassInitialized(class *classfile.Class) {
	classInitMu.Lock()
	defer classInitMu.Unlock()
	if class.Initialized {
		return
	}
	class.Initializing = true
	class.Initialized = true
	class.Initializing = false
}

var activeHelperContext *helperContext

// helperDispatch is the Go-land side of runtimeCallGate
// (runtimegate_amd64.s). It must stay callable directly by linker
// symbol from assembly, so its signature is fixed at scalar uint64s —
// no Go-level types cross the boundary.
//
//go:noinline
func helperDispatch(id, a0, a1, a2, a3, threadPtr uint64) uint64 {
	ctx := activeHelperContext
	thread := (*Thread)(ptrFromAddr(uintptr(threadPtr)))

	switch Helper(id) {
	case HelperAllocate:
		// a0: element count, a1: the array's element type code, a2:
		// the element class handle (only meaningful when a1 is
		// TypeReference — anewarray's case; newarray's primitive call
		// sites pass through whatever accumReg happens to hold there,
		// never dereferenced). Object allocation (new, rather than
		// newarray/anewarray) never reaches this helper in the opcode
		// set this compiler implements — nothing in §4's template list
		// allocates a plain instance — so there is no further
		// class-handle variant to dispatch on here.
		var elemClass *classfile.Class
		if types.TypeCode(a1) == types.TypeReference {
			elemClass = (*classfile.Class)(ptrFromAddr(uintptr(a2)))
		}
		return uint64(ctx.allocateArray(int(a0), types.TypeCode(a1), elemClass))

	case HelperNullCheckFailed:
		exc := ctx.heap.MakeNullPointerException()
		thread.SetException(exc)
		return 1

	case HelperBoundsCheckFailed:
		exc := ctx.heap.MakeException(vmerrors.ClassArrayIndexOutOfBoundsException, "")
		thread.SetException(exc)
		return 1

	case HelperDivideByZero:
		exc := ctx.heap.MakeException(vmerrors.ClassArithmeticException, "/ by zero")
		thread.SetException(exc)
		return 1

	case HelperThrow:
		exc := heap.ObjectID(a0)
		if exc == 0 {
			exc = ctx.heap.MakeNullPointerException()
		}
		thread.SetException(exc)
		return 1

	case HelperEnsureInitialized:
		// a0: the declaring class's handle (classHandleAddr). This
		// compiler's classfile.Class carries no <clinit> bytecode body
		// of its own — embedders populate StaticFields directly before
		// a class's first static access — so there is no guest
		// initializer to run here; ensuring initialization only
		// establishes the once-only ordering classfile.Class.Initialized
		// already models, behind classInitMu so two threads racing a
		// class's first static access can't both observe it unset.
		class := (*classfile.Class)(ptrFromAddr(uintptr(a0)))
		ensureClassInitialized(class)
		return 0

	case HelperResolveVirtual:
		// a0: receiver object handle, a1: the static call site's
		// vtable index. Resolves to whichever method currently
		// occupies that slot for the receiver's actual class — the
		// method handle, not an entry point, so the caller can hand
		// it to the same lazy-compiling method stub a direct invoke
		// uses (see Compiler.emitInvoke) instead of needing its own
		// compile-and-install path.
		receiver := heap.ObjectID(a0)
		class := ctx.heap.ClassOf(receiver)
		if class == nil {
			exc := ctx.heap.MakeNullPointerException()
			thread.SetException(exc)
			return 0
		}
		index := int(a1)
		if index < 0 || index >= len(class.VTable) || class.VTable[index] == nil {
			exc := ctx.heap.MakeException(vmerrors.ClassThrowable, "no such method")
			thread.SetException(exc)
			return 0
		}
		return uint64(methodHandleAddr(class.VTable[index]))

	case HelperFindLocalHandler:
		// a0: method handle, a1: the fault's machine offset within
		// that method's compiled body (baked in by
		// Compiler.emitFaultLanding, already translated out of
		// bytecode-index space at compile time — see Compiler.Compile's
		// handler-table translation pass). Returns the absolute
		// address of a matching handler to jump to within this same
		// frame, or 0 to propagate to the caller.
		m := (*classfile.Method)(ptrFromAddr(uintptr(a0)))
		pendingID, has := thread.PendingException()
		if !has {
			return 0
		}
		cc, ok := m.MethodCompiled().(*CompiledCode)
		if !ok {
			return 0
		}
		thrownClass := ctx.heap.ClassOf(pendingID)
		h := cc.HandlerForPC(int(a1), func(catchTypeCP int) bool {
			if catchTypeCP == 0 {
				return true // catch-all / finally block
			}
			entry := cc.Pool().At(catchTypeCP - 1) // CatchTypeCP is 1-based
			catchClass, ok := entry.(*classfile.Class)
			if !ok {
				return false
			}
			return ctx.linker.IsAssignableFrom(thrownClass, catchClass)
		})
		if h == nil {
			return 0
		}
		// The exception stays pending until the asm landing in
		// emitUnwindTail has loaded it into accumReg for the handler
		// bytecode to consume — clearing it here first would race the
		// read the landing code does immediately after this call
		// returns.
		return uint64(cc.EntryPoint()) + uint64(h.HandlerBCI)

	case HelperCompileAndGetEntry:
		m := (*classfile.Method)(ptrFromAddr(uintptr(a0)))
		entry, err := ctx.compileAndInstall(m)
		if err != nil {
			thread.SetException(ctx.heap.MakeException(vmerrors.ClassThrowable, err.Error()))
			return 0
		}
		return uint64(entry)

	case HelperCheckCast:
		// a0: reference to cast (0 is always a legal cast, per null's
		// assignability to every reference type), a1: the target
		// class's handle, read through poolReg at the checkcast site
		// (Compiler.emitOne's OpCheckCast case). Raises ClassCastException
		// and leaves accumReg's post-call value as whatever the gate's
		// exception check reads off the thread rather than the
		// reference itself — emitExceptionCheck diverges to unwind
		// before anything downstream would consume it.
		if a0 == 0 {
			return 0
		}
		class := (*classfile.Class)(ptrFromAddr(uintptr(a1)))
		if !ctx.linker.InstanceOf(ctx.heap, heap.ObjectID(a0), class) {
			exc := ctx.heap.MakeException(vmerrors.ClassClassCastException, "")
			thread.SetException(exc)
			return 1
		}
		return 0

	case HelperInstanceOf:
		// a0: reference to test, a1: the target class's handle. Unlike
		// checkcast, a failed test is not exceptional — it just leaves
		// 0 in accumReg, the instanceof opcode's defined false result.
		if a0 == 0 {
			return 0
		}
		class := (*classfile.Class)(ptrFromAddr(uintptr(a1)))
		if ctx.linker.InstanceOf(ctx.heap, heap.ObjectID(a0), class) {
			return 1
		}
		return 0
	}
	return 0
}
