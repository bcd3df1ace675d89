//go:build linux && amd64

package jit

import (
	"fmt"

	"methodjit/pkg/classfile"
	"methodjit/pkg/types"
	"methodjit/pkg/vmerrors"
)

// emitHelperCall loads id/a0..a3 and the live thread register into the
// gate's argument registers and calls it, leaving the result in
// accumReg. Every runtime helper that can throw records the exception
// on the thread (its pending-exception field and hasExc flag); the
// caller template is responsible for checking that flag and branching
// to the method's unwind path (emitExceptionCheck) immediately
// afterward. The helper's return value is not the signal: some helpers
// return 1 on a throw, others 0.
func (c *Compiler) emitHelperCall(id Helper, a0, a1, a2, a3 Reg) {
	c.asm.MovRegImm32SignExt(RDI, int32(id))
	c.asm.MovRegReg(RSI, a0)
	c.asm.MovRegReg(RDX, a1)
	c.asm.MovRegReg(RCX, a2)
	c.asm.MovRegReg(R8, a3)
	c.asm.MovRegReg(R9, threadReg)
	c.asm.CallReg(gateReg)
}

// emitExceptionCheck branches to the method's unwind label when the
// previous helper call reported a pending exception (§4.4: "after the
// call returns, check the thread's pending exception field and branch
// to unwind if set" — generalized here to also cover the synchronous
// helper-call path a failed null/bounds check takes, not only
// invoke's post-call check).
func (c *Compiler) emitExceptionCheck() {
	c.asm.MovRegMem8(scratchReg, threadReg, threadHasExcOffset())
	c.asm.CmpRegImm32(scratchReg, 0)
	ok := NewLabel(c.buf)
	c.asm.JeLabel(ok)
	c.emitFaultLanding()
	ok.Mark()
}

// emitFaultLanding emits the inline tail every failed check jumps
// into: record the current instruction's machine offset in
// faultBCIReg (used by the shared unwind tail to find a matching
// handler), then jump there. Checks place it behind a skip-if-ok
// jump; athrow, which always throws, falls straight into it.
func (c *Compiler) emitFaultLanding() {
	offset, _ := c.ips.Offset(c.curBCI)
	c.asm.MovRegImm32SignExt(faultBCIReg, int32(offset))
	c.asm.JmpLabel(c.unwindLabel())
}

// emitPush shifts the current top-of-stack value (accumReg) down into
// scratchReg before a value-producing template overwrites accumReg
// with the value it is pushing. Most consuming templates in this
// opcode set (a binary op, a comparison, a field store) are reached
// immediately after exactly two pushes, so the window only needs to
// hold scratchReg/accumReg. Array store is the one exception — it
// needs arrayref, index, and value live at once — so a third
// consecutive push spills scratchReg's current occupant to the native
// stack (via a real push instruction, not a third window register;
// every general-purpose register is already a fixed role or a live
// argument to the next helper call) rather than losing it. The spilled
// value is popped back by whichever template consumes it (see
// emitArrayStore).
func (c *Compiler) emitPush() {
	if c.winDepth >= 2 {
		c.asm.Push(scratchReg)
	}
	c.asm.MovRegReg(scratchReg, accumReg)
	c.winDepth++
}

func (c *Compiler) unwindLabel() *Label {
	if c.unwind == nil {
		c.unwind = NewLabel(c.buf)
	}
	return c.unwind
}

// resolvePoolEntry fetches and type-asserts a constant-pool entry,
// wrapping a type mismatch as a verifier-grade CompileError rather
// than panicking — a malformed pool entry is the linker/verifier's
// failure to catch, per §7, not a reason to crash the compiler.
func resolvePoolEntry[T any](c *Compiler, bci, index int) (T, error) {
	var zero T
	raw := c.pool.At(index)
	v, ok := raw.(T)
	if !ok {
		return zero, vmerrors.NewCompileError(bci, "pool entry %d has unexpected type %T", index, raw)
	}
	return v, nil
}

// emitOne emits the template for one bytecode instruction and returns
// its length in the bytecode stream (including its operands).
func (c *Compiler) emitOne(op Opcode, body []byte, bci, paramFootprint int) (int, error) {
	switch op {
	case OpNop:
		c.asm.Nop()
		return 1, nil

	case OpIConstM1:
		c.emitPush()
		c.asm.MovRegImm32SignExt(accumReg, -1)
		return 1, nil

	case OpIConst0:
		c.emitPush()
		c.asm.MovRegImm32SignExt(accumReg, 0)
		return 1, nil

	case OpLdc:
		index := int(body[bci+1])
		if _, err := resolvePoolEntry[int32](c, bci, index); err != nil {
			return 0, err
		}
		c.emitPush()
		c.reloadPoolRegIfNeeded()
		c.asm.MovRegMem64(accumReg, poolReg, int32(index*wordSize))
		return 2, nil

	case OpILoad, OpALoad:
		slot := int(body[bci+1])
		c.emitPush()
		c.asm.MovRegMem64(accumReg, RBP, slotOffset(slot, paramFootprint))
		return 2, nil

	case OpIStore, OpAStore:
		slot := int(body[bci+1])
		c.asm.MovMemReg64(RBP, slotOffset(slot, paramFootprint), accumReg)
		c.winDepth = 0
		return 2, nil

	case OpIAdd:
		// Stack-machine operands arrive left-then-right: the template
		// that pushed the right (top-of-stack) operand has already
		// shifted the left operand down into scratchReg (emitPush), so
		// the add reads them in the correct order directly — fixing
		// the operand-order defect noted in §9 ("iadd reads its
		// operands in the wrong order, silently miscomputing any
		// non-commutative follow-on like a subsequent isub").
		c.asm.AddRegReg(accumReg, scratchReg)
		c.winDepth = 1
		return 1, nil

	case OpISub:
		c.asm.MovRegReg(RDX, scratchReg)
		c.asm.SubRegReg(RDX, accumReg)
		c.asm.MovRegReg(accumReg, RDX)
		c.winDepth = 1
		return 1, nil

	case OpIMul:
		c.asm.IMulRegReg(scratchReg, accumReg)
		c.asm.MovRegReg(accumReg, scratchReg)
		c.winDepth = 1
		return 1, nil

	case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
		target := bci + s16(body, bci+1)
		c.reloadPoolRegIfNeeded()
		c.asm.CmpRegReg(scratchReg, accumReg)
		c.winDepth = 0
		l := c.labelFor(target)
		switch op {
		case OpIfICmpEq:
			c.asm.JeLabel(l)
		case OpIfICmpNe:
			c.asm.JneLabel(l)
		case OpIfICmpLt:
			c.asm.JlLabel(l)
		case OpIfICmpGe:
			c.asm.JgeLabel(l)
		case OpIfICmpGt:
			c.asm.JgLabel(l)
		case OpIfICmpLe:
			c.asm.JleLabel(l)
		}
		return 3, nil

	case OpGoto:
		target := bci + s16(body, bci+1)
		c.reloadPoolRegIfNeeded()
		c.asm.JmpLabel(c.labelFor(target))
		return 3, nil

	case OpIReturn, OpAReturn:
		c.emitEpilogue()
		return 1, nil

	case OpReturn:
		c.asm.MovRegImm32SignExt(accumReg, 0)
		c.emitEpilogue()
		return 1, nil

	case OpGetStatic, OpPutStatic:
		index := u16(body, bci+1)
		f, err := resolvePoolEntry[*classfile.Field](c, bci, index)
		if err != nil {
			return 0, err
		}
		c.emitStaticFieldAccess(f, index, op == OpPutStatic)
		return 3, nil

	case OpGetField, OpPutField:
		index := u16(body, bci+1)
		f, err := resolvePoolEntry[*classfile.Field](c, bci, index)
		if err != nil {
			return 0, err
		}
		c.emitInstanceFieldAccess(f, op == OpPutField)
		return 3, nil

	case OpInvokeStatic, OpInvokeVirtual, OpInvokeSpecial:
		index := u16(body, bci+1)
		m, err := resolvePoolEntry[*classfile.Method](c, bci, index)
		if err != nil {
			return 0, err
		}
		if op == OpInvokeSpecial && !c.linker.IsSpecialMethod(m) {
			return 0, vmerrors.NewCompileError(bci, "invokespecial target %s.%s%s is not a special method", m.Class.Name, m.Name, m.Descriptor)
		}
		if err := c.emitInvoke(m, index, op == OpInvokeVirtual); err != nil {
			return 0, err
		}
		return 3, nil

	case OpArrayLength:
		c.emitNullCheck(accumReg)
		c.asm.MovRegMem32(accumReg, accumReg, 0) // array length word at offset 0 (heap.Object convention)
		return 1, nil

	case OpIALoad, OpAALoad:
		c.emitArrayLoad(op == OpAALoad)
		return 1, nil

	case OpIAStore, OpAAStore:
		c.emitArrayStore()
		return 1, nil

	case OpAThrow:
		c.emitHelperCall(HelperThrow, accumReg, 0, 0, 0)
		c.winDepth = 0
		c.emitFaultLanding()
		return 1, nil

	case OpNewArray:
		elemType := body[bci+1]
		c.asm.MovRegImm32SignExt(RDX, int32(elemType))
		c.emitHelperCall(HelperAllocate, accumReg, RDX, 0, 0)
		return 2, nil

	case OpANewArray:
		index := u16(body, bci+1)
		if _, err := resolvePoolEntry[*classfile.Class](c, bci, index); err != nil {
			return 0, err
		}
		c.reloadPoolRegIfNeeded()
		c.asm.MovRegImm32SignExt(RDX, int32(types.TypeReference))
		c.asm.MovRegMem64(R8, poolReg, int32(index*wordSize))
		c.emitHelperCall(HelperAllocate, accumReg, RDX, R8, 0)
		return 3, nil

	case OpCheckCast:
		// checkcast verifies in place — the reference stays on the
		// expression stack whether the cast succeeds or not — but the
		// helper call clobbers accumReg with its own return value (the
		// gate's calling convention, like every helper call), so the
		// reference is saved across the call the same way
		// emitStaticFieldAccess saves scratchReg's pending operand.
		index := u16(body, bci+1)
		if _, err := resolvePoolEntry[*classfile.Class](c, bci, index); err != nil {
			return 0, err
		}
		c.reloadPoolRegIfNeeded()
		c.asm.MovRegMem64(RDX, poolReg, int32(index*wordSize))
		c.asm.Push(accumReg)
		c.emitHelperCall(HelperCheckCast, accumReg, RDX, 0, 0)
		c.emitExceptionCheck()
		c.asm.Pop(accumReg)
		return 3, nil

	case OpInstanceOf:
		index := u16(body, bci+1)
		if _, err := resolvePoolEntry[*classfile.Class](c, bci, index); err != nil {
			return 0, err
		}
		c.reloadPoolRegIfNeeded()
		c.asm.MovRegMem64(RDX, poolReg, int32(index*wordSize))
		c.emitHelperCall(HelperInstanceOf, accumReg, RDX, 0, 0)
		return 3, nil

	default:
		return 0, fmt.Errorf("unimplemented opcode %s", opName(op))
	}
}

// emitNullCheck branches to the helper gate (and from there to the
// method's unwind path) when reg is the null reference (0), rather
// than relying on a hardware SIGSEGV trap: §4.4 describes array and
// field access as checking explicitly before dereferencing, which is
// also what keeps the JIT's fault model independent of any OS signal
// plumbing.
func (c *Compiler) emitNullCheck(reg Reg) {
	c.asm.CmpRegImm32(reg, 0)
	ok := NewLabel(c.buf)
	c.asm.JneLabel(ok)
	c.emitHelperCall(HelperNullCheckFailed, 0, 0, 0, 0)
	c.emitFaultLanding()
	ok.Mark()
}

// emitBoundsCheck branches to the unwind path when indexReg is outside
// [0, length-at-offset-0-of-arrayReg). The length is staged through
// RDX rather than scratchReg, since callers routinely pass scratchReg
// itself as arrayReg or indexReg (emitArrayLoad, emitArrayStore) — a
// temp that aliased either argument would clobber it out from under
// the comparison or the access that follows.
func (c *Compiler) emitBoundsCheck(arrayReg, indexReg Reg) {
	c.asm.MovRegMem32(RDX, arrayReg, 0)
	c.asm.CmpRegReg(indexReg, RDX)
	ok := NewLabel(c.buf)
	c.asm.JbLabel(ok)
	c.emitHelperCall(HelperBoundsCheckFailed, 0, 0, 0, 0)
	c.emitFaultLanding()
	ok.Mark()
}

func (c *Compiler) emitArrayLoad(isReference bool) {
	// Stack order: ..., arrayref, index -> accumReg holds index (top),
	// scratchReg holds arrayref (pushed just before it).
	c.emitNullCheck(scratchReg)
	c.emitBoundsCheck(scratchReg, accumReg)
	c.asm.MovRegMemIdx64(accumReg, scratchReg, accumReg)
	c.winDepth = 1
	_ = isReference // element size/signedness left uniform at word granularity for this template set
}

// emitArrayStore consumes the three operands iastore/aastore need at
// once — arrayref, index, value — one more than the two-register
// window holds. The third consecutive push (the value) already
// spilled scratchReg's occupant at that point (the arrayref) to the
// native stack rather than losing it (see emitPush), so this template
// pops it back into R11 before using it: R11 is free here because
// nothing between the spill and this pop can have called through the
// gate (a null/bounds check's helper call only happens on the failing
// branch, which diverges straight to unwind and never returns here).
func (c *Compiler) emitArrayStore() {
	c.asm.Pop(R11)
	c.emitNullCheck(R11)
	c.emitBoundsCheck(R11, scratchReg)
	c.asm.MovMemIdxReg64(R11, scratchReg, accumReg)
	c.winDepth = 0
}

// emitStaticFieldAccess ensures f's declaring class is initialized,
// then loads or stores through the class's static storage base. The
// declaring class's handle is read through poolReg at poolIndex rather
// than baked in as a compile-time immediate, since the pool register
// — not a stray per-field immediate — is this compiler's one sanctioned
// way to get a pool-resolved handle into a register (see
// Compiler.buildPoolWords). GETSTATIC is a push (it produces a value
// without consuming one), so it shifts the window before the call;
// PUTSTATIC is a pure pop and leaves the window alone. Either way, the
// ensure-initialized call below reaches the gate, which clobbers
// accumReg/scratchReg — both are saved across that call on the native
// stack (scratchReg's pending operand for GETSTATIC's case, accumReg's
// value to store for PUTSTATIC's) rather than trusting them to
// survive. poolReg itself needs no such save: the
// gate's calling convention guarantees it survives a helper call
// uncorrupted (see poolRegLoaded's doc comment).
func (c *Compiler) emitStaticFieldAccess(f *classfile.Field, poolIndex int, isPut bool) {
	if !isPut {
		c.emitPush()
	}
	c.asm.Push(scratchReg)
	c.asm.Push(accumReg)
	c.reloadPoolRegIfNeeded()
	c.asm.MovRegMem64(RDX, poolReg, int32(poolIndex*wordSize))
	c.emitHelperCall(HelperEnsureInitialized, RDX, 0, 0, 0)
	c.emitExceptionCheck()
	c.asm.Pop(accumReg)
	c.asm.Pop(scratchReg)

	c.asm.MovRegImm64Aligned(RDX, uint64(staticFieldsBase(f)))
	if isPut {
		c.asm.MovMemReg64(RDX, int32(f.Offset), accumReg)
		c.winDepth = 0
	} else {
		c.asm.MovRegMem64(accumReg, RDX, int32(f.Offset))
	}
}

// emitInstanceFieldAccess handles GETFIELD/PUTFIELD. GETFIELD is a
// transform in place — one preceding push landed the object reference
// in accumReg, and the loaded field value replaces it there — while
// PUTFIELD is a pure pop of two operands (object reference pushed
// before the value, so it sits in scratchReg once the value's push
// shifted it down).
func (c *Compiler) emitInstanceFieldAccess(f *classfile.Field, isPut bool) {
	if isPut {
		c.emitNullCheck(scratchReg)
		c.asm.MovMemReg64(scratchReg, int32(f.Offset), accumReg)
		c.winDepth = 0
	} else {
		c.emitNullCheck(accumReg)
		c.asm.MovRegMem64(accumReg, accumReg, int32(f.Offset))
	}
}

// emitInvoke pushes this call's argument words and frame triple
// (previousFrame, method, thread — §4.3's push order) onto the native
// stack, then calls through the generic method stub (§4.5): the call
// target is initially methodStubEntry's address, loaded with
// MovRegImm64Aligned so the stub can rewrite it in place, through a
// single aligned store, once the callee is compiled.
//
// This compiler's expression window holds at most the top two operand
// stack slots live in registers (scratchReg, accumReg — see emitPush),
// so it supports invoking a method whose parameter footprint
// (receiver included) is 0, 1, or 2 words; a call site is reached
// immediately after exactly that many pushes, the same invariant every
// other binary template in this package relies on. A footprint of 3 or
// more is rejected with a CompileError rather than silently popping more
// bytes off the native stack after the call than were ever pushed before
// it — iastore/aastore's own 3-operand case gets away with a window
// overflow because it always knows exactly which three operands are
// live and spills the same one every time (see emitPush); a call site's
// argument count varies per callee, so there is no single deeper slot to
// special-case the way emitPush does.
//
// Direct invoke (m known at compile time) loads m's own handle into R11
// through poolReg at poolIndex — rather than baking it in as a
// compile-time immediate — and the call site's own target-immediate
// address in R10, so methodStubEntry can patch the immediate in place
// once m is compiled; safe because a direct call site's target never
// changes.
//
// Virtual invoke resolves the vtable slot through the gate first,
// which returns the actual override's method handle (not an entry
// point), so the rest of the call proceeds through the identical
// lazy-compiling stub path — just with R10 left at zero, since a
// different receiver can resolve to a different override on a later
// call through the same site, so it must never be patched.
func (c *Compiler) emitInvoke(m *classfile.Method, poolIndex int, virtual bool) error {
	footprint := m.MethodParameterFootprint()
	if footprint > 2 {
		return vmerrors.NewCompileError(c.curBCI, "invoke target %s.%s%s needs a %d-word argument footprint, more than this compiler's 2-register expression window can feed a call site", m.Class.Name, m.Name, m.Descriptor, footprint)
	}
	var receiverReg Reg
	switch footprint {
	case 0:
		// no arguments to push
	case 1:
		c.asm.Push(accumReg)
		receiverReg = accumReg
	default: // 2: the widest footprint this compiler's window can feed a call
		c.asm.Push(scratchReg)
		c.asm.Push(accumReg)
		receiverReg = scratchReg
	}

	if virtual {
		c.asm.MovRegImm32SignExt(RDX, int32(m.VTableIndex))
		c.emitHelperCall(HelperResolveVirtual, receiverReg, RDX, 0, 0)
		c.emitExceptionCheck()
		c.asm.MovRegReg(R11, accumReg) // resolved override's method handle
	} else {
		c.reloadPoolRegIfNeeded()
		c.asm.MovRegMem64(R11, poolReg, int32(poolIndex*wordSize))
	}

	c.asm.Push(RBP)
	targetOffset := c.asm.MovRegImm64Aligned(RAX, uint64(methodStubAddress()))
	if virtual {
		c.asm.MovRegImm32SignExt(R10, 0)
	} else {
		selfPatchOffset := c.asm.MovRegImm64Aligned(R10, 0) // filled in at install time
		c.invokeSites = append(c.invokeSites, InvokeSite{
			CallTargetOffset: targetOffset,
			SelfPatchOffset:  selfPatchOffset,
		})
	}
	c.asm.Push(R11)
	c.asm.Push(threadReg)
	c.asm.CallReg(RAX)
	c.clobberPoolReg() // the callee's prologue loaded its own pool base into poolReg

	popWords := footprint + frameFootprintWords
	c.asm.AddRegImm32(RSP, int32(popWords*wordSize))
	c.emitExceptionCheck()
	c.winDepth = 1 // the callee's result, if any, is now the window's only live value
	return nil
}

// emitUnwindTail is the method-wide landing point every faultLanding
// jumps to: ask the gate whether this method's own handler table
// covers the fault (passing the method handle and the fault's machine
// offset via faultBCIReg), and either jump directly to a matching
// handler within this same frame or fall into the normal epilogue,
// letting the exception continue unwinding one native `ret` at a time.
// The method handle is reloaded fresh from FrameMethod here rather than
// read out of poolReg — poolReg holds this method's pool-words base,
// not its own handle, ever since buildPoolWords repurposed it (see
// Compiler.poolWords).
func (c *Compiler) emitUnwindTail() {
	c.unwind.Mark()
	c.asm.MovRegMem64(RDX, RBP, FrameMethod)
	c.emitHelperCall(HelperFindLocalHandler, RDX, faultBCIReg, 0, 0)

	c.asm.MovRegReg(R9, accumReg) // save the candidate jump target
	c.asm.CmpRegImm32(R9, 0)
	propagate := NewLabel(c.buf)
	c.asm.JeLabel(propagate)

	c.asm.MovRegMem64(accumReg, threadReg, threadPendingOffset())
	c.asm.MovRegImm32SignExt(scratchReg, 0)
	c.asm.MovMem8Reg(threadReg, threadHasExcOffset(), scratchReg)
	c.asm.MovRegImm64Aligned(poolReg, uint64(c.poolBase)) // a fault after an invoke leaves the callee's pool base here
	c.asm.JmpReg(R9)

	propagate.Mark()
	c.emitEpilogue()
}
