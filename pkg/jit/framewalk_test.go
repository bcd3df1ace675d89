//go:build linux && amd64

package jit

import (
	"testing"
	"unsafe"

	"methodjit/pkg/classfile"
)

// pushSyntheticFrame writes a frame activation record onto thread's
// native stack at a chosen base address and returns that base, mimicking
// what a compiled prologue does (push rbp; mov rbp, rsp) without
// actually running any machine code — enough to exercise Frame and
// Unwinder in isolation from the compiler and trampoline.
func pushSyntheticFrame(thread *Thread, base, callerBase, retAddr, threadHandle, methodHandle, next uintptr) {
	write := func(offset int32, v uintptr) {
		*(*uintptr)(unsafe.Pointer(base + uintptr(offset))) = v
	}
	write(FrameCallerBase, callerBase)
	write(FrameReturnAddress, retAddr)
	write(FrameThread, threadHandle)
	write(FrameMethod, methodHandle)
	write(FrameNext, next)
}

func TestFrameFieldAccessors(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	base := (high - 256) &^ 15

	var m classfile.Method
	methodAddr := uintptr(unsafe.Pointer(&m))
	pushSyntheticFrame(thread, base, 0, 0xdead, 0x1234, methodAddr, 0)

	f := Frame{base: base}
	if !f.Valid() {
		t.Fatal("Valid() = false for a non-zero base")
	}
	if f.ReturnAddress() != 0xdead {
		t.Errorf("ReturnAddress() = %#x, want 0xdead", f.ReturnAddress())
	}
	if f.Thread() != 0x1234 {
		t.Errorf("Thread() = %#x, want 0x1234", f.Thread())
	}
	if f.Method() != methodAddr {
		t.Errorf("Method() = %#x, want %#x", f.Method(), methodAddr)
	}
	if f.CallerBase() != 0 {
		t.Errorf("CallerBase() = %#x, want 0", f.CallerBase())
	}
	if f.Next().Valid() {
		t.Error("Next() should be invalid when FrameNext was written as 0")
	}
}

func TestFrameSlotAddressing(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	base := (high - 256) &^ 15
	pushSyntheticFrame(thread, base, 0, 0, 0, 0, 0)

	// Two params (footprint 2), one local beyond them: param 0 sits at
	// the highest offset, param 1 just above the frame footprint, and
	// the local sits below the frame base.
	paramFootprint := 2
	*(*uintptr)(unsafe.Pointer(base + uintptr(paramOffset(0, paramFootprint)))) = 111
	*(*uintptr)(unsafe.Pointer(base + uintptr(paramOffset(1, paramFootprint)))) = 222
	*(*uintptr)(unsafe.Pointer(base + uintptr(localOffset(2, paramFootprint)))) = 333

	f := Frame{base: base}
	if got := f.Slot(0, paramFootprint); got != 111 {
		t.Errorf("Slot(0) = %d, want 111", got)
	}
	if got := f.Slot(1, paramFootprint); got != 222 {
		t.Errorf("Slot(1) = %d, want 222", got)
	}
	if got := f.Slot(2, paramFootprint); got != 333 {
		t.Errorf("Slot(2) = %d, want 333", got)
	}
}

func TestUnwinderWalksInnermostFirst(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	outerBase := (high - 512) &^ 15
	innerBase := outerBase - 128

	pushSyntheticFrame(thread, outerBase, 0, 0xaaaa, 0, 0, 0)
	pushSyntheticFrame(thread, innerBase, outerBase, 0xbbbb, 0, 0, outerBase)
	thread.setTopFrame(innerBase)

	var seen []uintptr
	NewUnwinder(thread).Walk(func(f Frame) bool {
		seen = append(seen, f.ReturnAddress())
		return true
	})

	if len(seen) != 2 || seen[0] != 0xbbbb || seen[1] != 0xaaaa {
		t.Errorf("walk order = %#x, want [0xbbbb 0xaaaa] (innermost first)", seen)
	}
}

func TestUnwinderWalkStopsEarly(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	outerBase := (high - 512) &^ 15
	innerBase := outerBase - 128

	pushSyntheticFrame(thread, outerBase, 0, 0xaaaa, 0, 0, 0)
	pushSyntheticFrame(thread, innerBase, outerBase, 0xbbbb, 0, 0, outerBase)
	thread.setTopFrame(innerBase)

	count := 0
	NewUnwinder(thread).Walk(func(f Frame) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("visit ran %d times, want 1 (false should stop the walk immediately)", count)
	}
}

func TestUnwinderFindHandlerSkipsFramesWithoutCode(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	outerBase := (high - 512) &^ 15
	innerBase := outerBase - 128

	pushSyntheticFrame(thread, outerBase, 0, 0, 0, 0, 0)
	pushSyntheticFrame(thread, innerBase, outerBase, 0, 0, 0, outerBase)
	thread.setTopFrame(innerBase)

	outerCode := &CompiledCode{handlers: []classfile.ExceptionHandler{
		{StartBCI: 0, EndBCI: 10, HandlerBCI: 20, CatchTypeCP: 0},
	}}

	lookup := func(f Frame) *CompiledCode {
		if f.base == outerBase {
			return outerCode
		}
		return nil // the inner frame has no code object, e.g. mid-prologue
	}
	pcFor := func(f Frame) int { return 5 }
	catchAll := func(cp int) bool { return cp == 0 }

	f, h, ok := NewUnwinder(thread).FindHandler(pcFor, lookup, catchAll)
	if !ok {
		t.Fatal("FindHandler did not find the outer frame's handler")
	}
	if f.base != outerBase {
		t.Errorf("matched frame base = %#x, want %#x", f.base, outerBase)
	}
	if h.HandlerBCI != 20 {
		t.Errorf("HandlerBCI = %d, want 20", h.HandlerBCI)
	}
}

func TestUnwinderFindHandlerReturnsFalseWhenNoneMatch(t *testing.T) {
	_, _, _, thread := newTestProcessor(t)
	_, high := thread.stack.Bounds()
	base := (high - 256) &^ 15
	pushSyntheticFrame(thread, base, 0, 0, 0, 0, 0)
	thread.setTopFrame(base)

	code := &CompiledCode{}
	_, _, ok := NewUnwinder(thread).FindHandler(
		func(Frame) int { return 0 },
		func(Frame) *CompiledCode { return code },
		func(int) bool { return true },
	)
	if ok {
		t.Error("FindHandler reported a match for a code object with no handlers")
	}
}
