//go:build linux && amd64

package jit

import (
	"unsafe"

	"methodjit/pkg/classfile"
)

// Frame is a snapshot view over one activation record on a Thread's
// native stack, read directly out of memory at the fixed offsets
// frame.go defines. It is a window, not a copy: Next/Method/Thread
// read live from the stack each time they're called.
type Frame struct {
	base uintptr // value of rbp for this activation
}

func frameWordAt(base uintptr, offset int32) uintptr {
	return *(*uintptr)(unsafe.Pointer(base + uintptr(offset)))
}

// Valid reports whether f refers to a real activation record
// (the sentinel "no caller" value is 0, pushed as previousFrame by the
// outermost invoke).
func (f Frame) Valid() bool { return f.base != 0 }

// ReturnAddress returns the machine address execution resumes at in
// the caller once this frame returns.
func (f Frame) ReturnAddress() uintptr { return frameWordAt(f.base, FrameReturnAddress) }

// Thread returns the thread handle this frame was entered with.
func (f Frame) Thread() uintptr { return frameWordAt(f.base, FrameThread) }

// Method returns the method handle this frame was entered with.
func (f Frame) Method() uintptr { return frameWordAt(f.base, FrameMethod) }

// Next returns the enclosing frame, or an invalid Frame if f is the
// outermost activation on its Thread's native stack.
func (f Frame) Next() Frame { return Frame{base: frameWordAt(f.base, FrameNext)} }

// CallerBase returns the caller's own rbp value, saved by this frame's
// prologue.
func (f Frame) CallerBase() uintptr { return frameWordAt(f.base, FrameCallerBase) }

// Slot reads the word at local/parameter index v, computed against
// paramFootprint the same way the compiler's own template addressing
// does (frame.go's slotOffset).
func (f Frame) Slot(v, paramFootprint int) uintptr {
	return frameWordAt(f.base, slotOffset(v, paramFootprint))
}

// Unwinder walks a Thread's active frames from innermost to outermost,
// used both to answer stack-trace queries and, when an exception is
// thrown, to search each frame's Compiled Code Object for a matching
// exception handler before giving up and propagating past it (§4.7).
type Unwinder struct {
	thread *Thread
}

func NewUnwinder(t *Thread) *Unwinder { return &Unwinder{thread: t} }

// TopFrame returns the innermost active frame on the thread, or an
// invalid Frame if the thread has no compiled frames active.
func (u *Unwinder) TopFrame() Frame { return Frame{base: u.thread.topFrame()} }

// Walk calls visit once per active frame, innermost first, stopping
// early if visit returns false.
func (u *Unwinder) Walk(visit func(Frame) bool) {
	for f := u.TopFrame(); f.Valid(); f = f.Next() {
		if !visit(f) {
			return
		}
	}
}

// FindHandler searches frames innermost-to-outermost for a Compiled
// Code Object exception handler covering the frame's current PC
// (resolved by the caller, since only the caller knows each frame's
// live PC — the innermost frame's is the fault site itself, every
// enclosing frame's is its own call instruction's return address)
// whose catch type matches via catchAssignable. It returns the
// matching frame, the handler, and true, or a zero Frame and false if
// no frame's tables match.
func (u *Unwinder) FindHandler(
	pcForFrame func(Frame) int,
	lookupCode func(Frame) *CompiledCode,
	catchAssignable func(catchTypeCP int) bool,
) (Frame, *classfile.ExceptionHandler, bool) {
	var result Frame
	var handler *classfile.ExceptionHandler
	found := false

	u.Walk(func(f Frame) bool {
		cc := lookupCode(f)
		if cc == nil {
			return true
		}
		pc := pcForFrame(f)
		if h := cc.HandlerForPC(pc, catchAssignable); h != nil {
			result, handler, found = f, h, true
			return false
		}
		return true
	})

	return result, handler, found
}
