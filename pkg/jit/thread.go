//go:build linux && amd64

package jit

import (
	"methodjit/pkg/heap"
)

// Thread is the VM thread handle stored in every frame's FrameThread
// slot. It owns the dedicated native stack compiled frames run on and
// the pending-exception side channel §4.7 uses to let a thrown
// exception unwind through frames that never explicitly check for it.
type Thread struct {
	stack   *NativeStack
	pending heap.ObjectID
	hasExc  bool
	topBase uintptr // frame base of the innermost active compiled frame, 0 when none
}

// NewThread allocates a thread handle with its own native stack.
func NewThread(stackSize int) (*Thread, error) {
	ns, err := NewNativeStack(stackSize)
	if err != nil {
		return nil, err
	}
	return &Thread{stack: ns}, nil
}

func (t *Thread) Free() error { return t.stack.Free() }

// SetException records a pending exception, to be observed by the
// caller-side check every invoke template emits after a call returns
// (§4.4: "Invoke... after the call returns, check the thread's pending
// exception field and branch to unwind if set").
func (t *Thread) SetException(obj heap.ObjectID) {
	t.pending = obj
	t.hasExc = true
}

func (t *Thread) ClearException() {
	t.hasExc = false
	t.pending = 0
}

func (t *Thread) PendingException() (heap.ObjectID, bool) { return t.pending, t.hasExc }

func (t *Thread) setTopFrame(base uintptr) { t.topBase = base }

func (t *Thread) topFrame() uintptr { return t.topBase }
