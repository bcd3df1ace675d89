//go:build linux && amd64

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func addrOf(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// DefaultNativeStackSize is the size of the dedicated stack a Thread
// runs compiled method frames on.
const DefaultNativeStackSize = 2 * 1024 * 1024

// NativeStack is a fixed-size, guard-paged stack that compiled code
// runs on instead of the calling goroutine's own stack.
//
// Compiled method bodies are raw machine code the Go runtime cannot
// walk or relocate: it knows nothing about the frame layout in
// frame.go, so it can neither grow-and-copy this code's frames the way
// it does ordinary Go stacks nor scan them during a GC. Running it on
// the goroutine's stack would let a deep recursive call chain (§8's
// recursive-call-and-unwinding scenario) run off the end of whatever
// the goroutine's stack happened to be sized at, silently corrupting
// adjacent memory instead of hitting Go's own stack-growth check. A
// dedicated mmap'd region with a PROT_NONE guard page below it turns
// that overflow into an immediate, diagnosable SIGSEGV instead.
type NativeStack struct {
	region []byte // guard page followed by the usable stack
	top    uintptr
}

// NewNativeStack allocates a stack of the given usable size (rounded
// up to a page) plus one leading guard page.
func NewNativeStack(size int) (*NativeStack, error) {
	if size <= 0 {
		size = DefaultNativeStackSize
	}
	pageSize := unix.Getpagesize()
	size = (size + pageSize - 1) &^ (pageSize - 1)

	region, err := unix.Mmap(-1, 0, size+pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: failed to mmap native stack: %w", err)
	}
	if err := unix.Mprotect(region[:pageSize], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(region)
		return nil, fmt.Errorf("jit: failed to guard native stack: %w", err)
	}

	ns := &NativeStack{region: region}
	ns.top = uintptr(addrOf(region)) + uintptr(len(region))
	ns.top &^= 15 // keep the initial pointer 16-byte aligned, per the System V AMD64 ABI
	return ns, nil
}

// Top returns the initial stack pointer value: the highest aligned
// address within the usable region, growing downward from there.
func (ns *NativeStack) Top() uintptr { return ns.top }

// Bounds returns the usable region's address range, excluding the
// guard page.
func (ns *NativeStack) Bounds() (low, high uintptr) {
	pageSize := unix.Getpagesize()
	base := addrOf(ns.region)
	return uintptr(base) + uintptr(pageSize), uintptr(base) + uintptr(len(ns.region))
}

// Free releases the stack's backing pages.
func (ns *NativeStack) Free() error {
	if ns.region == nil {
		return nil
	}
	err := unix.Munmap(ns.region)
	ns.region = nil
	return err
}
