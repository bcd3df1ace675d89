//go:build linux && amd64

package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// DefaultCodeSize is the initial size of the executable code arena.
	DefaultCodeSize = 16 * 1024 * 1024
)

// ExecutableMemory is a bump arena of mmap'd pages holding every
// Compiled Code Object the Compiler has emitted. The default mapping is
// RWX, same as the source material's own arena: compiled bodies and the
// self-modifying caller patch (pkg/jit/patch.go) both need to write
// into pages that other threads may already be executing, and flipping
// a shared mapping to non-executable while those threads run would
// fault them. MprotectReadExecute/MprotectReadWrite expose the
// alternative W^X-aware toggle §9 suggests ("mprotect flip or
// dual-mapping") for embedders willing to serialize all execution in the
// arena around a patch — safe to call only when no thread is currently
// running code mapped in this arena.
type ExecutableMemory struct {
	buffer []byte
	used   int
	mu     sync.Mutex
}

// NewExecutableMemory allocates an RWX arena via mmap.
func NewExecutableMemory(size int) (*ExecutableMemory, error) {
	if size <= 0 {
		size = DefaultCodeSize
	}

	buffer, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap executable memory: %w", err)
	}

	return &ExecutableMemory{buffer: buffer}, nil
}

// Allocate reserves a chunk of memory within the arena and returns its
// absolute address plus a slice the Compiler can write into.
func (em *ExecutableMemory) Allocate(size int) (uintptr, []byte, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.used+size > len(em.buffer) {
		return 0, nil, fmt.Errorf("out of executable memory: need %d, have %d", size, len(em.buffer)-em.used)
	}

	slice := em.buffer[em.used : em.used+size]
	addr := uintptr(em.used) + em.baseAddress()
	em.used += size

	return addr, slice, nil
}

// MprotectReadExecute flips the whole arena to read/execute. Only safe
// when the caller has quiesced every thread that might be executing code
// already emitted into this arena.
func (em *ExecutableMemory) MprotectReadExecute() error {
	em.mu.Lock()
	defer em.mu.Unlock()
	if err := unix.Mprotect(em.buffer, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect RX failed: %w", err)
	}
	return nil
}

// MprotectReadWrite flips the whole arena back to read/write. See
// MprotectReadExecute for the quiescence requirement.
func (em *ExecutableMemory) MprotectReadWrite() error {
	em.mu.Lock()
	defer em.mu.Unlock()
	if err := unix.Mprotect(em.buffer, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("jit: mprotect RW failed: %w", err)
	}
	return nil
}

// BaseAddress returns the base address of the arena.
func (em *ExecutableMemory) BaseAddress() uintptr {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.baseAddress()
}

func (em *ExecutableMemory) baseAddress() uintptr {
	if len(em.buffer) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&em.buffer[0]))
}

// Free releases the arena.
func (em *ExecutableMemory) Free() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.buffer == nil {
		return nil
	}

	err := unix.Munmap(em.buffer)
	em.buffer = nil
	em.used = 0
	return err
}

// Reset clears the used counter so the arena's storage can be reused.
// Only valid for throwaway/test arenas: real Compiled Code Objects are
// "not individually freed" per §5 and must never be reclaimed this way
// once published.
func (em *ExecutableMemory) Reset() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.used = 0
}

func (em *ExecutableMemory) Used() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.used
}

func (em *ExecutableMemory) Capacity() int { return len(em.buffer) }

// GetBounds returns the start and end addresses of the arena.
func (em *ExecutableMemory) GetBounds() (start, end uintptr) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.buffer) == 0 {
		return 0, 0
	}
	start = em.baseAddress()
	end = start + uintptr(len(em.buffer))
	return
}

// GetBytes returns a copy of the bytes at the given absolute address.
func (em *ExecutableMemory) GetBytes(addr uintptr, size int) []byte {
	em.mu.Lock()
	defer em.mu.Unlock()
	offset := int(addr - em.baseAddress())
	if offset < 0 || offset+size > len(em.buffer) {
		return nil
	}
	result := make([]byte, size)
	copy(result, em.buffer[offset:offset+size])
	return result
}

// WriteAt overwrites bytes at an absolute address within the arena.
// Used by the self-modifying caller-patch path (pkg/jit/patch.go).
func (em *ExecutableMemory) WriteAt(addr uintptr, data []byte) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	offset := int(addr - em.baseAddress())
	if offset < 0 || offset+len(data) > len(em.buffer) {
		return fmt.Errorf("jit: write out of bounds")
	}
	copy(em.buffer[offset:offset+len(data)], data)
	return nil
}
