// Package heap is the object-heap collaborator the JIT consumes for
// allocation, root scanning, and exception-object construction (§6:
// "Heap: makeNew, makeObjectArray, per-primitive array constructors,
// makeString, makeInt, makeLong, makePointer, exception factories").
//
// The concrete Heap here is a bump-style object table: objects are
// identified by a stable ID and held in a map that grows lazily as
// allocation proceeds, one entry per live object, the same "allocate
// storage for an index only when first touched" technique the source
// material's guest-memory emulator uses for its page table — repurposed
// here from paged address-space emulation to per-object lazy allocation,
// since there is no fixed address space to carve into pages.
package heap

import (
	"sync"

	"methodjit/pkg/classfile"
	"methodjit/pkg/types"
	"methodjit/pkg/vmerrors"
)

// ObjectID is a stable handle to a heap object. It is the "pointer"
// value that flows through compiled code and argument-list reference
// slots; the concrete Heap never hands out raw Go pointers because a
// real collector would relocate them.
type ObjectID uint64

// Object is an instance: its class plus its field/element storage as
// machine words. Arrays store length at Fields[0] and elements
// thereafter, matching the array-length-at-offset-word convention the
// compiler's *aload/*astore bounds-check template assumes.
type Object struct {
	Class  *classfile.Class
	Fields []types.Word
}

// Visitor is the callback GC root scanning invokes for every live
// object reference reachable from a root: thread argument-list masked
// slots and local-reference chains, per Processor.VisitObjects.
type Visitor func(id ObjectID)

// Heap is the collaborator interface the jit package depends on. A real
// VM's collector implements this; the concrete implementation below is
// enough to drive the end-to-end test scenarios.
type Heap interface {
	MakeNew(class *classfile.Class) ObjectID
	MakeObjectArray(elementClass *classfile.Class, length int) ObjectID
	MakeByteArray(length int) ObjectID
	MakeCharArray(length int) ObjectID
	MakeShortArray(length int) ObjectID
	MakeIntArray(length int) ObjectID
	MakeLongArray(length int) ObjectID
	MakeString(s string) ObjectID
	MakeInt(v int32) ObjectID
	MakeLong(v int64) ObjectID
	MakePointer(p uintptr) ObjectID

	MakeNullPointerException() ObjectID
	MakeUnsatisfiedLinkError(symbol string) ObjectID
	MakeException(className, message string) ObjectID

	Get(id ObjectID) *Object
	ClassOf(id ObjectID) *classfile.Class
	ArrayLength(id ObjectID) int
}

// SimpleHeap is a minimal, never-collecting implementation: objects are
// never reclaimed, matching the spec's "Compiled Code Objects ... are
// never freed piecewise" posture extended to plain objects for test
// purposes. Safe for concurrent use.
type SimpleHeap struct {
	mu      sync.Mutex
	objects map[ObjectID]*Object
	next    ObjectID

	exceptionClasses map[string]*classfile.Class
}

func NewSimpleHeap() *SimpleHeap {
	return &SimpleHeap{
		objects:          make(map[ObjectID]*Object),
		next:             1,
		exceptionClasses: make(map[string]*classfile.Class),
	}
}

func (h *SimpleHeap) alloc(obj *Object) ObjectID {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.objects[id] = obj
	return id
}

func (h *SimpleHeap) MakeNew(class *classfile.Class) ObjectID {
	n := class.InstanceSize / types.BytesPerWord
	if class.InstanceSize%types.BytesPerWord != 0 {
		n++
	}
	return h.alloc(&Object{Class: class, Fields: make([]types.Word, n)})
}

func (h *SimpleHeap) makeArray(length int) *Object {
	fields := make([]types.Word, length+1)
	fields[0] = types.Word(length)
	return &Object{Fields: fields}
}

func (h *SimpleHeap) MakeObjectArray(elementClass *classfile.Class, length int) ObjectID {
	obj := h.makeArray(length)
	obj.Class = elementClass
	return h.alloc(obj)
}

func (h *SimpleHeap) MakeByteArray(length int) ObjectID  { return h.alloc(h.makeArray(length)) }
func (h *SimpleHeap) MakeCharArray(length int) ObjectID  { return h.alloc(h.makeArray(length)) }
func (h *SimpleHeap) MakeShortArray(length int) ObjectID { return h.alloc(h.makeArray(length)) }
func (h *SimpleHeap) MakeIntArray(length int) ObjectID   { return h.alloc(h.makeArray(length)) }
func (h *SimpleHeap) MakeLongArray(length int) ObjectID  { return h.alloc(h.makeArray(2 * length)) }

func (h *SimpleHeap) MakeString(s string) ObjectID {
	bytes := []byte(s)
	obj := h.makeArray(len(bytes))
	for i, b := range bytes {
		obj.Fields[i+1] = types.Word(b)
	}
	return h.alloc(obj)
}

func (h *SimpleHeap) MakeInt(v int32) ObjectID {
	return h.alloc(&Object{Fields: []types.Word{types.Word(uint32(v))}})
}

func (h *SimpleHeap) MakeLong(v int64) ObjectID {
	return h.alloc(&Object{Fields: []types.Word{types.Word(uint64(v))}})
}

func (h *SimpleHeap) MakePointer(p uintptr) ObjectID {
	return h.alloc(&Object{Fields: []types.Word{types.Word(p)}})
}

func (h *SimpleHeap) exceptionClass(name string) *classfile.Class {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.exceptionClasses[name]; ok {
		return c
	}
	c := &classfile.Class{Name: name, InstanceSize: types.BytesPerWord}
	h.exceptionClasses[name] = c
	return c
}

func (h *SimpleHeap) makeExceptionObject(className, message string) ObjectID {
	class := h.exceptionClass(className)
	msg := h.MakeString(message)
	return h.alloc(&Object{Class: class, Fields: []types.Word{types.Word(msg)}})
}

func (h *SimpleHeap) MakeNullPointerException() ObjectID {
	return h.makeExceptionObject(vmerrors.ClassNullPointerException, "")
}

func (h *SimpleHeap) MakeUnsatisfiedLinkError(symbol string) ObjectID {
	return h.makeExceptionObject("java/lang/UnsatisfiedLinkError", symbol)
}

func (h *SimpleHeap) MakeException(className, message string) ObjectID {
	return h.makeExceptionObject(className, message)
}

func (h *SimpleHeap) Get(id ObjectID) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[id]
}

func (h *SimpleHeap) ClassOf(id ObjectID) *classfile.Class {
	obj := h.Get(id)
	if obj == nil {
		return nil
	}
	return obj.Class
}

func (h *SimpleHeap) ArrayLength(id ObjectID) int {
	obj := h.Get(id)
	if obj == nil || len(obj.Fields) == 0 {
		return 0
	}
	return int(obj.Fields[0])
}

// VisitLive calls visit for every currently allocated object. A real GC
// would instead start from roots and trace; SimpleHeap never collects,
// so visiting every live object and visiting every reachable object
// coincide for its purposes.
func (h *SimpleHeap) VisitLive(visit Visitor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.objects {
		visit(id)
	}
}
