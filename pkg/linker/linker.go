// Package linker is the class-loading-and-linking collaborator the JIT
// consumes to resolve constant-pool entries into class/method/field
// handles (§6: "Linker: resolveClass, resolveField, resolveMethod,
// resolveNativeMethod, findMethod, instanceOf, isAssignableFrom,
// isSpecialMethod").
package linker

import (
	"sync"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/vmerrors"
)

// Linker is the interface pkg/jit depends on.
type Linker interface {
	ResolveClass(name string) (*classfile.Class, error)
	ResolveField(class *classfile.Class, name string) (*classfile.Field, error)
	ResolveMethod(class *classfile.Class, name, descriptor string) (*classfile.Method, error)
	ResolveNativeMethod(m *classfile.Method) (uintptr, error)
	FindMethod(class *classfile.Class, name, descriptor string) (*classfile.Method, bool)
	InstanceOf(h heap.Heap, obj heap.ObjectID, class *classfile.Class) bool
	IsAssignableFrom(from, to *classfile.Class) bool
	IsSpecialMethod(m *classfile.Method) bool
}

// SimpleLinker is an in-memory class registry: classes and methods are
// registered ahead of time by a test or embedder rather than read from a
// class-file stream, matching the "out of scope, external collaborator"
// framing of §1 — the JIT never parses class bytes itself.
type SimpleLinker struct {
	mu      sync.RWMutex
	classes map[string]*classfile.Class
	methods map[*classfile.Class]map[string]*classfile.Method // key "name:descriptor"
	natives map[string]uintptr
}

func NewSimpleLinker() *SimpleLinker {
	return &SimpleLinker{
		classes: make(map[string]*classfile.Class),
		methods: make(map[*classfile.Class]map[string]*classfile.Method),
	}
}

// RegisterClass adds a class to the registry, keyed by name. Building
// the vtable (inheriting/overriding superclass entries) is the caller's
// responsibility via AssignVTableSlot, mirroring how a real linker lays
// out a vtable only once all overrides are known.
func (l *SimpleLinker) RegisterClass(c *classfile.Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes[c.Name] = c
	if l.methods[c] == nil {
		l.methods[c] = make(map[string]*classfile.Method)
	}
}

// RegisterMethod adds a method to its declaring class's method table.
func (l *SimpleLinker) RegisterMethod(m *classfile.Method) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.methods[m.Class] == nil {
		l.methods[m.Class] = make(map[string]*classfile.Method)
	}
	l.methods[m.Class][methodKey(m.Name, m.Descriptor)] = m
}

func methodKey(name, descriptor string) string { return name + ":" + descriptor }

func (l *SimpleLinker) ResolveClass(name string) (*classfile.Class, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.classes[name]
	if !ok {
		return nil, vmerrors.NewCompileError(0, "unresolved class: %s", name)
	}
	return c, nil
}

func (l *SimpleLinker) ResolveField(class *classfile.Class, name string) (*classfile.Field, error) {
	for c := class; c != nil; c = c.Super {
		for _, f := range c.Fields {
			if f.Name == name {
				return f, nil
			}
		}
	}
	return nil, vmerrors.NewCompileError(0, "unresolved field: %s.%s", class.Name, name)
}

func (l *SimpleLinker) ResolveMethod(class *classfile.Class, name, descriptor string) (*classfile.Method, error) {
	m, ok := l.FindMethod(class, name, descriptor)
	if !ok {
		return nil, vmerrors.NewCompileError(0, "unresolved method: %s.%s%s", class.Name, name, descriptor)
	}
	return m, nil
}

func (l *SimpleLinker) ResolveNativeMethod(m *classfile.Method) (uintptr, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addr, ok := l.natives[m.NativeSym]
	if !ok {
		return 0, vmerrors.NewLinkError(m.NativeSym)
	}
	return addr, nil
}

// RegisterNative associates a foreign symbol name with its entry point,
// resolved later by ResolveNativeMethod.
func (l *SimpleLinker) RegisterNative(symbol string, addr uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.natives == nil {
		l.natives = make(map[string]uintptr)
	}
	l.natives[symbol] = addr
}

// AssignVTableSlot records m as the override occupying class's vtable
// slot at index — called once per class, after every override in the
// hierarchy is known, the way a real linker lays out a vtable only
// once at class-preparation time rather than incrementally.
func (l *SimpleLinker) AssignVTableSlot(class *classfile.Class, index int, m *classfile.Method) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= len(class.VTable) {
		grown := make([]*classfile.Method, index+1)
		copy(grown, class.VTable)
		class.VTable = grown
	}
	class.VTable[index] = m
}

func (l *SimpleLinker) FindMethod(class *classfile.Class, name, descriptor string) (*classfile.Method, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for c := class; c != nil; c = c.Super {
		if tbl := l.methods[c]; tbl != nil {
			if m, ok := tbl[methodKey(name, descriptor)]; ok {
				return m, true
			}
		}
	}
	return nil, false
}

func (l *SimpleLinker) InstanceOf(h heap.Heap, obj heap.ObjectID, class *classfile.Class) bool {
	actual := h.ClassOf(obj)
	if actual == nil {
		return false
	}
	return l.IsAssignableFrom(actual, class)
}

// IsAssignableFrom reports whether a value of class from can be stored
// into a variable of class to.
func (l *SimpleLinker) IsAssignableFrom(from, to *classfile.Class) bool {
	if to == nil {
		return true // catch-all / unconstrained target
	}
	return from.IsAssignableFrom(to)
}

func (l *SimpleLinker) IsSpecialMethod(m *classfile.Method) bool {
	return m.Flags.IsSpecial() || m.Flags.IsStatic() || m.Flags.IsFinal()
}
