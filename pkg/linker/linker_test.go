package linker

import (
	"testing"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
)

func TestResolveClassAndFindMethodAcrossSuperclass(t *testing.T) {
	l := NewSimpleLinker()
	base := &classfile.Class{Name: "Base"}
	derived := &classfile.Class{Name: "Derived", Super: base}
	l.RegisterClass(base)
	l.RegisterClass(derived)

	m := &classfile.Method{Name: "greet", Descriptor: "()V", Class: base}
	l.RegisterMethod(m)

	got, err := l.ResolveClass("Derived")
	if err != nil || got != derived {
		t.Fatalf("ResolveClass(Derived) = %v, %v, want %v, nil", got, err, derived)
	}

	found, ok := l.FindMethod(derived, "greet", "()V")
	if !ok || found != m {
		t.Errorf("FindMethod did not find base's method through derived's superclass chain")
	}
}

func TestResolveClassUnknownReturnsCompileError(t *testing.T) {
	l := NewSimpleLinker()
	if _, err := l.ResolveClass("Nope"); err == nil {
		t.Error("expected an error resolving an unregistered class")
	}
}

func TestResolveFieldWalksSuperclassChain(t *testing.T) {
	l := NewSimpleLinker()
	base := &classfile.Class{Name: "Base"}
	f := &classfile.Field{Name: "count"}
	base.Fields = []*classfile.Field{f}
	derived := &classfile.Class{Name: "Derived", Super: base}

	got, err := l.ResolveField(derived, "count")
	if err != nil || got != f {
		t.Fatalf("ResolveField = %v, %v, want %v, nil", got, err, f)
	}
}

func TestResolveMethodUnknownReturnsError(t *testing.T) {
	l := NewSimpleLinker()
	c := &classfile.Class{Name: "Empty"}
	l.RegisterClass(c)
	if _, err := l.ResolveMethod(c, "missing", "()V"); err == nil {
		t.Error("expected an error resolving an unregistered method")
	}
}

func TestResolveNativeMethodLooksUpBySymbol(t *testing.T) {
	l := NewSimpleLinker()
	l.RegisterNative("Java_pkg_Cls_foo", 0xdeadbeef)
	m := &classfile.Method{Name: "foo", NativeSym: "Java_pkg_Cls_foo"}

	addr, err := l.ResolveNativeMethod(m)
	if err != nil || addr != 0xdeadbeef {
		t.Fatalf("ResolveNativeMethod = %#x, %v, want 0xdeadbeef, nil", addr, err)
	}
}

func TestResolveNativeMethodUnregisteredSymbolReturnsLinkError(t *testing.T) {
	l := NewSimpleLinker()
	m := &classfile.Method{Name: "foo", NativeSym: "Java_pkg_Cls_missing"}
	if _, err := l.ResolveNativeMethod(m); err == nil {
		t.Error("expected an error for an unregistered native symbol")
	}
}

func TestAssignVTableSlotGrowsTable(t *testing.T) {
	l := NewSimpleLinker()
	c := &classfile.Class{Name: "C"}
	m := &classfile.Method{Name: "speak"}
	l.AssignVTableSlot(c, 2, m)

	if len(c.VTable) != 3 {
		t.Fatalf("len(VTable) = %d, want 3", len(c.VTable))
	}
	if c.VTable[2] != m {
		t.Errorf("VTable[2] = %v, want %v", c.VTable[2], m)
	}
	if c.VTable[0] != nil || c.VTable[1] != nil {
		t.Error("lower vtable slots should remain nil after growing for a higher index")
	}
}

func TestIsAssignableFromRespectsHierarchyAndCatchAll(t *testing.T) {
	l := NewSimpleLinker()
	base := &classfile.Class{Name: "Base"}
	derived := &classfile.Class{Name: "Derived", Super: base}

	if !l.IsAssignableFrom(derived, base) {
		t.Error("a derived instance should be assignable to a base-typed variable")
	}
	if l.IsAssignableFrom(base, derived) {
		t.Error("a base instance should not be assignable to a derived-typed variable")
	}
	if !l.IsAssignableFrom(derived, nil) {
		t.Error("a nil target class should be treated as an unconstrained catch-all")
	}
}

func TestInstanceOfConsultsHeapClassOf(t *testing.T) {
	l := NewSimpleLinker()
	h := heap.NewSimpleHeap()
	base := &classfile.Class{Name: "Base"}
	derived := &classfile.Class{Name: "Derived", Super: base}
	id := h.MakeNew(derived)

	if !l.InstanceOf(h, id, base) {
		t.Error("InstanceOf should report true for a derived object against its base class")
	}
}

func TestIsSpecialMethodCoversStaticFinalAndSpecialFlags(t *testing.T) {
	l := NewSimpleLinker()
	cases := []struct {
		name string
		m    *classfile.Method
		want bool
	}{
		{"virtual", &classfile.Method{}, false},
		{"static", &classfile.Method{Flags: classfile.FlagStatic}, true},
		{"final", &classfile.Method{Flags: classfile.FlagFinal}, true},
		{"special", &classfile.Method{Flags: classfile.FlagSpecial}, true},
	}
	for _, c := range cases {
		if got := l.IsSpecialMethod(c.m); got != c.want {
			t.Errorf("%s: IsSpecialMethod = %v, want %v", c.name, got, c.want)
		}
	}
}
