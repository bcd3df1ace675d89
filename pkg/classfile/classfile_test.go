package classfile

import (
	"testing"

	"methodjit/pkg/types"
)

func TestParseDescriptorPrimitivesAndReturn(t *testing.T) {
	params, ret := ParseDescriptor("(IZC)J")
	want := []types.TypeCode{types.TypeInt, types.TypeBoolean, types.TypeChar}
	if len(params) != len(want) {
		t.Fatalf("params = %v, want %v", params, want)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("params[%d] = %c, want %c", i, params[i], want[i])
		}
	}
	if ret != types.TypeLong {
		t.Errorf("ret = %c, want J", ret)
	}
}

func TestParseDescriptorReferenceAndArray(t *testing.T) {
	params, ret := ParseDescriptor("(Ljava/lang/String;[I)V")
	if len(params) != 2 {
		t.Fatalf("params = %v, want 2 entries", params)
	}
	if params[0] != types.TypeReference {
		t.Errorf("params[0] = %c, want L (reduced reference type)", params[0])
	}
	if params[1] != types.TypeArray {
		t.Errorf("params[1] = %c, want [ (reduced array type)", params[1])
	}
	if ret != types.TypeVoid {
		t.Errorf("ret = %c, want V", ret)
	}
}

func TestParseDescriptorNoArgsVoidReturn(t *testing.T) {
	params, ret := ParseDescriptor("()V")
	if len(params) != 0 {
		t.Errorf("params = %v, want none", params)
	}
	if ret != types.TypeVoid {
		t.Errorf("ret = %c, want V", ret)
	}
}

func TestParseDescriptorMultiDimensionalArrayCollapsesToOneArrayCode(t *testing.T) {
	params, _ := ParseDescriptor("([[IJ)V")
	if len(params) != 2 {
		t.Fatalf("params = %v, want 2 entries", params)
	}
	if params[0] != types.TypeArray {
		t.Errorf("params[0] = %c, want [", params[0])
	}
	if params[1] != types.TypeLong {
		t.Errorf("params[1] = %c, want J", params[1])
	}
}

func TestMethodParameterFootprintStaticVsInstance(t *testing.T) {
	static := &Method{Descriptor: "(IJ)V", Flags: FlagStatic}
	if got := static.MethodParameterFootprint(); got != 3 {
		t.Errorf("static footprint = %d, want 3 (int=1, long=2)", got)
	}

	instance := &Method{Descriptor: "(IJ)V"}
	if got := instance.MethodParameterFootprint(); got != 4 {
		t.Errorf("instance footprint = %d, want 4 (receiver + int + long)", got)
	}
}

func TestMethodParameterCountExcludesReceiver(t *testing.T) {
	m := &Method{Descriptor: "(ILjava/lang/Object;)I"}
	if got := m.MethodParameterCount(); got != 2 {
		t.Errorf("MethodParameterCount() = %d, want 2", got)
	}
}

func TestMethodReturnCode(t *testing.T) {
	m := &Method{Descriptor: "()Ljava/lang/Object;"}
	if got := m.MethodReturnCode(); got != types.TypeReference {
		t.Errorf("MethodReturnCode() = %c, want L", got)
	}
}

func TestMethodFlagsAccessors(t *testing.T) {
	m := &Method{Flags: FlagStatic | FlagFinal}
	if !m.Flags.IsStatic() || !m.Flags.IsFinal() {
		t.Error("expected IsStatic and IsFinal to both report true")
	}
	if m.Flags.IsNative() || m.Flags.IsSpecial() {
		t.Error("unset flags reported as set")
	}
}

func TestSetCompiledRoundTrips(t *testing.T) {
	m := &Method{}
	if m.MethodCompiled() != nil {
		t.Error("a fresh Method should report no compiled code")
	}
	stub := stubCompiledCode{entry: 0x4000}
	m.SetCompiled(stub)
	got := m.MethodCompiled()
	if got == nil || got.EntryPoint() != 0x4000 {
		t.Errorf("MethodCompiled() = %v, want entry point 0x4000", got)
	}
}

type stubCompiledCode struct{ entry uintptr }

func (s stubCompiledCode) EntryPoint() uintptr { return s.entry }

func TestClassIsAssignableFromWalksSuperclassChain(t *testing.T) {
	base := &Class{Name: "Base"}
	mid := &Class{Name: "Mid", Super: base}
	derived := &Class{Name: "Derived", Super: mid}

	if !derived.IsAssignableFrom(base) {
		t.Error("Derived should be assignable to Base through Mid")
	}
	if base.IsAssignableFrom(derived) {
		t.Error("Base should not be assignable to Derived")
	}
	if !derived.IsAssignableFrom(derived) {
		t.Error("a class should be assignable to itself")
	}
}

func TestConstantPoolAppendReturnsByteDisplacement(t *testing.T) {
	p := NewConstantPool()
	i0 := p.Append("first")
	i1 := p.Append("second")

	if i0 != 0 {
		t.Errorf("first Append displacement = %d, want 0", i0)
	}
	if i1 != types.BytesPerWord {
		t.Errorf("second Append displacement = %d, want %d", i1, types.BytesPerWord)
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestConstantPoolAtIsARawSliceIndexNotAByteOffset(t *testing.T) {
	p := NewConstantPool()
	p.Append("first")
	p.Append("second")

	// At(1) addresses the second entry by plain slice index, unlike
	// Append's return value, which is a byte displacement.
	if got := p.At(1); got != "second" {
		t.Errorf("At(1) = %v, want \"second\"", got)
	}
}

func TestCodeLength(t *testing.T) {
	c := &Code{Body: []byte{1, 2, 3, 4, 5}}
	if got := c.Length(); got != 5 {
		t.Errorf("Length() = %d, want 5", got)
	}
}
