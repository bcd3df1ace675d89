package bitsequence

import "testing"

func TestObjectMaskMarkAndSlots(t *testing.T) {
	m := NewObjectMask(5)
	m.MarkObject(1)
	m.MarkObject(3)

	if !m.IsObject(1) || !m.IsObject(3) {
		t.Error("marked slots were not reported as objects")
	}
	if m.IsObject(0) || m.IsObject(2) || m.IsObject(4) {
		t.Error("unmarked slot was reported as an object")
	}

	slots := m.ObjectSlots()
	if len(slots) != 2 || slots[0] != 1 || slots[1] != 3 {
		t.Errorf("ObjectSlots() = %v, want [1 3]", slots)
	}
}

func TestObjectMaskBytesLength(t *testing.T) {
	m := NewObjectMask(9)
	if got := len(m.Bytes()); got != 2 {
		t.Errorf("len(Bytes()) = %d, want 2 (9 bits rounds up to 2 bytes)", got)
	}
}

func TestObjectMaskPacksLSBFirstWithinByte(t *testing.T) {
	m := NewObjectMask(8)
	m.MarkObject(0)
	m.MarkObject(3)

	if got := m.Bytes()[0]; got != 0x09 {
		t.Errorf("Bytes()[0] = %#x, want 0x09 (bits 0 and 3 set)", got)
	}
}

func TestObjectMaskLen(t *testing.T) {
	m := NewObjectMask(17)
	if m.Len() != 17 {
		t.Errorf("Len() = %d, want 17", m.Len())
	}
}
