//go:build linux && amd64

package jit

import "testing"

func TestIPMapRecordAndOffset(t *testing.T) {
	m := newIPMap()
	m.Record(0, 0x10)
	m.Record(5, 0x20)
	m.Record(12, 0x40)

	if got, ok := m.Offset(5); !ok || got != 0x20 {
		t.Errorf("Offset(5) = %#x, %v, want 0x20, true", got, ok)
	}
	if _, ok := m.Offset(6); ok {
		t.Error("Offset(6) reported a hit for a bci that was never recorded")
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}
}

func TestIPMapFloorOffsetFallsBackToNearestBelow(t *testing.T) {
	m := newIPMap()
	m.Record(0, 0x10)
	m.Record(5, 0x20)
	m.Record(12, 0x40)

	if got, ok := m.FloorOffset(5); !ok || got != 0x20 {
		t.Errorf("FloorOffset(5) (exact hit) = %#x, %v, want 0x20, true", got, ok)
	}
	if got, ok := m.FloorOffset(8); !ok || got != 0x20 {
		t.Errorf("FloorOffset(8) = %#x, %v, want 0x20, true (nearest recorded bci <= 8 is 5)", got, ok)
	}
	if got, ok := m.FloorOffset(100); !ok || got != 0x40 {
		t.Errorf("FloorOffset(100) = %#x, %v, want 0x40, true (largest recorded bci is 12)", got, ok)
	}
	if _, ok := m.FloorOffset(-1); ok {
		t.Error("FloorOffset(-1) reported a hit when no recorded bci is <= -1")
	}
}

func TestIPMapRecordReplacesExistingEntry(t *testing.T) {
	m := newIPMap()
	m.Record(3, 0x10)
	m.Record(3, 0x18)

	if got, ok := m.Offset(3); !ok || got != 0x18 {
		t.Errorf("Offset(3) = %#x, %v, want 0x18, true", got, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (re-recording the same bci must not grow the tree)", m.Len())
	}
}
