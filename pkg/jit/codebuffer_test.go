//go:build linux && amd64

package jit

import "testing"

func TestCodeBufferAppendAndPatch(t *testing.T) {
	b := NewCodeBuffer(0)

	off1 := b.AppendByte(0x90)
	off2 := b.Append2(0x1234)
	off4 := b.Append4(0xdeadbeef)
	offW := b.AppendWord(0x0102030405060708)

	if off1 != 0 || off2 != 1 || off4 != 3 || offW != 7 {
		t.Fatalf("offsets = %d,%d,%d,%d, want 0,1,3,7", off1, off2, off4, offW)
	}
	if b.Len() != 15 {
		t.Fatalf("Len() = %d, want 15", b.Len())
	}

	if got := b.Read2(off2); got != 0x1234 {
		t.Errorf("Read2 = %#x, want %#x", got, 0x1234)
	}
	if got := b.Read4(off4); got != 0xdeadbeef {
		t.Errorf("Read4 = %#x, want %#x", got, 0xdeadbeef)
	}

	b.Patch2(off2, 0x5678)
	if got := b.Read2(off2); got != 0x5678 {
		t.Errorf("Read2 after Patch2 = %#x, want %#x", got, 0x5678)
	}

	dst := make([]byte, b.Len())
	b.CopyTo(dst)
	if len(dst) != 15 || dst[0] != 0x90 {
		t.Errorf("CopyTo produced %v", dst)
	}
}

func TestCodeBufferGrowPastInitialCapacity(t *testing.T) {
	b := NewCodeBuffer(4)
	for i := 0; i < 1000; i++ {
		b.AppendByte(byte(i))
	}
	if b.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", b.Len())
	}
	for i := 0; i < 1000; i++ {
		if b.Bytes()[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b.Bytes()[i], byte(i))
		}
	}
}

// TestLabelForwardReference exercises the common case: a branch is
// emitted before its target is known, then Mark resolves every
// pending reference to the final offset.
func TestLabelForwardReference(t *testing.T) {
	b := NewCodeBuffer(0)
	l := NewLabel(b)

	b.AppendByte(0xeb) // pretend short-jump opcode byte
	ref := l.Reference()
	b.Append(0x90, 0x90, 0x90) // filler instructions between the jump and its target

	l.Mark()

	got := int32(b.Read4(ref))
	want := int32(b.Len() - (ref + 4))
	if got != want {
		t.Errorf("patched displacement = %d, want %d", got, want)
	}
}

// TestLabelBackwardReference covers a label marked before it is
// referenced (a loop head), which Reference must resolve immediately
// rather than queuing a pending patch.
func TestLabelBackwardReference(t *testing.T) {
	b := NewCodeBuffer(0)
	l := NewLabel(b)

	l.Mark() // target == 0
	b.Append(0x90, 0x90)
	ref := l.Reference()

	got := int32(b.Read4(ref))
	want := int32(0 - (ref + 4))
	if got != want {
		t.Errorf("backward displacement = %d, want %d", got, want)
	}
}

func TestLabelMarkedTwicePanics(t *testing.T) {
	b := NewCodeBuffer(0)
	l := NewLabel(b)
	l.Mark()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double Mark")
		}
	}()
	l.Mark()
}
