//go:build linux && amd64

package jit

import "encoding/binary"

// minGrowth is the smallest capacity bump CodeBuffer performs when it
// must grow; see §4.1: "Growth doubles capacity or satisfies the
// requested span, whichever is larger, subject to the configured
// minimum capacity."
const minGrowth = 256

// CodeBuffer is a growable byte vector with append/patch primitives for
// 1/2/4-byte and word-sized literals. Length is monotonically
// non-decreasing during a single compilation; patches may rewrite prior
// bytes but never extend past length.
type CodeBuffer struct {
	buf []byte
}

// NewCodeBuffer allocates a buffer with the given initial capacity hint.
func NewCodeBuffer(capacityHint int) *CodeBuffer {
	if capacityHint < minGrowth {
		capacityHint = minGrowth
	}
	return &CodeBuffer{buf: make([]byte, 0, capacityHint)}
}

func (b *CodeBuffer) Len() int { return len(b.buf) }

// Bytes returns the buffer's contents. The returned slice aliases the
// buffer's backing array and is only valid until the next append.
func (b *CodeBuffer) Bytes() []byte { return b.buf }

// grow ensures at least n more bytes of capacity, doubling capacity (or
// satisfying the request, whichever is larger) when it must reallocate.
func (b *CodeBuffer) grow(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	needed := len(b.buf) + n
	newCap := cap(b.buf) * 2
	if newCap < needed {
		newCap = needed
	}
	if newCap-cap(b.buf) < minGrowth {
		newCap = cap(b.buf) + minGrowth
	}
	grown := make([]byte, len(b.buf), newCap)
	copy(grown, b.buf)
	b.buf = grown
}

// AppendByte appends a single byte and returns its offset.
func (b *CodeBuffer) AppendByte(v byte) int {
	off := len(b.buf)
	b.grow(1)
	b.buf = append(b.buf, v)
	return off
}

// Append appends an arbitrary byte sequence and returns the offset of
// its first byte.
func (b *CodeBuffer) Append(bytes ...byte) int {
	off := len(b.buf)
	b.grow(len(bytes))
	b.buf = append(b.buf, bytes...)
	return off
}

// Append2 appends a little-endian uint16.
func (b *CodeBuffer) Append2(v uint16) int {
	off := len(b.buf)
	b.grow(2)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return off
}

// Append4 appends a little-endian uint32.
func (b *CodeBuffer) Append4(v uint32) int {
	off := len(b.buf)
	b.grow(4)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return off
}

// AppendWord appends a word-sized literal: 8 bytes on this (64-bit)
// target. A 32-bit build of this package would emit 4.
func (b *CodeBuffer) AppendWord(v uint64) int {
	off := len(b.buf)
	b.grow(8)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return off
}

// Patch2 overwrites the uint16 at offset off. It never extends the
// buffer past its current length.
func (b *CodeBuffer) Patch2(off int, v uint16) {
	binary.LittleEndian.PutUint16(b.buf[off:off+2], v)
}

// Patch4 overwrites the uint32 at offset off.
func (b *CodeBuffer) Patch4(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[off:off+4], v)
}

// Read2 reads the uint16 at offset off.
func (b *CodeBuffer) Read2(off int) uint16 { return binary.LittleEndian.Uint16(b.buf[off : off+2]) }

// Read4 reads the uint32 at offset off.
func (b *CodeBuffer) Read4(off int) uint32 { return binary.LittleEndian.Uint32(b.buf[off : off+4]) }

// CopyTo copies the buffer's contents into dst, which must be at least
// Len() bytes.
func (b *CodeBuffer) CopyTo(dst []byte) { copy(dst, b.buf) }

// maxPendingRefs bounds the number of unresolved references a single
// Label tracks, per §3's "at most a fixed small number of pending
// references (≥8)".
const maxPendingRefs = 16

// Label tracks either "unresolved" (a list of offsets that referenced
// it, each holding a 4-byte rel32 placeholder) or "marked" (a fixed
// target offset). Once marked, the mark is final.
type Label struct {
	buf      *CodeBuffer
	pending  []int
	resolved bool
	target   int
}

// NewLabel creates an unresolved label bound to buf.
func NewLabel(buf *CodeBuffer) *Label {
	return &Label{buf: buf}
}

// IsMarked reports whether the label has a resolved target.
func (l *Label) IsMarked() bool { return l.resolved }

// Reference emits a 4-byte rel32 placeholder at the buffer's current
// offset (or, if the label is already marked, the correct relative
// displacement immediately) and returns the placeholder's offset.
func (l *Label) Reference() int {
	site := l.buf.Len()
	if l.resolved {
		l.buf.Append4(uint32(int32(l.target - (site + 4))))
		return site
	}
	if len(l.pending) >= maxPendingRefs {
		panic("jit: label has too many pending references")
	}
	l.buf.Append4(0)
	l.pending = append(l.pending, site)
	return site
}

// Mark resolves the label to the buffer's current offset and patches
// every pending reference with target − (ref + 4).
func (l *Label) Mark() {
	l.MarkAt(l.buf.Len())
}

// MarkAt resolves the label to an explicit target offset.
func (l *Label) MarkAt(target int) {
	if l.resolved {
		panic("jit: label marked twice")
	}
	l.resolved = true
	l.target = target
	for _, ref := range l.pending {
		l.buf.Patch4(ref, uint32(int32(target-(ref+4))))
	}
	l.pending = nil
}
