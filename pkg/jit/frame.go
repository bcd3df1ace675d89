//go:build linux && amd64

package jit

import "methodjit/pkg/types"

const wordSize = types.BytesPerWord

// Frame layout on entry to a compiled method (§3, §4.3). The caller
// pushes, in this order, previous_frame, the method handle, and the
// thread handle, then
// issues `call`. The callee's prologue does `push rbp; mov rbp, rsp`,
// after which these fixed negative-from-positive offsets hold relative
// to the new frame base (rbp):
//
//	+0  FrameCallerBase    saved caller rbp
//	+8  FrameReturnAddress return address pushed by `call`
//	+16 FrameThread        saved thread handle
//	+24 FrameMethod        saved method handle
//	+32 FrameNext          saved previous-frame pointer (linked-list link)
//
// FrameNext == FrameMethod + BytesPerWord, per the §9 fix to the
// self-referential constant-initialization defect.
const (
	FrameCallerBase    int32 = 0
	FrameReturnAddress int32 = wordSize
	FrameThread        int32 = 2 * wordSize
	FrameMethod        int32 = 3 * wordSize
	FrameNext          int32 = FrameMethod + wordSize
)

// frameFootprint is the fixed triple of words (previous-frame, method,
// thread) pushed around every managed call — the "frame footprint" of
// the glossary.
const frameFootprintWords = 3

// calleePrologueWords is the return address plus saved caller rbp that
// sit between the frame footprint and the frame base.
const calleePrologueWords = 2

// frameOverhead is the total byte span from the lowest caller-pushed
// argument slot's reference point down to the frame base: the frame
// footprint plus the callee's own prologue words.
const frameOverhead = (frameFootprintWords + calleePrologueWords) * wordSize

// paramOffset returns the displacement from the frame base (rbp) of
// parameter slot v (0-based), given the method's total parameter word
// footprint. Parameters are addressed above the frame base; parameter
// 0 sits at the highest offset, the last parameter sits just above the
// frame footprint.
func paramOffset(v, paramFootprint int) int32 {
	return int32((paramFootprint - v + 1 + frameFootprintWords) * wordSize)
}

// localOffset returns the displacement from the frame base of a local
// variable slot v (0-based, v >= paramFootprint). Locals are addressed
// below the frame base, the first local at −1 word, the next at −2
// words, and so on — the prologue must reserve
// (max_locals − paramFootprint) × word_size bytes for them.
func localOffset(v, paramFootprint int) int32 {
	return -int32((v - paramFootprint + 1) * wordSize)
}

// slotOffset dispatches to paramOffset or localOffset depending on
// whether v falls within the method's declared parameters.
func slotOffset(v, paramFootprint int) int32 {
	if v < paramFootprint {
		return paramOffset(v, paramFootprint)
	}
	return localOffset(v, paramFootprint)
}
