//go:build linux && amd64

package jit

import (
	"methodjit/pkg/bitsequence"
	"methodjit/pkg/classfile"
	"methodjit/pkg/types"
)

// MarshalledArgs is a flat word array ready for invokeTrampoline or
// invokeNative, paired with an ObjectMask recording which words hold
// object references a stack-walking GC would need to find. Two-word
// types (long, double) occupy two consecutive slots; only the first is
// ever marked as an object slot, since reference types never span more
// than one word.
type MarshalledArgs struct {
	Words []uint64
	Mask  *bitsequence.ObjectMask
}

// MarshalArguments lays out args according to m's descriptor (plus an
// implicit receiver slot for non-static methods), matching the word
// order paramOffset expects: arg0 first, in ascending slot order.
func MarshalArguments(m *classfile.Method, receiver types.Word, args []types.Word) MarshalledArgs {
	footprint := m.MethodParameterFootprint()
	words := make([]uint64, 0, footprint)
	mask := bitsequence.NewObjectMask(footprint)

	slot := 0
	if !m.Flags.IsStatic() {
		words = append(words, uint64(receiver))
		mask.MarkObject(slot)
		slot++
	}

	params, _ := classfile.ParseDescriptor(m.Descriptor)
	for i, t := range params {
		words = append(words, uint64(args[i]))
		if t.IsReference() {
			mask.MarkObject(slot)
		}
		slot++
		if t.WordCount() == 2 {
			words = append(words, 0) // high word of a long/double argument
			slot++
		}
	}

	return MarshalledArgs{Words: words, Mask: mask}
}

// NativeWords packs up to the first six words of a MarshalledArgs into
// the fixed 6-slot array invokeNative's register-loading ABI expects,
// zero-padding any unused trailing registers.
func (a MarshalledArgs) NativeWords() [6]uint64 {
	var out [6]uint64
	for i := 0; i < len(a.Words) && i < 6; i++ {
		out[i] = a.Words[i]
	}
	return out
}

// TrampolineWords returns the full word array invokeTrampoline should
// push, with the frame footprint triple (previousFrame, method,
// thread) appended after the arguments in the push order frame.go
// documents.
func (a MarshalledArgs) TrampolineWords(previousFrame, method, thread uintptr) []uint64 {
	out := make([]uint64, len(a.Words)+3)
	copy(out, a.Words)
	out[len(a.Words)+0] = uint64(previousFrame)
	out[len(a.Words)+1] = uint64(method)
	out[len(a.Words)+2] = uint64(thread)
	return out
}
