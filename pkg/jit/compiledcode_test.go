//go:build linux && amd64

package jit

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"methodjit/pkg/classfile"
)

// TestCompiledCodeMarshalRoundTrip checks the Compiled Code Object
// binary layout survives a Marshal/UnmarshalCompiledCode round trip
// byte-for-byte in its structured fields. entryPoint, Method and Pool
// are deliberately left out of the comparison: UnmarshalCompiledCode
// documents that it leaves them zero for the caller to fill in once
// the body is copied into an arena.
func TestCompiledCodeMarshalRoundTrip(t *testing.T) {
	original := &CompiledCode{
		body: []byte{0x55, 0x48, 0x89, 0xe5, 0xc3},
		lines: []classfile.LineNumberEntry{
			{BCI: 0, Line: 10},
			{BCI: 3, Line: 11},
		},
		handlers: []classfile.ExceptionHandler{
			{StartBCI: 0, EndBCI: 5, HandlerBCI: 5, CatchTypeCP: 2},
		},
	}

	data := original.Marshal()
	if len(data)%4 != 0 {
		t.Fatalf("Marshal produced unaligned length %d", len(data))
	}

	got, err := UnmarshalCompiledCode(data)
	if err != nil {
		t.Fatalf("UnmarshalCompiledCode: %v", err)
	}

	if diff := cmp.Diff(original.body, got.body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original.lines, got.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original.handlers, got.handlers); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
}

func TestCompiledCodeMarshalEmpty(t *testing.T) {
	original := &CompiledCode{}
	data := original.Marshal()
	if len(data) != 12 {
		t.Fatalf("Marshal of an empty object = %d bytes, want 12 (header only)", len(data))
	}

	got, err := UnmarshalCompiledCode(data)
	if err != nil {
		t.Fatalf("UnmarshalCompiledCode: %v", err)
	}
	if len(got.body) != 0 || len(got.lines) != 0 || len(got.handlers) != 0 {
		t.Errorf("got non-empty sections from an empty object: %+v", got)
	}
}

func TestUnmarshalCompiledCodeRejectsShortInput(t *testing.T) {
	if _, err := UnmarshalCompiledCode([]byte{1, 2, 3}); err == nil {
		t.Error("expected an error unmarshalling a truncated header")
	}
}

func TestCompiledCodeLineForPC(t *testing.T) {
	c := &CompiledCode{
		lines: []classfile.LineNumberEntry{
			{BCI: 0, Line: 10},
			{BCI: 8, Line: 11},
			{BCI: 20, Line: 12},
		},
	}
	for _, tc := range []struct{ pc, want int }{
		{0, 10}, {5, 10}, {8, 11}, {19, 11}, {20, 12}, {100, 12},
	} {
		if got := c.LineForPC(tc.pc); got != tc.want {
			t.Errorf("LineForPC(%d) = %d, want %d", tc.pc, got, tc.want)
		}
	}

	empty := &CompiledCode{}
	if got := empty.LineForPC(0); got != -1 {
		t.Errorf("LineForPC on an object with no line table = %d, want -1", got)
	}
}

func TestCompiledCodeHandlerForPC(t *testing.T) {
	c := &CompiledCode{
		handlers: []classfile.ExceptionHandler{
			{StartBCI: 0, EndBCI: 10, HandlerBCI: 20, CatchTypeCP: 5},
			{StartBCI: 0, EndBCI: 10, HandlerBCI: 30, CatchTypeCP: 0}, // catch-all
		},
	}

	h := c.HandlerForPC(4, func(cp int) bool { return cp == 5 })
	if h == nil || h.HandlerBCI != 20 {
		t.Fatalf("HandlerForPC matched on cp 5 = %+v, want HandlerBCI 20", h)
	}

	h = c.HandlerForPC(4, func(cp int) bool { return cp == 0 || cp == 99 })
	if h == nil || h.HandlerBCI != 30 {
		t.Fatalf("HandlerForPC should fall back to the catch-all, got %+v", h)
	}

	h = c.HandlerForPC(50, func(cp int) bool { return true })
	if h != nil {
		t.Errorf("HandlerForPC outside every range = %+v, want nil", h)
	}
}
