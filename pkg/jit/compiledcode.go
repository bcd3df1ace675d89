//go:build linux && amd64

package jit

import (
	"encoding/binary"
	"errors"

	"methodjit/pkg/classfile"
	"methodjit/pkg/util"
)

var errShortCompiledCode = errors.New("jit: truncated compiled code object")

// CompiledCode is the Compiled Code Object described by §3 and laid out
// bit-exactly by §6: a machine-code body plus the side tables a Frame
// Walker needs to map a faulting PC back to a source line and an
// active exception handler, without touching the original Method
// struct at unwind time.
type CompiledCode struct {
	entryPoint  uintptr
	body        []byte
	lines       []classfile.LineNumberEntry
	handlers    []classfile.ExceptionHandler
	invokeSites []InvokeSite
	method      *classfile.Method
	pool        *classfile.ConstantPool

	// poolWords is the resolved constant-pool word array poolReg
	// addresses at runtime (see Compiler.buildPoolWords). Kept here so
	// the backing array stays reachable, and hence unreclaimed, for as
	// long as this CompiledCode is — the compiled body's prologue bakes
	// its address in as a bare immediate, which the garbage collector
	// cannot see or update.
	poolWords []uintptr
}

// InvokeSite records one invoke instruction's self-patching geometry
// within the compiled body (§4.5): callTargetOffset is where the
// call-target immediate lives (initially methodStubEntry's address,
// later rewritten in place once the callee is compiled), and
// selfPatchOffset is where the immediate that tells methodStubEntry
// *where* to rewrite lives. Both are body-relative; a Processor
// installing this CompiledCode into the executable arena adds its
// final entryPoint to each before the site is ever reachable (see
// Processor.install).
type InvokeSite struct {
	CallTargetOffset int
	SelfPatchOffset  int
}

// EntryPoint satisfies classfile.CompiledCode.
func (c *CompiledCode) EntryPoint() uintptr { return c.entryPoint }

// SetEntryPoint records where this code's body was copied into the
// executable arena; called once by the Processor at install time,
// before any invoke site referencing this method is patched to call
// it directly.
func (c *CompiledCode) SetEntryPoint(p uintptr) { c.entryPoint = p }

// InvokeSites returns this method's own invoke sites, which the
// Processor resolves against its own entryPoint (once known) to prime
// each site's self-patch immediate.
func (c *CompiledCode) InvokeSites() []InvokeSite { return c.invokeSites }

// PoolWords returns the resolved constant-pool word array poolReg is
// baked to address, for diagnostics and tests.
func (c *CompiledCode) PoolWords() []uintptr { return c.poolWords }

func (c *CompiledCode) Method() *classfile.Method        { return c.method }
func (c *CompiledCode) Pool() *classfile.ConstantPool     { return c.pool }
func (c *CompiledCode) Body() []byte                      { return c.body }
func (c *CompiledCode) Bounds() (start, end uintptr)      { return c.entryPoint, c.entryPoint + uintptr(len(c.body)) }
func (c *CompiledCode) Handlers() []classfile.ExceptionHandler { return c.handlers }

// LineForPC returns the source line active at the given offset into
// the compiled body, or -1 if no entry covers it. Entries are recorded
// in ascending bytecode-index order as the compiler walks the method,
// and since machine offset is monotonic in compile order too, the last
// entry whose offset is <= pc applies.
func (c *CompiledCode) LineForPC(pcOffset int) int {
	line := -1
	for _, e := range c.lines {
		if e.BCI > pcOffset {
			break
		}
		line = e.Line
	}
	return line
}

// HandlerForPC returns the innermost exception handler covering
// pcOffset whose catch type is assignable from thrownClass, or nil.
// catchAssignable receives the handler's raw constant-pool catch-type
// index and decides whether it matches; callers resolve that via the
// Linker, keeping this package free of a Linker import.
func (c *CompiledCode) HandlerForPC(pcOffset int, catchAssignable func(catchTypeCP int) bool) *classfile.ExceptionHandler {
	for i := range c.handlers {
		h := &c.handlers[i]
		if pcOffset >= h.StartBCI && pcOffset < h.EndBCI && catchAssignable(h.CatchTypeCP) {
			return h
		}
	}
	return nil
}

// Marshal serializes the code object to the bit-exact binary layout of
// §6: u32 code_length, u32 line_table_length_bytes, u32
// handler_table_length_bytes, then the code bytes, then line-number
// entries, then handler entries, each region padded to a 4-byte
// boundary.
func (c *CompiledCode) Marshal() []byte {
	lineSection := make([]byte, len(c.lines)*8) // BCI u32 + line u32
	for i, e := range c.lines {
		binary.LittleEndian.PutUint32(lineSection[i*8:i*8+4], uint32(e.BCI))
		binary.LittleEndian.PutUint32(lineSection[i*8+4:i*8+8], uint32(e.Line))
	}

	handlerSection := make([]byte, len(c.handlers)*16) // 4 u32 fields
	for i, h := range c.handlers {
		base := i * 16
		binary.LittleEndian.PutUint32(handlerSection[base:base+4], uint32(h.StartBCI))
		binary.LittleEndian.PutUint32(handlerSection[base+4:base+8], uint32(h.EndBCI))
		binary.LittleEndian.PutUint32(handlerSection[base+8:base+12], uint32(h.HandlerBCI))
		binary.LittleEndian.PutUint32(handlerSection[base+12:base+16], uint32(h.CatchTypeCP))
	}

	codePadded := util.OctetArrayZeroPadding(c.body, 4)
	linePadded := util.OctetArrayZeroPadding(lineSection, 4)
	handlerPadded := util.OctetArrayZeroPadding(handlerSection, 4)

	out := make([]byte, 0, 12+len(codePadded)+len(linePadded)+len(handlerPadded))
	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(c.body)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(lineSection)))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(handlerSection)))

	out = append(out, header[:]...)
	out = append(out, codePadded...)
	out = append(out, linePadded...)
	out = append(out, handlerPadded...)
	return out
}

// UnmarshalCompiledCode parses the layout Marshal produces. The
// resulting object's entryPoint and Method/Pool fields are left zero;
// callers that load a persisted code object back into an executable
// arena must set those separately once the bytes are copied into
// place.
func UnmarshalCompiledCode(data []byte) (*CompiledCode, error) {
	if len(data) < 12 {
		return nil, errShortCompiledCode
	}
	codeLen := binary.LittleEndian.Uint32(data[0:4])
	lineBytes := binary.LittleEndian.Uint32(data[4:8])
	handlerBytes := binary.LittleEndian.Uint32(data[8:12])

	pad := func(n uint32) uint32 { return (n + 3) &^ 3 }
	off := 12
	body := make([]byte, codeLen)
	copy(body, data[off:off+int(codeLen)])
	off += int(pad(codeLen))

	lines := make([]classfile.LineNumberEntry, 0, lineBytes/8)
	for i := uint32(0); i < lineBytes; i += 8 {
		bci := binary.LittleEndian.Uint32(data[off+int(i):])
		line := binary.LittleEndian.Uint32(data[off+int(i)+4:])
		lines = append(lines, classfile.LineNumberEntry{BCI: int(bci), Line: int(line)})
	}
	off += int(pad(lineBytes))

	handlers := make([]classfile.ExceptionHandler, 0, handlerBytes/16)
	for i := uint32(0); i < handlerBytes; i += 16 {
		base := off + int(i)
		handlers = append(handlers, classfile.ExceptionHandler{
			StartBCI:    int(binary.LittleEndian.Uint32(data[base:])),
			EndBCI:      int(binary.LittleEndian.Uint32(data[base+4:])),
			HandlerBCI:  int(binary.LittleEndian.Uint32(data[base+8:])),
			CatchTypeCP: int(binary.LittleEndian.Uint32(data[base+12:])),
		})
	}

	return &CompiledCode{body: body, lines: lines, handlers: handlers}, nil
}
