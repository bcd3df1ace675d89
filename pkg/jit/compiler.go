//go:build linux && amd64

package jit

import (
	"fmt"
	"unsafe"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/linker"
	"methodjit/pkg/vmerrors"
)

// Opcode is one bytecode instruction's numeric tag, numbered the way
// the abstract bytecode §4.1-4.4 describes is modeled on, kept to only
// the instructions this compiler actually implements.
type Opcode byte

const (
	OpNop           Opcode = 0x00
	OpIConstM1      Opcode = 0x02
	OpIConst0       Opcode = 0x03
	OpLdc           Opcode = 0x12 // u8 pool index
	OpILoad         Opcode = 0x15 // u8 local slot
	OpALoad         Opcode = 0x19
	OpIStore        Opcode = 0x36
	OpAStore        Opcode = 0x3a
	OpIAdd          Opcode = 0x60
	OpISub          Opcode = 0x64
	OpIMul          Opcode = 0x68
	OpIfICmpEq      Opcode = 0x9f // s16 branch offset
	OpIfICmpNe      Opcode = 0xa0
	OpIfICmpLt      Opcode = 0xa1
	OpIfICmpGe      Opcode = 0xa2
	OpIfICmpGt      Opcode = 0xa3
	OpIfICmpLe      Opcode = 0xa4
	OpGoto          Opcode = 0xa7 // s16 branch offset
	OpIReturn       Opcode = 0xac
	OpAReturn       Opcode = 0xb0
	OpReturn        Opcode = 0xb1
	OpGetStatic     Opcode = 0xb2 // u16 pool index
	OpPutStatic     Opcode = 0xb3
	OpGetField      Opcode = 0xb4
	OpPutField      Opcode = 0xb5
	OpInvokeVirtual Opcode = 0xb6 // u16 pool index
	OpInvokeSpecial Opcode = 0xb7 // u16 pool index
	OpInvokeStatic  Opcode = 0xb8
	OpNewArray      Opcode = 0xbc // u8 element type code
	OpANewArray     Opcode = 0xbd // u16 pool index (element class)
	OpArrayLength   Opcode = 0xbe
	OpAThrow        Opcode = 0xbf
	OpCheckCast     Opcode = 0xc0 // u16 pool index
	OpInstanceOf    Opcode = 0xc1 // u16 pool index
	OpIALoad        Opcode = 0x2e
	OpIAStore       Opcode = 0x4f
	OpAALoad        Opcode = 0x32
	OpAAStore       Opcode = 0x53
)

// Registers the templates below use as fixed roles. accumReg carries
// the expression stack's top-of-stack value between adjacent
// templates instead of spilling to memory between every bytecode;
// scratchReg is the second operand of binary ops; poolReg holds the
// address of this method's resolved constant-pool word array (see
// Compiler.buildPoolWords) — every pool-indexed template (ldc,
// getstatic/putstatic's class handle, a direct invoke's method handle,
// checkcast/instanceof/anewarray's class handle) addresses through it
// with a fixed per-index displacement rather than baking the resolved
// handle as a compile-time immediate. §9's "clobbered pool register"
// defect is fixed by never letting a template write through poolReg
// without first calling clobberPoolReg, and never reading through it
// without first calling reloadPoolRegIfNeeded — see those two methods.
const (
	accumReg   = RAX
	scratchReg = RCX
	poolReg    = RBX
	threadReg  = R14 // loaded once at entry from FrameThread, never clobbered
	goStackReg = R15 // saved by invokeTrampoline; never clobbered (see trampoline_amd64.s)
	gateReg    = R13 // holds runtimeCallGate's address, loaded once at entry
)

// pendingBranch pairs a branch's bytecode target with its Label.
// Compile does not use it: branch templates resolve their targets
// through labelFor's Labels during the sweep itself.
type pendingBranch struct {
	targetBCI int
	label     *Label
}

// Compiler translates one method's bytecode body into a CompiledCode
// object in a single forward sweep over the bytecode. A branch to a
// target the sweep has not reached yet goes through a pending Label
// that is marked once the sweep arrives there; a branch to a target
// already swept is resolved at once (see labelFor).
type Compiler struct {
	method *classfile.Method
	pool   *classfile.ConstantPool
	linker linker.Linker
	heap   heap.Heap
	asm    *Assembler
	buf    *CodeBuffer
	ips    *ipMap
	labels map[int]*Label // bytecode index -> label, keyed by branch target

	// lines mirrors method.Code.LineNumbers but keyed by machine offset
	// instead of bytecode index: the sweep in Compile appends one entry
	// per source-line transition, stamped with the machine offset the
	// transition's first bytecode instruction compiled to, so
	// CompiledCode.LineForPC can look a raw PC up directly without
	// redoing the bytecode-to-machine translation at fault time.
	lines []classfile.LineNumberEntry
	unwind *Label // shared tail: search this method's handler table, jump to a local handler or fall into the epilogue
	curBCI int     // bytecode index of the instruction currently being emitted

	invokeSites []InvokeSite // one entry per invoke instruction compiled, in emission order

	// poolWords is this method's constant pool, resolved once up front
	// into one machine word per entry (see buildPoolWords), and
	// poolBase is that array's address — baked into the prologue's
	// poolReg load. The CompiledCode this compiler produces keeps a
	// reference to poolWords so the backing array outlives Compile and
	// stays valid for as long as the compiled body can run.
	poolWords []uintptr
	poolBase  uintptr

	// poolRegLoaded tracks whether poolReg currently holds poolBase, per
	// the §9 clobber-tracking requirement: it starts true once
	// emitPrologue loads it, clobberPoolReg sets it false, and
	// reloadPoolRegIfNeeded reloads and re-sets it before the next
	// pool-indexed read. emitInvoke calls clobberPoolReg after every
	// call, since the callee's own prologue loads its pool base into
	// RBX. Helper calls leave poolReg intact: runtimeCallGate saves and
	// restores it (along with threadReg, gateReg and faultBCIReg)
	// around helperDispatch. The flag follows emission order, so every
	// branch template reloads poolReg before jumping and the unwind tail
	// reloads it before entering a handler; control arriving at a branch
	// target or a handler always finds poolBase in poolReg.
	poolRegLoaded bool

	// winDepth tracks how many operand-stack slots are currently live in
	// the expression window (scratchReg, accumReg) so emitPush knows
	// when a third consecutive push — only array store's arrayref/index/
	// value sequence does this, nothing else in this opcode set needs
	// more than two live operands — must spill the window's deeper slot
	// to the native stack instead of a nonexistent third register. Every
	// template that changes the live operand count keeps it accurate;
	// it is never reset independently of what templates actually push
	// or consume.
	winDepth int
}

// faultBCIReg carries the machine offset of the throwing instruction's
// template into the shared unwind tail; R12 joins poolReg/threadReg/goStackReg/
// gateReg as a register no template may otherwise clobber.
const faultBCIReg = R12

// NewCompiler prepares a compiler for m's body.
func NewCompiler(m *classfile.Method, l linker.Linker, h heap.Heap) *Compiler {
	buf := NewCodeBuffer(256)
	return &Compiler{
		method: m,
		pool:   m.Code.Pool,
		linker: l,
		heap:   h,
		asm:    NewAssembler(buf),
		buf:    buf,
		ips:    newIPMap(),
		labels: make(map[int]*Label),
	}
}

// labelFor returns (creating if needed) the Label for a branch target
// bytecode index, so forward branches can be emitted before the
// compiler has swept that far. A target the sweep has already passed
// (a backward branch) is marked at once at its recorded machine offset.
func (c *Compiler) labelFor(targetBCI int) *Label {
	if l, ok := c.labels[targetBCI]; ok {
		return l
	}
	l := NewLabel(c.buf)
	if off, ok := c.ips.Offset(targetBCI); ok {
		l.MarkAt(off)
	}
	c.labels[targetBCI] = l
	return l
}

func (c *Compiler) markIfLabeled(bci int) {
	if l, ok := c.labels[bci]; ok && !l.IsMarked() {
		l.Mark()
	}
}

func u16(body []byte, i int) int { return int(body[i])<<8 | int(body[i+1]) }
func s16(body []byte, i int) int { return int(int16(u16(body, i))) }

// buildPoolWords resolves every entry of this method's constant pool
// into one machine word, in slice order, so pool-indexed templates can
// address them through poolReg with a fixed per-entry displacement
// instead of resolving at Go level and baking the result in as a
// compile-time immediate. The displacement for pool index i is always
// i*wordSize, matching classfile.ConstantPool.Append's own "byte
// offset used as the pool-register displacement" contract.
func (c *Compiler) buildPoolWords() ([]uintptr, error) {
	entries := c.pool.Words()
	if len(entries) == 0 {
		return nil, nil
	}
	words := make([]uintptr, len(entries))
	for i, e := range entries {
		switch v := e.(type) {
		case int32:
			words[i] = uintptr(uint64(int64(v)))
		case *classfile.Field:
			words[i] = classHandleAddr(v.Class)
		case *classfile.Method:
			words[i] = methodHandleAddr(v)
		case *classfile.Class:
			words[i] = classHandleAddr(v)
		default:
			return nil, vmerrors.NewCompileError(0, "pool entry %d has unresolvable type %T for pool-register addressing", i, e)
		}
	}
	return words, nil
}

// clobberPoolReg marks poolReg's current contents invalid. A template
// that must reuse RBX for something other than the pool base calls
// this immediately before doing so; reloadPoolRegIfNeeded is what
// notices and repairs it before the next pool-indexed read.
func (c *Compiler) clobberPoolReg() { c.poolRegLoaded = false }

// reloadPoolRegIfNeeded re-emits poolReg's load-immediate if a
// template has clobbered it since the last load, and is a no-op
// otherwise. Every template that reads through poolReg calls this
// first.
func (c *Compiler) reloadPoolRegIfNeeded() {
	if c.poolRegLoaded {
		return
	}
	c.asm.MovRegImm64Aligned(poolReg, uint64(c.poolBase))
	c.poolRegLoaded = true
}

// emitPrologue establishes the frame: push rbp, set it to rsp, load
// the pool register with this method's poolBase (an immediate), load
// threadReg from FrameThread and gateReg with the gate's address, and
// reserve stack space for every local beyond the parameter footprint.
func (c *Compiler) emitPrologue() {
	c.asm.Push(RBP)
	c.asm.MovRegReg(RBP, RSP)

	c.asm.MovRegImm64Aligned(poolReg, uint64(c.poolBase))
	c.poolRegLoaded = true

	c.asm.MovRegMem64(threadReg, RBP, FrameThread)
	c.asm.MovRegImm64(gateReg, uint64(gateAddress()))

	paramFootprint := c.method.MethodParameterFootprint()
	localWords := c.method.Code.MaxLocals - paramFootprint
	if localWords > 0 {
		c.asm.SubRegImm32(RSP, int32(localWords*wordSize))
	}
}

// emitEpilogue restores rsp/rbp and returns, leaving the method's
// result (if any) in accumReg.
func (c *Compiler) emitEpilogue() {
	c.asm.MovRegReg(RSP, RBP)
	c.asm.Pop(RBP)
	c.asm.Ret()
}

// Compile performs the single forward sweep over the method's
// bytecode body, emitting one template per instruction, then a
// post-sweep that marks any label never explicitly visited (can only
// happen for a label whose mark point is the bytecode's end, i.e. a
// fall-through return).
func (c *Compiler) Compile() (*CompiledCode, error) {
	words, err := c.buildPoolWords()
	if err != nil {
		return nil, err
	}
	c.poolWords = words
	if len(words) > 0 {
		c.poolBase = uintptr(unsafe.Pointer(&c.poolWords[0]))
	}

	body := c.method.Code.Body
	c.emitPrologue()

	paramFootprint := c.method.MethodParameterFootprint()
	lineTable := c.method.Code.LineNumbers

	lineIdx := 0
	for bci := 0; bci < len(body); {
		c.markIfLabeled(bci)
		c.ips.Record(bci, c.asm.Offset())

		for lineIdx < len(lineTable) && lineTable[lineIdx].BCI <= bci {
			c.lines = append(c.lines, classfile.LineNumberEntry{
				BCI:  c.asm.Offset(),
				Line: lineTable[lineIdx].Line,
			})
			lineIdx++
		}

		c.curBCI = bci
		op := Opcode(body[bci])
		size, err := c.emitOne(op, body, bci, paramFootprint)
		if err != nil {
			return nil, vmerrors.NewCompileError(bci, "compiling %s: %v", opName(op), err)
		}
		bci += size
	}
	c.markIfLabeled(len(body))

	if c.unwind != nil {
		c.emitUnwindTail()
	}

	cc := &CompiledCode{
		body:        append([]byte(nil), c.buf.Bytes()...),
		lines:       c.lines,
		handlers:    c.translateHandlers(),
		invokeSites: c.invokeSites,
		method:      c.method,
		pool:        c.pool,
		poolWords:   c.poolWords,
	}
	c.method.SetCompiled(cc)
	return cc, nil
}

// translateHandlers rewrites the method's bytecode-indexed exception
// handler table into machine-offset-indexed entries, using ipMap —
// so HandlerForPC at runtime (see runtimegate_amd64.go's
// HelperFindLocalHandler) never needs the bytecode-to-machine map
// that only exists during compilation.
func (c *Compiler) translateHandlers() []classfile.ExceptionHandler {
	src := c.method.Code.ExceptionHandlers
	if len(src) == 0 {
		return nil
	}
	out := make([]classfile.ExceptionHandler, 0, len(src))
	for _, h := range src {
		start, ok1 := c.ips.Offset(h.StartBCI)
		end, ok2 := c.ips.FloorOffset(h.EndBCI)
		handler, ok3 := c.ips.Offset(h.HandlerBCI)
		if !ok1 || !ok2 || !ok3 {
			continue // malformed range; the verifier's failure to catch, not ours, per §7
		}
		out = append(out, classfile.ExceptionHandler{
			StartBCI:    start,
			EndBCI:      end,
			HandlerBCI:  handler,
			CatchTypeCP: h.CatchTypeCP,
		})
	}
	return out
}

func opName(op Opcode) string { return fmt.Sprintf("0x%02x", byte(op)) }

