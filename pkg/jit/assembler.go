//go:build linux && amd64

package jit

// x86-64 register encoding
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

// Assembler is a thin layer over a CodeBuffer emitting the fixed subset
// of x86/x86-64 encodings the Compiler needs: register/register,
// register/memory with displacement, immediates, push/pop, arithmetic,
// shifts, compares, conditional and unconditional jumps, calls, returns,
// and REX prefix handling for 64-bit operands.
type Assembler struct {
	buf *CodeBuffer
	// ipRefs records (bytecode-ip, patch-site) pairs for branches whose
	// target is a bytecode IP rather than an intra-buffer Label; see
	// JmpToIP/jccToIP and IPReferences. Nothing in this package patches
	// them: the Compiler's branch templates use Labels instead.
	ipRefs []ipRef
}

type ipRef struct {
	targetIP int
	patchAt  int
	opcode   byte // second opcode byte for 0F xx Jcc forms, or 0 for JMP
}

func NewAssembler(buf *CodeBuffer) *Assembler {
	return &Assembler{buf: buf}
}

func (a *Assembler) Offset() int    { return a.buf.Len() }
func (a *Assembler) Buffer() *CodeBuffer { return a.buf }
func (a *Assembler) Bytes() []byte  { return a.buf.Bytes() }

func (a *Assembler) emit(bytes ...byte)      { a.buf.Append(bytes...) }
func (a *Assembler) emitUint32(v uint32)     { a.buf.Append4(v) }
func (a *Assembler) emitUint64(v uint64)     { a.buf.AppendWord(v) }
func (a *Assembler) emitInt32(v int32)       { a.buf.Append4(uint32(v)) }

// rex builds the REX prefix: 0100WRXB.
// W=1 for 64-bit operand size, R=1 if reg field uses R8-R15,
// X=1 if SIB index uses R8-R15, B=1 if rm field uses R8-R15.
func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

// rexW returns the REX prefix for a 64-bit operation.
func rexW(reg, rm Reg) byte {
	return rex(true, reg >= 8, false, rm >= 8)
}

// rexWOptional returns a REX.W prefix, adding R/B bits only when needed.
func rexWOptional(reg, rm Reg) byte {
	if reg >= 8 || rm >= 8 {
		return rex(true, reg >= 8, false, rm >= 8)
	}
	return rex(true, false, false, false)
}

// modRM builds the ModR/M byte: [mod:2][reg:3][rm:3]. mod is pre-shifted:
// 0x00=no disp, 0x40=disp8, 0x80=disp32, 0xC0=register.
func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

// MovRegReg: mov dst, src (64-bit)
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x89, modRM(0xC0, src, dst))
}

// MovRegImm64: mov reg, imm64
func (a *Assembler) MovRegImm64(reg Reg, imm uint64) {
	a.emit(rex(true, false, false, reg >= 8), 0xB8|byte(reg&7))
	a.emitUint64(imm)
}

// MovRegImm64Aligned is MovRegImm64 but pads with NOPs first so the
// 8-byte immediate lands on a word boundary, making the later rewrite of
// that immediate (direct-call-site patching, §5/§9) a single atomic
// store. Returns the offset of the immediate.
func (a *Assembler) MovRegImm64Aligned(reg Reg, imm uint64) int {
	// Opcode is 2 bytes (REX + B8+rd); pad so the immediate starts
	// 8-byte aligned relative to the buffer origin.
	for (a.Offset()+2)%8 != 0 {
		a.Nop()
	}
	a.emit(rex(true, false, false, reg >= 8), 0xB8|byte(reg&7))
	immAt := a.Offset()
	a.emitUint64(imm)
	return immAt
}

// MovRegImm32SignExt: mov reg, imm32 (sign-extended to 64-bit)
func (a *Assembler) MovRegImm32SignExt(reg Reg, imm int32) {
	a.emit(rex(true, false, false, reg >= 8), 0xC7, modRM(0xC0, 0, reg))
	a.emitInt32(imm)
}

// MovRegMem64: mov reg, [base + disp32] (64-bit load)
func (a *Assembler) MovRegMem64(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovMemReg64: mov [base + disp32], reg (64-bit store)
func (a *Assembler) MovMemReg64(base Reg, disp int32, reg Reg) {
	a.emit(rexW(reg, base), 0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMemIdx64: mov reg, [base + index*8] (64-bit load with index)
func (a *Assembler) MovRegMemIdx64(reg, base, index Reg) {
	prefix := rex(true, reg >= 8, index >= 8, base >= 8)
	a.emit(prefix, 0x8B, modRM(0x00, reg, RSP))
	sib := byte(0xC0) | ((byte(index) & 7) << 3) | (byte(base) & 7)
	a.emit(sib)
}

// MovMemIdxReg64: mov [base + index*8], reg (64-bit store with index)
func (a *Assembler) MovMemIdxReg64(base, index, reg Reg) {
	prefix := rex(true, reg >= 8, index >= 8, base >= 8)
	a.emit(prefix, 0x89, modRM(0x00, reg, RSP))
	sib := byte(0xC0) | ((byte(index) & 7) << 3) | (byte(base) & 7)
	a.emit(sib)
}

// MovRegMem8: movzx reg, byte [base + disp32]
func (a *Assembler) MovRegMem8(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xB6)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem8Signed: movsx reg, byte [base + disp32]
func (a *Assembler) MovRegMem8Signed(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xBE)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem16: movzx reg, word [base + disp32]
func (a *Assembler) MovRegMem16(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xB7)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem16Signed: movsx reg, word [base + disp32]
func (a *Assembler) MovRegMem16Signed(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x0F, 0xBF)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem32: mov reg32, [base + disp32] (zero-extends to 64-bit)
func (a *Assembler) MovRegMem32(reg, base Reg, disp int32) {
	if reg >= 8 || base >= 8 {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x8B)
	a.emitMemOperand(reg, base, disp)
}

// MovRegMem32Signed: movsxd reg, dword [base + disp32]
func (a *Assembler) MovRegMem32Signed(reg, base Reg, disp int32) {
	a.emit(rexW(reg, base), 0x63)
	a.emitMemOperand(reg, base, disp)
}

// MovMem8Reg: mov byte [base + disp32], reg
func (a *Assembler) MovMem8Reg(base Reg, disp int32, reg Reg) {
	if reg >= 8 || base >= 8 || reg >= RSP {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x88)
	a.emitMemOperand(reg, base, disp)
}

// MovMem16Reg: mov word [base + disp32], reg
func (a *Assembler) MovMem16Reg(base Reg, disp int32, reg Reg) {
	a.emit(0x66)
	if reg >= 8 || base >= 8 {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x89)
	a.emitMemOperand(reg, base, disp)
}

// MovMem32Reg: mov dword [base + disp32], reg
func (a *Assembler) MovMem32Reg(base Reg, disp int32, reg Reg) {
	if reg >= 8 || base >= 8 {
		a.emit(rex(false, reg >= 8, false, base >= 8))
	}
	a.emit(0x89)
	a.emitMemOperand(reg, base, disp)
}

// emitMemOperand emits the ModR/M byte (and SIB/displacement as needed)
// for a [base + disp32] memory operand. A single helper selects between
// the three ModR/M displacement forms (none / int8 / int32) based on
// offset magnitude. RSP/R12 as base needs a SIB byte; RBP/R13 as base
// must still emit a byte displacement even when disp is zero, since
// mod=00 with rm=101 is the RIP-relative escape on these two registers.
func (a *Assembler) emitMemOperand(reg, base Reg, disp int32) {
	if base == RSP || base == R12 {
		if disp == 0 {
			a.emit(modRM(0x00, reg, RSP), 0x24)
		} else if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, RSP), 0x24, byte(disp))
		} else {
			a.emit(modRM(0x80, reg, RSP), 0x24)
			a.emitInt32(disp)
		}
		return
	}
	if base == RBP || base == R13 {
		if disp >= -128 && disp <= 127 {
			a.emit(modRM(0x40, reg, base), byte(disp))
		} else {
			a.emit(modRM(0x80, reg, base))
			a.emitInt32(disp)
		}
		return
	}
	if disp == 0 {
		a.emit(modRM(0x00, reg, base))
	} else if disp >= -128 && disp <= 127 {
		a.emit(modRM(0x40, reg, base), byte(disp))
	} else {
		a.emit(modRM(0x80, reg, base))
		a.emitInt32(disp)
	}
}

// AddRegReg: add dst, src (64-bit)
func (a *Assembler) AddRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x01, modRM(0xC0, src, dst))
}

// AddRegImm32: add reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AddRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 0, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 0, reg))
		a.emitInt32(imm)
	}
}

// SubRegReg: sub dst, src (64-bit)
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x29, modRM(0xC0, src, dst))
}

// SubRegImm32: sub reg, imm32 (64-bit, sign-extended)
func (a *Assembler) SubRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 5, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 5, reg))
		a.emitInt32(imm)
	}
}

// IMulRegReg: imul dst, src (64-bit signed multiply)
func (a *Assembler) IMulRegReg(dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, 0xAF, modRM(0xC0, dst, src))
}

// AndRegReg: and dst, src (64-bit)
func (a *Assembler) AndRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x21, modRM(0xC0, src, dst))
}

// AndRegImm32: and reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AndRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 4, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 4, reg))
		a.emitInt32(imm)
	}
}

// OrRegReg: or dst, src (64-bit)
func (a *Assembler) OrRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x09, modRM(0xC0, src, dst))
}

// XorRegReg: xor dst, src (64-bit)
func (a *Assembler) XorRegReg(dst, src Reg) {
	a.emit(rexW(src, dst), 0x31, modRM(0xC0, src, dst))
}

// NotReg: not reg (64-bit)
func (a *Assembler) NotReg(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 2, reg))
}

// NegReg: neg reg (64-bit)
func (a *Assembler) NegReg(reg Reg) {
	a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 3, reg))
}

// ShlRegCL / ShrRegCL / SarRegCL: shift reg by cl (64-bit)
func (a *Assembler) ShlRegCL(reg Reg) { a.emit(rexW(0, reg), 0xD3, modRM(0xC0, 4, reg)) }
func (a *Assembler) ShrRegCL(reg Reg) { a.emit(rexW(0, reg), 0xD3, modRM(0xC0, 5, reg)) }
func (a *Assembler) SarRegCL(reg Reg) { a.emit(rexW(0, reg), 0xD3, modRM(0xC0, 7, reg)) }

// ShlRegImm8 / ShrRegImm8 / SarRegImm8: shift reg by imm8 (64-bit)
func (a *Assembler) ShlRegImm8(reg Reg, imm byte) { a.shiftImm8(reg, 4, imm) }
func (a *Assembler) ShrRegImm8(reg Reg, imm byte) { a.shiftImm8(reg, 5, imm) }
func (a *Assembler) SarRegImm8(reg Reg, imm byte) { a.shiftImm8(reg, 7, imm) }

func (a *Assembler) shiftImm8(reg Reg, modBits byte, imm byte) {
	if imm == 1 {
		a.emit(rexW(0, reg), 0xD1, modRM(0xC0, Reg(modBits), reg))
	} else {
		a.emit(rexW(0, reg), 0xC1, modRM(0xC0, Reg(modBits), reg), imm)
	}
}

// CmpRegReg: cmp left, right (64-bit)
func (a *Assembler) CmpRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x39, modRM(0xC0, right, left))
}

// CmpRegImm32: cmp reg, imm32 (64-bit, sign-extended)
func (a *Assembler) CmpRegImm32(reg Reg, imm int32) {
	if imm >= -128 && imm <= 127 {
		a.emit(rexW(0, reg), 0x83, modRM(0xC0, 7, reg), byte(imm))
	} else {
		a.emit(rexW(0, reg), 0x81, modRM(0xC0, 7, reg))
		a.emitInt32(imm)
	}
}

// TestRegReg: test left, right (64-bit)
func (a *Assembler) TestRegReg(left, right Reg) {
	a.emit(rexW(right, left), 0x85, modRM(0xC0, right, left))
}

func (a *Assembler) setcc(opcode byte, reg Reg) {
	if reg >= 8 || reg >= RSP {
		a.emit(rex(false, false, false, reg >= 8))
	}
	a.emit(0x0F, opcode, modRM(0xC0, 0, reg))
}

func (a *Assembler) Sete(reg Reg)  { a.setcc(0x94, reg) }
func (a *Assembler) Setne(reg Reg) { a.setcc(0x95, reg) }
func (a *Assembler) Setb(reg Reg)  { a.setcc(0x92, reg) }
func (a *Assembler) Setae(reg Reg) { a.setcc(0x93, reg) }
func (a *Assembler) Seta(reg Reg)  { a.setcc(0x97, reg) }
func (a *Assembler) Setbe(reg Reg) { a.setcc(0x96, reg) }
func (a *Assembler) Setl(reg Reg)  { a.setcc(0x9C, reg) }
func (a *Assembler) Setge(reg Reg) { a.setcc(0x9D, reg) }
func (a *Assembler) Setg(reg Reg)  { a.setcc(0x9F, reg) }
func (a *Assembler) Setle(reg Reg) { a.setcc(0x9E, reg) }

// MovzxRegReg8: movzx dst, src8 (zero-extend byte to 64-bit)
func (a *Assembler) MovzxRegReg8(dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, 0xB6, modRM(0xC0, dst, src))
}

// Near (rel32) conditional jumps, each targeting a Label.
func (a *Assembler) jccNear(opcode byte, l *Label) {
	a.emit(0x0F, opcode)
	l.Reference()
}

func (a *Assembler) JeLabel(l *Label)  { a.jccNear(0x84, l) }
func (a *Assembler) JneLabel(l *Label) { a.jccNear(0x85, l) }
func (a *Assembler) JbLabel(l *Label)  { a.jccNear(0x82, l) }
func (a *Assembler) JaeLabel(l *Label) { a.jccNear(0x83, l) }
func (a *Assembler) JaLabel(l *Label)  { a.jccNear(0x87, l) }
func (a *Assembler) JbeLabel(l *Label) { a.jccNear(0x86, l) }
func (a *Assembler) JlLabel(l *Label)  { a.jccNear(0x8C, l) }
func (a *Assembler) JgeLabel(l *Label) { a.jccNear(0x8D, l) }
func (a *Assembler) JgLabel(l *Label)  { a.jccNear(0x8F, l) }
func (a *Assembler) JleLabel(l *Label) { a.jccNear(0x8E, l) }
func (a *Assembler) JmpLabel(l *Label) {
	a.emit(0xE9)
	l.Reference()
}

// Raw near conditional/unconditional jumps with an explicit rel32,
// used where the Compiler manages its own patch bookkeeping (e.g.
// inline exit stubs it patches immediately rather than through a Label).
func (a *Assembler) JeNear(rel32 int32) { a.emit(0x0F, 0x84); a.emitInt32(rel32) }
func (a *Assembler) JgeNear(rel32 int32) { a.emit(0x0F, 0x8D); a.emitInt32(rel32) }
func (a *Assembler) JneNear(rel32 int32) { a.emit(0x0F, 0x85); a.emitInt32(rel32) }
func (a *Assembler) JmpRel32(rel32 int32) { a.emit(0xE9); a.emitInt32(rel32) }

// JmpToIP / jccToIP emit an unconditional/conditional branch whose
// target is a bytecode IP: each records a (bytecode-ip, patch-site)
// pair in ipRefs and emits a 4-byte zero placeholder, which stays
// zero unless a caller patches it using IPReferences.
func (a *Assembler) JmpToIP(targetIP int) {
	a.emit(0xE9)
	a.recordIPRef(targetIP, 0)
}

func (a *Assembler) jccToIP(opcode byte, targetIP int) {
	a.emit(0x0F, opcode)
	a.recordIPRef(targetIP, opcode)
}

func (a *Assembler) JeToIP(targetIP int)  { a.jccToIP(0x84, targetIP) }
func (a *Assembler) JneToIP(targetIP int) { a.jccToIP(0x85, targetIP) }
func (a *Assembler) JlToIP(targetIP int)  { a.jccToIP(0x8C, targetIP) }
func (a *Assembler) JgeToIP(targetIP int) { a.jccToIP(0x8D, targetIP) }
func (a *Assembler) JgToIP(targetIP int)  { a.jccToIP(0x8F, targetIP) }
func (a *Assembler) JleToIP(targetIP int) { a.jccToIP(0x8E, targetIP) }

func (a *Assembler) recordIPRef(targetIP int, opcode byte) {
	site := a.buf.Len()
	a.emitInt32(0)
	a.ipRefs = append(a.ipRefs, ipRef{targetIP: targetIP, patchAt: site, opcode: opcode})
}

// IPReferences returns the recorded bytecode-IP branch references for
// post-sweep resolution by the Compiler.
func (a *Assembler) IPReferences() []ipRef { return a.ipRefs }

// JmpRel8: jmp rel8
func (a *Assembler) JmpRel8(rel8 int8) { a.emit(0xEB, byte(rel8)) }

// JmpReg: jmp reg
func (a *Assembler) JmpReg(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modRM(0xC0, 4, reg))
}

// CallReg: call reg
func (a *Assembler) CallReg(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modRM(0xC0, 2, reg))
}

// CallRel32: call rel32
func (a *Assembler) CallRel32(rel32 int32) {
	a.emit(0xE8)
	a.emitInt32(rel32)
}

func (a *Assembler) Ret()       { a.emit(0xC3) }
func (a *Assembler) Int3()      { a.emit(0xCC) }

// Push: push reg
func (a *Assembler) Push(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 | byte(reg&7))
}

// Pop: pop reg
func (a *Assembler) Pop(reg Reg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 | byte(reg&7))
}

func (a *Assembler) Nop() { a.emit(0x90) }

// Cdqe: cdqe (sign-extend EAX to RAX)
func (a *Assembler) Cdqe() { a.emit(0x48, 0x98) }

// Cqo: cqo (sign-extend RAX to RDX:RAX)
func (a *Assembler) Cqo() { a.emit(0x48, 0x99) }

// IDiv: idiv reg (signed divide RDX:RAX by reg)
func (a *Assembler) IDiv(reg Reg) { a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 7, reg)) }

// Div: div reg (unsigned divide RDX:RAX by reg)
func (a *Assembler) Div(reg Reg) { a.emit(rexW(0, reg), 0xF7, modRM(0xC0, 6, reg)) }

// MovsxdRegReg: movsxd dst64, src32 (sign-extend 32->64)
func (a *Assembler) MovsxdRegReg(dst, src Reg) {
	a.emit(rexW(dst, src), 0x63, modRM(0xC0, dst, src))
}

// CMov conditional moves
func (a *Assembler) Cmove(dst, src Reg)  { a.cmov(0x44, dst, src) }
func (a *Assembler) Cmovne(dst, src Reg) { a.cmov(0x45, dst, src) }

func (a *Assembler) cmov(opcode byte, dst, src Reg) {
	a.emit(rexW(dst, src), 0x0F, opcode, modRM(0xC0, dst, src))
}
