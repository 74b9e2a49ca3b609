// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package amd64 emits x86-64 machine code for the subset of
// codegen.Lower's RTL opcodes that have a direct, bit-exact hardware
// encoding. Compile is the package's only entry point: it lowers, register
// allocates, encodes, and hands back a ready codegen.Routine, or an error
// (always safe to treat as a compile failure - the caller falls back to
// the bytecode VM) when the unit needs something this emitter does not
// cover.
package amd64

import (
	"encoding/binary"
	"fmt"

	"foxjit/codegen"
	"foxjit/ir"
	"foxjit/jit"
	"foxjit/regalloc"
)

// physReg is one concrete x86-64 general purpose register: its 3-bit
// ModRM/SIB field and whether addressing it needs REX.B/R/X set.
type physReg struct {
	field byte
	ext   bool
}

var (
	regRAX = physReg{0, false}
	regRDX = physReg{2, false}
	regRSI = physReg{6, false}
)

// pool is the set of registers regalloc.LinearScan may hand out for
// codegen.GPClass. RCX is withheld as the fixed shift-count register
// x86's variable-shift forms require; RAX is withheld as scratch for
// Exit's return sequence and Bsc's BSF result; RDX/RSI carry the incoming
// registerBase/memoryBase arguments for the routine's whole lifetime.
// RSP/RBP/R12/R13 are withheld because using any of them as a ModRM base
// or SIB index needs a different encoding than the general case (RSP/R12
// forces a SIB byte even for plain register operands, RBP/R13 forces a
// disp8 even at mod=00) that this emitter does not special-case. R14 is
// withheld because Go's amd64 ABIInternal pins it to the running
// goroutine's g permanently; generated code sharing the goroutine's stack
// must never write to it.
var pool = []physReg{
	{3, false}, // RBX
	{0, true},  // R8
	{1, true},  // R9
	{2, true},  // R10
	{3, true},  // R11
	{7, true},  // R15
}

func hw(r jit.HwRegister) (physReg, error) {
	if r.IsSpill() {
		return physReg{}, errUnsupported("execution unit needs more live registers than the native pool holds")
	}
	if int(r.Index) >= len(pool) {
		return physReg{}, errUnsupported("register index out of the native pool's range")
	}
	return pool[r.Index], nil
}

type errUnsupported string

func (e errUnsupported) Error() string { return "codegen/amd64: " + string(e) }

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

// rr appends a REX+opcode+ModRM sequence for a register-register form
// where regField supplies the ModRM.reg bits and rmField supplies
// ModRM.rm - the same reg/rm convention used throughout the x86 manual's
// two-operand instruction encodings.
func rr(buf []byte, w bool, opcode byte, regField, rmField physReg) []byte {
	buf = append(buf, rex(w, regField.ext, false, rmField.ext))
	buf = append(buf, opcode)
	buf = append(buf, modrm(3, regField.field, rmField.field))
	return buf
}

func rr2(buf []byte, w bool, opcode0, opcode1 byte, regField, rmField physReg) []byte {
	buf = append(buf, rex(w, regField.ext, false, rmField.ext))
	buf = append(buf, opcode0, opcode1)
	buf = append(buf, modrm(3, regField.field, rmField.field))
	return buf
}

// ext encodes a unary r/m64 opcode group (e.g. NOT, NEG) where the ModRM
// reg field selects the operation rather than naming a register.
func ext(buf []byte, w bool, opcode, sel byte, rmField physReg) []byte {
	buf = append(buf, rex(w, false, false, rmField.ext))
	buf = append(buf, opcode)
	buf = append(buf, modrm(3, sel, rmField.field))
	return buf
}

func movImm64(buf []byte, dst physReg, imm uint64) []byte {
	buf = append(buf, rex(true, false, false, dst.ext))
	buf = append(buf, 0xB8+(dst.field&7))
	return binary.LittleEndian.AppendUint64(buf, imm)
}

// mem appends a [base + index*scale] addressed instruction: a single
// opcode byte, ModRM with mod=00/rm=100 (SIB follows), and the SIB byte
// itself. base is always RDX or RSI here, never RBP/R13, so mod=00 never
// needs the disp8 RBP/R13 forces; index is always a pool register, never
// RSP/R12, so it is never misread as "no index".
func mem(buf []byte, w bool, opcode byte, regField, base, index physReg, scaleBits byte) []byte {
	buf = append(buf, rex(w, regField.ext, index.ext, base.ext))
	buf = append(buf, opcode)
	buf = append(buf, modrm(0, regField.field, 4))
	buf = append(buf, scaleBits<<6|(index.field&7)<<3|(base.field&7))
	return buf
}

func mem2(buf []byte, w bool, opcode0, opcode1 byte, regField, base, index physReg, scaleBits byte) []byte {
	buf = append(buf, rex(w, regField.ext, index.ext, base.ext))
	buf = append(buf, opcode0, opcode1)
	buf = append(buf, modrm(0, regField.field, 4))
	buf = append(buf, scaleBits<<6|(index.field&7)<<3|(base.field&7))
	return buf
}

const (
	ccE  = 0x4
	ccNE = 0x5
	ccB  = 0x2
	ccBE = 0x6
	ccL  = 0xC
	ccLE = 0xE
)

func ccFor(op jit.RtlOp) byte {
	switch op {
	case codegen.OpCmpEq:
		return ccE
	case codegen.OpCmpLt:
		return ccL
	case codegen.OpCmpLte:
		return ccLE
	case codegen.OpCmpULt:
		return ccB
	case codegen.OpCmpULte:
		return ccBE
	default:
		return ccE
	}
}

// Compile lowers unit into machine code and allocates it into storage,
// returning a codegen.Routine over that span. It never partially writes
// storage on failure - the RTL program is fully encoded into a scratch
// buffer before a single byte reaches storage.
func Compile(unit *ir.ExecutionUnit, storage *codegen.RoutineStorage) (*codegen.Routine, error) {
	program, meta, err := codegen.Lower(unit)
	if err != nil {
		return nil, err
	}

	alloc := &regalloc.LinearScan{HwRegisterCount: map[uint8]int{codegen.GPClass: len(pool)}}
	program, err = alloc.Allocate(program)
	if err != nil {
		return nil, err
	}

	block := program.Blocks[0]
	code, err := encode(block, meta)
	if err != nil {
		return nil, err
	}

	dst, offset, ok := storage.Alloc(len(code))
	if !ok {
		return nil, codegen.ErrStorageExhausted
	}
	copy(dst, code)
	return codegen.NewRoutine(storage, offset, len(code)), nil
}

// encode runs the fixed-length sizing/offset pass once to learn every
// instruction's byte offset (lengths never depend on branch target values,
// only on opcode and operand shape), then a second pass that emits for
// real now that jump displacements are computable - the same two-pass
// shape bytecode.Compiler uses for its InstrOffsets/fixups, one level
// lower since here the "fixup" is a signed displacement rather than an
// absolute offset.
func encode(block *jit.RtlInstructions, meta codegen.Meta) ([]byte, error) {
	n := block.Len()
	offsets := make([]int, n)
	irToRTL := make(map[int]int, n)

	running := 0
	groupStart := 0
	for i := 0; i < n; i++ {
		in := block.At(i)
		if in.Position > 0 {
			// A branch to ir instruction Position-1 lands on the first
			// record lowered from it: its operand LoadImms and any
			// allocator Move precede the positioned record.
			irToRTL[in.Position-1] = groupStart
			groupStart = i + 1
		}
		buf, err := encodeOne(*in, meta)
		if err != nil {
			return nil, err
		}
		offsets[i] = running
		running += len(buf)
	}

	offsetOfIrIndex := func(irIndex int) (int, error) {
		rtlIdx, ok := irToRTL[irIndex]
		if !ok {
			return 0, errUnsupported(fmt.Sprintf("branch target ir index %d never reached a native record", irIndex))
		}
		return offsets[rtlIdx], nil
	}

	var out []byte
	for i := 0; i < n; i++ {
		in := block.At(i)
		start := len(out)
		buf, err := encodeOne(*in, meta)
		if err != nil {
			return nil, err
		}
		if in.Op == codegen.OpBr || in.Op == codegen.OpIfBr {
			target, err := offsetOfIrIndex(int(in.Payload.U64()))
			if err != nil {
				return nil, err
			}
			patchRel32(buf, target-(start+len(buf)))
		}
		out = append(out, buf...)
	}
	return out, nil
}

// patchRel32 overwrites the last 4 bytes of buf (always the rel32 operand
// of this package's Br/IfBr encodings) with disp, the displacement from
// the byte immediately after the jump to its target.
func patchRel32(buf []byte, disp int) {
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], uint32(int32(disp)))
}

// encodeOne produces the bytes for one RTL instruction. Br/IfBr always emit
// a zero rel32 placeholder - encode's two passes need the same length
// either way, and it patches the real displacement in once every
// instruction's offset is known.
func encodeOne(in jit.RtlInstruction, meta codegen.Meta) ([]byte, error) {
	src := func(i int) (physReg, error) { return hw(in.Sources[i].Hw) }
	dst := func() (physReg, error) { return hw(in.Results[0].Hw) }

	switch in.Op {
	case jit.RtlNop, jit.RtlInvalid:
		return nil, nil

	case jit.RtlMove:
		s, err := hw(in.Sources[0].Hw)
		if err != nil {
			return nil, err
		}
		d, err := hw(in.Results[0].Hw)
		if err != nil {
			return nil, err
		}
		return rr(nil, true, 0x89, s, d), nil

	case codegen.OpLoadImm:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		return movImm64(nil, d, in.Payload.U64()), nil

	case codegen.OpAnd, codegen.OpOr, codegen.OpXor, codegen.OpAdd, codegen.OpSub:
		d, err := dst() // Destructive: Sources[0].Hw == Results[0].Hw already.
		if err != nil {
			return nil, err
		}
		s1, err := src(1)
		if err != nil {
			return nil, err
		}
		var opcode byte
		switch in.Op {
		case codegen.OpAnd:
			opcode = 0x21
		case codegen.OpOr:
			opcode = 0x09
		case codegen.OpXor:
			opcode = 0x31
		case codegen.OpAdd:
			opcode = 0x01
		case codegen.OpSub:
			opcode = 0x29
		}
		return rr(nil, true, opcode, s1, d), nil

	case codegen.OpNot:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		return ext(nil, true, 0xF7, 2, d), nil

	case codegen.OpShl, codegen.OpShr, codegen.OpAShr, codegen.OpRotl, codegen.OpRotr:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s1, err := src(1)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x89, s1, physReg{field: 1}) // MOV CL, amount (low byte via RCX).
		var sel byte
		switch in.Op {
		case codegen.OpRotl:
			sel = 0
		case codegen.OpRotr:
			sel = 1
		case codegen.OpShl:
			sel = 4
		case codegen.OpShr:
			sel = 5
		case codegen.OpAShr:
			sel = 7
		}
		return ext(buf, true, 0xD3, sel, d), nil

	case codegen.OpMul, codegen.OpUMul:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		s1, err := src(1)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x89, s0, d) // MOV dst, src0
		return rr2(buf, true, 0x0F, 0xAF, d, s1), nil

	case codegen.OpBsc:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		m := meta[in.Position]
		width := uint64(m.Sources[0].Type().BitSize())
		buf := rr2(nil, true, 0x0F, 0xBC, regRAX, s0) // BSF RAX, src0
		buf = movImm64(buf, d, width)                 // MOV dst, width (default when src0 == 0)
		return rr2(buf, true, 0x0F, 0x40+ccNE, d, regRAX), nil

	case codegen.OpExtend16, codegen.OpExtend32, codegen.OpExtend64:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		m := meta[in.Position]
		switch m.Sources[0].Type().ByteSize() {
		case 1:
			return rr2(nil, true, 0x0F, 0xBE, d, s0), nil // MOVSX r64, r/m8
		case 2:
			return rr2(nil, true, 0x0F, 0xBF, d, s0), nil // MOVSX r64, r/m16
		case 4:
			return rr(nil, true, 0x63, d, s0), nil // MOVSXD r64, r/m32
		default:
			return rr(nil, true, 0x89, s0, d), nil // already 64 bits wide.
		}

	case codegen.OpBitcast:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		return rr(nil, true, 0x89, s0, d), nil

	case codegen.OpTest:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x85, s0, s0)
		buf = rr2(buf, false, 0x0F, 0x90+ccNE, physReg{}, d)
		return rr2(buf, true, 0x0F, 0xB6, d, d), nil

	case codegen.OpCmpEq, codegen.OpCmpLt, codegen.OpCmpLte, codegen.OpCmpULt, codegen.OpCmpULte:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		s0, err := src(0)
		if err != nil {
			return nil, err
		}
		s1, err := src(1)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x39, s1, s0) // CMP s0, s1
		buf = rr2(buf, false, 0x0F, 0x90+ccFor(in.Op), physReg{}, d)
		return rr2(buf, true, 0x0F, 0xB6, d, d), nil

	case codegen.OpSelect:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		cond, err := src(0)
		if err != nil {
			return nil, err
		}
		vFalse, err := src(1)
		if err != nil {
			return nil, err
		}
		vTrue, err := src(2)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x85, cond, cond)
		buf = rr(buf, true, 0x89, vFalse, d)
		return rr2(buf, true, 0x0F, 0x40+ccNE, d, vTrue), nil

	case codegen.OpReadGR:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		idx, err := src(0)
		if err != nil {
			return nil, err
		}
		return mem(nil, true, 0x8B, d, regRDX, idx, 3), nil // [registerBase + idx*8]

	case codegen.OpWriteGR:
		idx, err := src(0)
		if err != nil {
			return nil, err
		}
		val, err := src(1)
		if err != nil {
			return nil, err
		}
		return mem(nil, true, 0x89, val, regRDX, idx, 3), nil

	case codegen.OpLoad:
		d, err := dst()
		if err != nil {
			return nil, err
		}
		addr, err := src(0)
		if err != nil {
			return nil, err
		}
		m := meta[in.Position]
		switch m.ResultType.ByteSize() {
		case 1:
			return mem2(nil, true, 0x0F, 0xB6, d, regRSI, addr, 0), nil
		case 2:
			return mem2(nil, true, 0x0F, 0xB7, d, regRSI, addr, 0), nil
		case 4:
			return mem(nil, false, 0x8B, d, regRSI, addr, 0), nil
		default:
			return mem(nil, true, 0x8B, d, regRSI, addr, 0), nil
		}

	case codegen.OpStore:
		addr, err := src(0)
		if err != nil {
			return nil, err
		}
		val, err := src(1)
		if err != nil {
			return nil, err
		}
		m := meta[in.Position]
		switch m.Sources[1].Type().ByteSize() {
		case 1:
			return mem(nil, false, 0x88, val, regRSI, addr, 0), nil
		case 2:
			buf := []byte{0x66}
			return mem(buf, false, 0x89, val, regRSI, addr, 0), nil
		case 4:
			return mem(nil, false, 0x89, val, regRSI, addr, 0), nil
		default:
			return mem(nil, true, 0x89, val, regRSI, addr, 0), nil
		}

	case codegen.OpBr:
		buf := []byte{0xE9, 0, 0, 0, 0}
		return buf, nil

	case codegen.OpIfBr:
		cond, err := src(0)
		if err != nil {
			return nil, err
		}
		buf := rr(nil, true, 0x85, cond, cond)
		buf = append(buf, 0x0F, 0x80+ccNE, 0, 0, 0, 0)
		return buf, nil

	case codegen.OpDiv, codegen.OpUDiv, codegen.OpMod:
		// Left to the bytecode VM deliberately: IDIV/DIV raise #DE (a
		// hardware fault that kills the process, not a flag the emitted
		// code could branch on after the fact) on a zero divisor or on
		// MinInt64/-1, where the interpreter instead returns a defined
		// sentinel. Encoding that would mean guarding every division with
		// compares for both cases before ever executing IDIV; worth doing
		// once there is a way to test the guards are exactly right, not
		// worth guessing at byte-for-byte here.
		return nil, errUnsupported("div/mod is left to the bytecode VM: hardware fault semantics on zero/overflow divisors don't match the defined sentinel results")

	case codegen.OpExit:
		cond, err := src(0)
		if err != nil {
			return nil, err
		}
		val, err := src(1)
		if err != nil {
			return nil, err
		}
		ret := rr(nil, true, 0x89, val, regRAX)
		ret = append(ret, 0xC3) // RET
		buf := rr(nil, true, 0x85, cond, cond)
		buf = append(buf, 0x74, byte(len(ret))) // JE +len(ret)
		return append(buf, ret...), nil

	default:
		return nil, errUnsupported(fmt.Sprintf("no amd64 encoding for rtl op %d", in.Op))
	}
}
