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
package codegen

import (
	"fmt"

	"foxjit/fox"
	"foxjit/ir"
	"foxjit/jit"
)

// GPClass is the RTL register class every native emitter allocates general
// purpose integer registers from. There is only one class because Lower
// rejects any unit touching a floating point type - see the doc comment
// on the unsupported type below.
const GPClass uint8 = 1

// RTL opcodes a native emitter understands, numbered in the low range
// jit.RtlOp reserves for target backends. These are generic rather than
// one-per-concrete-instruction-form, so the lowering pass itself is
// architecture-independent; codegen/amd64 maps them onto its own
// instruction encoding and declines OpDiv, OpUDiv and OpMod.
const (
	OpLoadImm jit.RtlOp = iota
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpAShr
	OpRotl
	OpRotr
	OpBsc
	OpAdd
	OpSub
	OpMul
	OpUMul
	OpDiv
	OpUDiv
	OpMod
	OpExtend16
	OpExtend32
	OpExtend64
	OpBitcast
	OpTest
	OpCmpEq
	OpCmpLt
	OpCmpLte
	OpCmpULt
	OpCmpULte
	OpSelect
	OpBr
	OpIfBr
	OpExit
	OpReadGR
	OpWriteGR
	OpLoad
	OpStore
)

var mnemonics = map[jit.RtlOp]string{
	OpLoadImm: "loadimm", OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not",
	OpShl: "shl", OpShr: "shr", OpAShr: "ashr", OpRotl: "rotl", OpRotr: "rotr", OpBsc: "bsc",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpUMul: "umul", OpDiv: "div", OpUDiv: "udiv", OpMod: "mod",
	OpExtend16: "extend16", OpExtend32: "extend32", OpExtend64: "extend64", OpBitcast: "bitcast",
	OpTest: "test", OpCmpEq: "eq", OpCmpLt: "lt", OpCmpLte: "lte", OpCmpULt: "ult", OpCmpULte: "ulte",
	OpSelect: "select", OpBr: "br", OpIfBr: "ifbr", OpExit: "exit",
	OpReadGR: "readgr", OpWriteGR: "writegr", OpLoad: "load", OpStore: "store",
	jit.RtlMove: "mov", jit.RtlNop: "nop", jit.RtlInvalid: "invalid",
}

// Mnemonic implements the naming function jit.RtlInstructions.Disassemble
// expects.
func Mnemonic(op jit.RtlOp) string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return fmt.Sprintf("op%d", op)
}

// unsupported reports an ir.Opcode or fox.Type Lower refuses to handle
// natively. The driver that owns the bytecode-VM fallback path treats this
// as an ordinary compile failure, not a bug: floating point has no native
// encoding here, and ir.Call is deliberately left to the interpreter too -
// ReadGR/WriteGR/Load/Store compile to direct registerBase/memoryBase
// pointer arithmetic (see amd64/amd64.go), but a host Call has no such flat
// array to index into, and crossing back from raw emitted machine code
// into an arbitrary Go closure would mean hand-constructing a call frame
// matching Go's internal ABI from bytes this package writes - a technique
// no pack example demonstrates and not one to fabricate without a way to
// verify the frame layout against a real toolchain.
type unsupported struct {
	reason string
}

func (e *unsupported) Error() string { return "codegen: " + e.reason }

// Meta carries the fox.Type information RtlInstruction has no field for,
// keyed by the 1-based Position (i+1) that the main RTL record lowered from
// ir instruction i carries; the LoadImm records that materialize its
// immediate operands carry Position 0. An emitter needs this for any opcode whose byte
// width or signedness doesn't survive being flattened into an untyped
// virtual register - Load/Store's memory access width and Extend's source
// width, chiefly.
type Meta map[int]ir.Instruction

// Lower translates one ir.ExecutionUnit into a single-block jit.RtlProgram
// of virtual registers, ready for a jit.RegisterAllocator, plus the Meta
// side table emitters consult for type information. It returns unsupported
// (check with errors.As) for any instruction it has no native encoding
// for.
func Lower(unit *ir.ExecutionUnit) (*jit.RtlProgram, Meta, error) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")
	meta := make(Meta)

	vregOf := make(map[uint32]jit.RtlRegister)

	resultVreg := func(irIndex uint32) jit.RtlRegister {
		if r, ok := vregOf[irIndex]; ok {
			return r
		}
		r := program.NewVirtualRegister(GPClass)
		vregOf[irIndex] = r
		return r
	}

	materialize := func(op ir.Operand) (jit.RtlRegister, error) {
		if op.IsRegister() {
			r, ok := vregOf[op.Index()]
			if !ok {
				return jit.RtlRegister{}, &unsupported{reason: fmt.Sprintf("r%d used before definition", op.Index())}
			}
			return r, nil
		}
		r := program.NewVirtualRegister(GPClass)
		block.Append(jit.RtlInstruction{
			Op:      OpLoadImm,
			Results: []jit.RegisterAssignment{{Rtl: r}},
			Payload: op.Value(),
		})
		return r, nil
	}

	for i := 0; i < unit.Len(); i++ {
		in := unit.At(i)
		if isFloatType(in.ResultType) {
			return nil, nil, &unsupported{reason: fmt.Sprintf("instruction %d has floating point result type", i)}
		}
		for _, src := range in.Sources {
			if isFloatType(src.Type()) {
				return nil, nil, &unsupported{reason: fmt.Sprintf("instruction %d has a floating point operand", i)}
			}
		}

		op, ok := rtlOpFor(in.Op)
		if !ok {
			return nil, nil, &unsupported{reason: fmt.Sprintf("no native encoding for %s", in.Op)}
		}
		meta[i+1] = in

		if in.Op == ir.Br || in.Op == ir.IfBr {
			rtl := jit.RtlInstruction{Op: op, Position: i + 1}
			if in.Op == ir.IfBr {
				cond, err := materialize(in.Sources[0])
				if err != nil {
					return nil, nil, err
				}
				rtl.Sources = []jit.RegisterAssignment{{Rtl: cond}}
			}
			target := in.Sources[len(in.Sources)-1].Value().U64()
			rtl.Payload = fox.ValueFromU64(target)
			block.Append(rtl)
			continue
		}

		var srcs []jit.RegisterAssignment
		for _, s := range in.Sources {
			v, err := materialize(s)
			if err != nil {
				return nil, nil, err
			}
			srcs = append(srcs, jit.RegisterAssignment{Rtl: v})
		}

		rtl := jit.RtlInstruction{Op: op, Position: i + 1, Sources: srcs}
		if in.Op.HasResult() {
			rtl.Results = []jit.RegisterAssignment{{Rtl: resultVreg(in.Result)}}
			rtl.Flags.Destructive = isDestructive(in.Op)
		}
		block.Append(rtl)
	}

	return program, meta, nil
}

func isFloatType(t fox.Type) bool { return t == fox.F32 || t == fox.F64 }

// isDestructive reports whether an emitter would naturally overwrite its
// first source's register with the result (x86's two-operand arithmetic
// forms), letting the allocator unify them and skip a Move when possible.
func isDestructive(op ir.Opcode) bool {
	switch op {
	case ir.And, ir.Or, ir.Xor, ir.Add, ir.Sub, ir.ShiftL, ir.ShiftR, ir.AShiftR, ir.RotL, ir.RotR, ir.Not:
		return true
	default:
		return false
	}
}

func rtlOpFor(op ir.Opcode) (jit.RtlOp, bool) {
	switch op {
	case ir.And:
		return OpAnd, true
	case ir.Or:
		return OpOr, true
	case ir.Xor:
		return OpXor, true
	case ir.Not:
		return OpNot, true
	case ir.ShiftL:
		return OpShl, true
	case ir.ShiftR:
		return OpShr, true
	case ir.AShiftR:
		return OpAShr, true
	case ir.RotL:
		return OpRotl, true
	case ir.RotR:
		return OpRotr, true
	case ir.Bsc:
		return OpBsc, true
	case ir.Add:
		return OpAdd, true
	case ir.Sub:
		return OpSub, true
	case ir.Mul:
		return OpMul, true
	case ir.UMul:
		return OpUMul, true
	case ir.Div:
		return OpDiv, true
	case ir.UDiv:
		return OpUDiv, true
	case ir.Mod:
		return OpMod, true
	case ir.Extend16:
		return OpExtend16, true
	case ir.Extend32:
		return OpExtend32, true
	case ir.Extend64:
		return OpExtend64, true
	case ir.Bitcast:
		return OpBitcast, true
	case ir.Test:
		return OpTest, true
	case ir.Eq:
		return OpCmpEq, true
	case ir.Lt:
		return OpCmpLt, true
	case ir.Lte:
		return OpCmpLte, true
	case ir.ULt:
		return OpCmpULt, true
	case ir.ULte:
		return OpCmpULte, true
	case ir.Select:
		return OpSelect, true
	case ir.Br:
		return OpBr, true
	case ir.IfBr:
		return OpIfBr, true
	case ir.Exit:
		return OpExit, true
	case ir.ReadGR:
		return OpReadGR, true
	case ir.WriteGR:
		return OpWriteGR, true
	case ir.Load:
		return OpLoad, true
	case ir.Store:
		return OpStore, true
	case ir.Nop:
		return jit.RtlNop, true
	default:
		// ir.Call: deliberately unsupported, see the unsupported doc
		// comment above Lower. Sqrt, CastF2I, CastI2F, ResizeF: floating
		// point only, already rejected above by the type check before this
		// is ever reached.
		return 0, false
	}
}
