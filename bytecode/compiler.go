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
package bytecode

import (
	"foxjit/fox"
	"foxjit/ir"
	"foxjit/jit"
	"foxjit/utils"
)

// Program is one compiled ExecutionUnit: a flat byte stream plus the
// out-of-band host function table ir.Call targets index into.
type Program struct {
	Code      []byte
	HostFuncs []fox.HostFunc
	HostNames []string

	// InstrOffsets[i] is the byte offset of the first bytecode record
	// produced for ir instruction i - one ir instruction may lower to
	// several records (LoadImm prefixes for immediate operands), so
	// branch targets always resolve to this offset, never to a mid-group
	// record.
	InstrOffsets []int
}

// Compiler lowers one ir.ExecutionUnit into a Program. It assigns every
// SSA value a VM slot using the same free-lowest-first, last-use-driven
// discipline as regalloc.LinearScan (grounded on the same liveness
// reasoning, just targeting a 48-slot interpreter file instead of machine
// registers), so a unit that outgrows the slot space is a genuine compile
// error rather than a silent miscompile.
type Compiler struct{}

func NewCompiler() *Compiler { return &Compiler{} }

type branchFixup struct {
	recordPos   int // byte offset of the branch record's header
	targetIndex int // ir instruction index the label referred to
}

// Compile translates unit into a Program. It panics via utils.Assert on
// malformed input (a source register used before its definition, or a
// unit that needs more than 48 live slots at once) since both indicate a
// bug in the translator or optimizer upstream, not a guest-data problem.
func (c *Compiler) Compile(unit *ir.ExecutionUnit) *Program {
	n := unit.Len()
	lastUse := computeLastUse(unit)

	pool := jit.NewRegisterSet(0)
	slotOf := make(map[uint32]byte)

	prog := &Program{InstrOffsets: make([]int, n)}
	var fixups []branchFixup

	allocSlot := func() byte {
		idx, newPool, ok := pool.AllocateLowest()
		utils.Assert(ok && int(idx) < slotCount, "bytecode: execution unit needs more than %d live slots", slotCount)
		pool = newPool
		return byte(idx)
	}
	freeSlot := func(slot byte) { pool = pool.MarkFree(uint32(slot)) }

	for i := 0; i < n; i++ {
		in := unit.At(i)
		prog.InstrOffsets[i] = len(prog.Code)

		var tempSlots []byte
		materialize := func(op ir.Operand) byte {
			if op.IsRegister() {
				slot, ok := slotOf[op.Index()]
				utils.Assert(ok, "bytecode: r%d used before definition", op.Index())
				return slot
			}
			tmp := allocSlot()
			prog.Code = emitLoadImm(prog.Code, tmp, op.Type(), op.Value())
			tempSlots = append(tempSlots, tmp)
			return tmp
		}

		if in.Op == ir.Call {
			c.compileCall(prog, in, materialize, allocSlot, slotOf)
		} else {
			c.compileSimple(prog, in, materialize, allocSlot, slotOf, &fixups)
		}

		for _, t := range tempSlots {
			freeSlot(t)
		}
		for _, src := range in.Sources {
			if src.IsRegister() && lastUse[src.Index()] == i {
				if slot, ok := slotOf[src.Index()]; ok {
					freeSlot(slot)
				}
			}
		}
	}

	for _, f := range fixups {
		target := prog.InstrOffsets[f.targetIndex]
		patchImm(prog.Code, f.recordPos, uint64(target))
	}
	return prog
}

// compileSimple handles every opcode that isn't Call: it maps 1:1 (or, for
// Br/IfBr, records a fixup) onto a bytecode Opcode of the same arity.
func (c *Compiler) compileSimple(prog *Program, in ir.Instruction,
	materialize func(ir.Operand) byte, allocSlot func() byte, slotOf map[uint32]byte, fixups *[]branchFixup) {

	op, resultIsSecondSrcType := simpleOpcodeFor(in.Op)

	// Br/IfBr carry their target as a BranchLabel immediate operand, not a
	// value to load into a slot - handle them before the generic operand
	// loop below touches in.Sources.
	if in.Op == ir.Br || in.Op == ir.IfBr {
		rec := Record{Op: op, Type: fox.I64, SrcType: fox.I64}
		if in.Op == ir.IfBr {
			rec.Src[0] = materialize(in.Sources[0])
		}
		target := int(in.Sources[len(in.Sources)-1].Value().U64())
		*fixups = append(*fixups, branchFixup{recordPos: len(prog.Code), targetIndex: target})
		prog.Code = Encode(prog.Code, rec)
		return
	}

	var srcSlots [3]byte
	for s, src := range in.Sources {
		if s >= 3 {
			break
		}
		srcSlots[s] = materialize(src)
	}

	resultType := in.ResultType
	srcType := resultType
	if len(in.Sources) > 0 {
		srcType = in.Sources[0].Type()
	}
	if resultIsSecondSrcType && len(in.Sources) > 1 {
		srcType = in.Sources[1].Type()
	}

	rec := Record{Op: op, Type: resultType, SrcType: srcType, Src: srcSlots}

	if in.Op.HasResult() {
		dst := allocSlot()
		slotOf[in.Result] = dst
		rec.Dst = dst
	}

	prog.Code = Encode(prog.Code, rec)
}

// compileCall lowers an ir.Call into HostCall{0,1,2}, registering its host
// function pointer in the program's out-of-band table and encoding the
// table index as the record's immediate.
func (c *Compiler) compileCall(prog *Program, in ir.Instruction,
	materialize func(ir.Operand) byte, allocSlot func() byte, slotOf map[uint32]byte) {

	utils.Assert(len(in.Sources) <= 2, "bytecode: host calls support at most 2 arguments, got %d", len(in.Sources))

	var op Opcode
	switch len(in.Sources) {
	case 0:
		op = HostCall0
	case 1:
		op = HostCall1
	case 2:
		op = HostCall2
	}

	var srcSlots [3]byte
	for s, src := range in.Sources {
		srcSlots[s] = materialize(src)
	}

	tableIndex := len(prog.HostFuncs)
	prog.HostFuncs = append(prog.HostFuncs, in.CallTarget)
	prog.HostNames = append(prog.HostNames, in.CallName)

	dst := allocSlot()
	slotOf[in.Result] = dst

	rec := Record{Op: op, Type: in.ResultType, SrcType: in.ResultType, Dst: dst, Src: srcSlots, Imm: uint64(tableIndex)}
	prog.Code = Encode(prog.Code, rec)
}

// simpleOpcodeFor maps an ir.Opcode onto its bytecode equivalent.
// resultIsSecondSrcType is true for WriteGR and Store, whose *second*
// operand (the value written) rather than the first (the default) supplies
// the record's SrcType in compileSimple's srcType derivation.
func simpleOpcodeFor(op ir.Opcode) (Opcode, bool) {
	switch op {
	case ir.ReadGR:
		return ReadGR, false
	case ir.WriteGR:
		return WriteGR, true
	case ir.Load:
		return Load, false
	case ir.Store:
		return Store, true
	case ir.And:
		return And, false
	case ir.Or:
		return Or, false
	case ir.Xor:
		return Xor, false
	case ir.Not:
		return Not, false
	case ir.ShiftL:
		return ShiftL, false
	case ir.ShiftR:
		return ShiftR, false
	case ir.AShiftR:
		return AShiftR, false
	case ir.RotL:
		return RotL, false
	case ir.RotR:
		return RotR, false
	case ir.Bsc:
		return Bsc, false
	case ir.Add:
		return Add, false
	case ir.Sub:
		return Sub, false
	case ir.Mul:
		return Mul, false
	case ir.UMul:
		return UMul, false
	case ir.Div:
		return Div, false
	case ir.UDiv:
		return UDiv, false
	case ir.Mod:
		return Mod, false
	case ir.Sqrt:
		return Sqrt, false
	case ir.Extend16:
		return Extend16, false
	case ir.Extend32:
		return Extend32, false
	case ir.Extend64:
		return Extend64, false
	case ir.Bitcast:
		return Bitcast, false
	case ir.CastF2I:
		return CastF2I, false
	case ir.CastI2F:
		return CastI2F, false
	case ir.ResizeF:
		return ResizeF, false
	case ir.Test:
		return Test, false
	case ir.Eq:
		return Eq, false
	case ir.Lt:
		return Lt, false
	case ir.Lte:
		return Lte, false
	case ir.ULt:
		return ULt, false
	case ir.ULte:
		return ULte, false
	case ir.Select:
		return Select, false
	case ir.Br:
		return Br, false
	case ir.IfBr:
		return IfBr, false
	case ir.Exit:
		return Exit, false
	case ir.Nop:
		return Nop, false
	default:
		utils.ShouldNotReachHere()
		return Nop, false
	}
}

// emitLoadImm appends the record that materializes an immediate ir.Operand
// into slot dst, picking the LoadImm variant by storage width.
func emitLoadImm(buf []byte, dst byte, t fox.Type, v fox.Value) []byte {
	var op Opcode
	switch {
	case t == fox.F32:
		op = LoadImmF32
	case t == fox.F64:
		op = LoadImmF64
	case t.ByteSize() == 1:
		op = LoadImm8
	case t.ByteSize() == 2:
		op = LoadImm16
	case t.ByteSize() == 4:
		op = LoadImm32
	default:
		op = LoadImm64
	}
	return Encode(buf, Record{Op: op, Type: t, SrcType: t, Dst: dst, Imm: v.U64()})
}

// patchImm rewrites the immediate field of the record at recordPos
// in-place - safe because fixups only ever target Br/IfBr, whose shape
// never changes once emitted (only the immediate's *value* changes).
func patchImm(code []byte, recordPos int, value uint64) {
	r := Decode(code, recordPos)
	patched := Record{Op: r.Op, Type: r.Type, SrcType: r.SrcType, Dst: r.Dst, Src: r.Src, Imm: value}
	out := Encode(nil, patched)
	copy(code[recordPos:recordPos+r.Len], out)
}

// computeLastUse returns, for every SSA result index referenced in unit,
// the index of the last instruction that uses it as a source.
func computeLastUse(unit *ir.ExecutionUnit) map[uint32]int {
	last := make(map[uint32]int)
	for i := 0; i < unit.Len(); i++ {
		for _, src := range unit.At(i).Sources {
			if src.IsRegister() {
				last[src.Index()] = i
			}
		}
	}
	return last
}
