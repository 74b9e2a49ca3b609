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
package ir

import (
	"foxjit/fox"
	"foxjit/utils"
)

// Assembler is the fluent builder guests use to emit IR. Every factory
// method returns a fresh Operand whose type is the opcode's declared result
// type; source operands are type- and width-checked at call time. A type
// mismatch is a programmer error and is fatal, matching the assembly-time
// error kind in the error handling design.
type Assembler struct {
	unit    *ExecutionUnit
	nextSSA uint32
	regs    *RegisterCache
	fixups  []labelFixup
}

// Label is a forward-reference handle for Br/IfBr targets. A guest
// translator creates one with NewLabel, emits branches against it before
// its target is known, and resolves it with BindLabel once the targeted
// instruction is about to be emitted. ExportUnit panics if any label
// reachable from an emitted branch was never bound.
type Label struct {
	resolved bool
	index    uint32
}

type labelFixup struct {
	instrIndex int
	srcSlot    int
	label      *Label
}

// NewAssembler returns an assembler building into a fresh ExecutionUnit.
func NewAssembler() *Assembler {
	a := &Assembler{unit: NewExecutionUnit()}
	a.regs = newRegisterCache(a)
	return a
}

// NewLabel allocates an unbound branch target.
func (a *Assembler) NewLabel() *Label { return &Label{} }

// BindLabel resolves l to the index of the next instruction this assembler
// will emit - i.e. "the branch target is here".
func (a *Assembler) BindLabel(l *Label) {
	l.resolved = true
	l.index = uint32(a.unit.Len())
}

// Registers exposes the guest-register caching helper bound to this
// assembler.
func (a *Assembler) Registers() *RegisterCache { return a.regs }

func (a *Assembler) emit(in Instruction) Operand {
	if in.Op.HasResult() {
		in.Result = a.nextSSA
		a.nextSSA++
	}
	a.unit.append(in)
	if in.Op.HasResult() {
		return Reg(in.Result, in.ResultType)
	}
	return Operand{}
}

func checkType(label string, got, want fox.Type) {
	utils.Assert(got == want, "ir: %s expects type %s, got %s", label, want, got)
}

func checkNumeric(label string, t fox.Type) {
	utils.Assert(t.IsNumeric(), "ir: %s expects a numeric type, got %s", label, t)
}

// Const emits no instruction; it is simply an immediate operand of type t.
func (a *Assembler) Const(t fox.Type, v fox.Value) Operand {
	return Imm(t, v.AsType(t))
}

// ReadGR reads guest register regIndex (a constant operand) as type t.
func (a *Assembler) ReadGR(t fox.Type, regIndex Operand) Operand {
	checkType("readgr index", regIndex.Type(), fox.I32)
	return a.emit(Instruction{Op: ReadGR, ResultType: t, Sources: []Operand{regIndex}})
}

// WriteGR writes value to guest register regIndex.
func (a *Assembler) WriteGR(regIndex, value Operand) {
	checkType("writegr index", regIndex.Type(), fox.I32)
	a.emit(Instruction{Op: WriteGR, Sources: []Operand{regIndex, value}})
}

func (a *Assembler) Load(t fox.Type, address Operand) Operand {
	checkType("load address", address.Type(), fox.HostAddress)
	return a.emit(Instruction{Op: Load, ResultType: t, Sources: []Operand{address}})
}

func (a *Assembler) Store(address, value Operand) {
	checkType("store address", address.Type(), fox.HostAddress)
	a.emit(Instruction{Op: Store, Sources: []Operand{address, value}})
}

func (a *Assembler) binary(op Opcode, lhs, rhs Operand) Operand {
	checkType("binary rhs", rhs.Type(), lhs.Type())
	return a.emit(Instruction{Op: op, ResultType: lhs.Type(), Sources: []Operand{lhs, rhs}})
}

func (a *Assembler) And(lhs, rhs Operand) Operand { return a.binary(And, lhs, rhs) }
func (a *Assembler) Or(lhs, rhs Operand) Operand  { return a.binary(Or, lhs, rhs) }
func (a *Assembler) Xor(lhs, rhs Operand) Operand { return a.binary(Xor, lhs, rhs) }

func (a *Assembler) Not(v Operand) Operand {
	return a.emit(Instruction{Op: Not, ResultType: v.Type(), Sources: []Operand{v}})
}

// ShiftL/ShiftR/AShiftR/RotL/RotR take the shift amount as an i32, masked
// to the source's bit width at evaluation time; the assembler itself does
// not enforce the shift-amount range (the opcode semantics do).
func (a *Assembler) shiftOp(op Opcode, v, amount Operand) Operand {
	checkNumeric("shift", v.Type())
	checkType("shift amount", amount.Type(), fox.I32)
	return a.emit(Instruction{Op: op, ResultType: v.Type(), Sources: []Operand{v, amount}})
}

func (a *Assembler) ShiftL(v, amount Operand) Operand  { return a.shiftOp(ShiftL, v, amount) }
func (a *Assembler) ShiftR(v, amount Operand) Operand  { return a.shiftOp(ShiftR, v, amount) }
func (a *Assembler) AShiftR(v, amount Operand) Operand { return a.shiftOp(AShiftR, v, amount) }
func (a *Assembler) RotL(v, amount Operand) Operand    { return a.shiftOp(RotL, v, amount) }
func (a *Assembler) RotR(v, amount Operand) Operand    { return a.shiftOp(RotR, v, amount) }

func (a *Assembler) Bsc(v Operand) Operand {
	checkType("bsc", v.Type(), fox.I32)
	return a.emit(Instruction{Op: Bsc, ResultType: fox.I32, Sources: []Operand{v}})
}

func (a *Assembler) arith(op Opcode, lhs, rhs Operand) Operand {
	checkNumeric("arithmetic", lhs.Type())
	return a.binary(op, lhs, rhs)
}

func (a *Assembler) Add(lhs, rhs Operand) Operand  { return a.arith(Add, lhs, rhs) }
func (a *Assembler) Sub(lhs, rhs Operand) Operand  { return a.arith(Sub, lhs, rhs) }
func (a *Assembler) Mul(lhs, rhs Operand) Operand  { return a.arith(Mul, lhs, rhs) }
func (a *Assembler) UMul(lhs, rhs Operand) Operand { return a.arith(UMul, lhs, rhs) }
func (a *Assembler) Div(lhs, rhs Operand) Operand  { return a.arith(Div, lhs, rhs) }
func (a *Assembler) UDiv(lhs, rhs Operand) Operand { return a.arith(UDiv, lhs, rhs) }
func (a *Assembler) Mod(lhs, rhs Operand) Operand  { return a.arith(Mod, lhs, rhs) }

func (a *Assembler) Sqrt(v Operand) Operand {
	utils.Assert(v.Type().IsFloat(), "ir: sqrt expects a float type, got %s", v.Type())
	return a.emit(Instruction{Op: Sqrt, ResultType: v.Type(), Sources: []Operand{v}})
}

func (a *Assembler) extend(op Opcode, target fox.Type, v Operand) Operand {
	checkNumeric("extend", v.Type())
	return a.emit(Instruction{Op: op, ResultType: target, Sources: []Operand{v}})
}

func (a *Assembler) Extend16(v Operand) Operand { return a.extend(Extend16, fox.I16, v) }
func (a *Assembler) Extend32(v Operand) Operand { return a.extend(Extend32, fox.I32, v) }
func (a *Assembler) Extend64(v Operand) Operand { return a.extend(Extend64, fox.I64, v) }

// Bitcast reinterprets v's bit pattern as target without converting.
func (a *Assembler) Bitcast(target fox.Type, v Operand) Operand {
	return a.emit(Instruction{Op: Bitcast, ResultType: target, Sources: []Operand{v}})
}

// CastF2I performs a numeric float-to-integer conversion.
func (a *Assembler) CastF2I(target fox.Type, v Operand) Operand {
	utils.Assert(v.Type().IsFloat(), "ir: castf2i source must be float, got %s", v.Type())
	utils.Assert(target.IsInteger(), "ir: castf2i target must be integer, got %s", target)
	return a.emit(Instruction{Op: CastF2I, ResultType: target, Sources: []Operand{v}})
}

// CastI2F performs a numeric integer-to-float conversion.
func (a *Assembler) CastI2F(target fox.Type, v Operand) Operand {
	utils.Assert(v.Type().IsInteger(), "ir: casti2f source must be integer, got %s", v.Type())
	utils.Assert(target.IsFloat(), "ir: casti2f target must be float, got %s", target)
	return a.emit(Instruction{Op: CastI2F, ResultType: target, Sources: []Operand{v}})
}

// ResizeF widens or narrows a float value to another float width.
func (a *Assembler) ResizeF(target fox.Type, v Operand) Operand {
	utils.Assert(v.Type().IsFloat() && target.IsFloat(), "ir: resizef requires float source and target")
	return a.emit(Instruction{Op: ResizeF, ResultType: target, Sources: []Operand{v}})
}

func (a *Assembler) Test(v Operand) Operand {
	return a.emit(Instruction{Op: Test, ResultType: fox.Bool, Sources: []Operand{v}})
}

func (a *Assembler) compare(op Opcode, lhs, rhs Operand) Operand {
	checkType("compare rhs", rhs.Type(), lhs.Type())
	return a.emit(Instruction{Op: op, ResultType: fox.Bool, Sources: []Operand{lhs, rhs}})
}

func (a *Assembler) Eq(lhs, rhs Operand) Operand   { return a.compare(Eq, lhs, rhs) }
func (a *Assembler) Lt(lhs, rhs Operand) Operand   { return a.compare(Lt, lhs, rhs) }
func (a *Assembler) Lte(lhs, rhs Operand) Operand  { return a.compare(Lte, lhs, rhs) }
func (a *Assembler) ULt(lhs, rhs Operand) Operand  { return a.compare(ULt, lhs, rhs) }
func (a *Assembler) ULte(lhs, rhs Operand) Operand { return a.compare(ULte, lhs, rhs) }

// Select picks vTrue when cond is non-zero, else vFalse.
func (a *Assembler) Select(cond, vFalse, vTrue Operand) Operand {
	checkType("select cond", cond.Type(), fox.Bool)
	checkType("select arms", vTrue.Type(), vFalse.Type())
	return a.emit(Instruction{Op: Select, ResultType: vTrue.Type(), Sources: []Operand{cond, vFalse, vTrue}})
}

// Br unconditionally jumps to l's bound target.
func (a *Assembler) Br(l *Label) {
	a.regs.Flush()
	idx := a.unit.Len()
	a.emit(Instruction{Op: Br, Sources: []Operand{labelOperand(l)}})
	a.recordFixup(idx, 0, l)
}

// IfBr jumps to l's bound target when cond is non-zero; control falls
// through to the next instruction otherwise.
func (a *Assembler) IfBr(cond Operand, l *Label) {
	checkType("ifbr cond", cond.Type(), fox.Bool)
	a.regs.Flush()
	idx := a.unit.Len()
	a.emit(Instruction{Op: IfBr, Sources: []Operand{cond, labelOperand(l)}})
	a.recordFixup(idx, 1, l)
}

func labelOperand(l *Label) Operand {
	if l.resolved {
		return Imm(fox.BranchLabel, fox.ValueFromU64(uint64(l.index)))
	}
	return Imm(fox.BranchLabel, fox.ValueFromU64(0))
}

func (a *Assembler) recordFixup(instrIndex, srcSlot int, l *Label) {
	if l.resolved {
		return
	}
	a.fixups = append(a.fixups, labelFixup{instrIndex: instrIndex, srcSlot: srcSlot, label: l})
}

// Exit terminates the unit's linear path; condition gates whether the exit
// fires (constant true for an unconditional exit), cycleCount is the u64
// value returned to the driver.
func (a *Assembler) Exit(condition, cycleCount Operand) {
	checkType("exit condition", condition.Type(), fox.Bool)
	checkType("exit cycle count", cycleCount.Type(), fox.I64)
	a.regs.Flush()
	a.emit(Instruction{Op: Exit, Sources: []Operand{condition, cycleCount}})
}

// Call invokes a guest-supplied host function with signature
// (Guest, Value...) -> Value. The assembler captures the pointer in the
// instruction payload and flushes the register cache first, since the
// callee may observe guest state.
func (a *Assembler) Call(name string, fn fox.HostFunc, resultType fox.Type, args ...Operand) Operand {
	a.regs.Flush()
	return a.emit(Instruction{
		Op:         Call,
		ResultType: resultType,
		Sources:    append([]Operand(nil), args...),
		CallName:   name,
		CallTarget: fn,
	})
}

// Nop emits a no-op, used by the optimizer to neutralize instructions
// in-place without shifting SSA indices.
func (a *Assembler) Nop() {
	a.emit(Instruction{Op: Nop})
}

// ExportUnit resolves every label fixup, transfers ownership of the built
// ExecutionUnit out of the assembler, and resets the assembler to build a
// fresh unit.
func (a *Assembler) ExportUnit() *ExecutionUnit {
	for _, f := range a.fixups {
		utils.Assert(f.label.resolved, "ir: branch target label was never bound")
		a.unit.instructions[f.instrIndex].Sources[f.srcSlot] = Imm(fox.BranchLabel, fox.ValueFromU64(uint64(f.label.index)))
	}
	u := a.unit
	a.unit = NewExecutionUnit()
	a.nextSSA = 0
	a.fixups = nil
	return u
}
