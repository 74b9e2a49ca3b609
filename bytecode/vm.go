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
	"foxjit/utils"
)

// VM is the switch-dispatch bytecode interpreter: the fallback path taken
// when native codegen declines to handle a unit. Every opcode that also
// exists in the IR defers to ir.Eval so the VM can never disagree with the
// constant-fold pass about integer or float semantics.
type VM struct {
	registers [fastSlots]fox.Value
	spill     [spillSlots]fox.Value
	guest     fox.Guest
}

// NewVM returns a VM bound to guest for the lifetime of one Run call (or
// many - register/spill state persists across calls, matching a routine
// that is entered repeatedly against the same machine state).
func NewVM(guest fox.Guest) *VM { return &VM{guest: guest} }

func (vm *VM) slot(i byte) *fox.Value {
	if int(i) < fastSlots {
		return &vm.registers[i]
	}
	return &vm.spill[int(i)-fastSlots]
}

// Run executes prog starting at its first instruction until an Exit
// record fires, returning the cycle count the guest requested. This is
// the ABI a bytecode.Routine's Execute wraps.
func (vm *VM) Run(prog *Program) uint64 {
	pc := 0
	for {
		r := Decode(prog.Code, pc)
		switch r.Op {
		case Nop:
			// no-op.

		case Move:
			*vm.slot(r.Dst) = *vm.slot(r.Src[0])

		case LoadImm8, LoadImm16, LoadImm32, LoadImm64, LoadImmF32, LoadImmF64:
			*vm.slot(r.Dst) = fox.ValueFromU64(r.Imm)

		case ReadGR:
			index := uint32(vm.slot(r.Src[0]).Unsigned(r.SrcType.BitSize()))
			*vm.slot(r.Dst) = vm.guest.RegisterRead(index, r.Type.ByteSize())

		case WriteGR:
			index := uint32(vm.slot(r.Src[0]).Unsigned(fox.I32.BitSize()))
			vm.guest.RegisterWrite(index, r.SrcType.ByteSize(), *vm.slot(r.Src[1]))

		case Load:
			address := vm.slot(r.Src[0]).U64()
			*vm.slot(r.Dst) = vm.guest.Load(address, r.Type.ByteSize())

		case Store:
			address := vm.slot(r.Src[0]).U64()
			vm.guest.Store(address, r.SrcType.ByteSize(), *vm.slot(r.Src[1]))

		case Br:
			pc = int(r.Imm)
			continue

		case IfBr:
			if vm.slot(r.Src[0]).Bool() {
				pc = int(r.Imm)
				continue
			}

		case Exit:
			if vm.slot(r.Src[0]).Bool() {
				return vm.slot(r.Src[1]).U64()
			}

		case HostCall0, HostCall1, HostCall2:
			fn := prog.HostFuncs[int(r.Imm)]
			args := vm.sources(r)
			*vm.slot(r.Dst) = fn(vm.guest, args...)

		default:
			irOp := irOpcodeFor(r.Op)
			srcTypes := []fox.Type{r.SrcType, r.SrcType, r.SrcType}
			v, ok := ir.Eval(irOp, r.Type, srcTypes, vm.sources(r))
			utils.Assert(ok, "bytecode: opcode %s has no evaluable form", r.Op)
			if shapes[r.Op].hasDst {
				*vm.slot(r.Dst) = v
			}
		}
		pc += r.Len
	}
}

// sources collects r's source slot values, in order, sized exactly to the
// opcode's declared source count.
func (vm *VM) sources(r Record) []fox.Value {
	n := shapes[r.Op].numSrc
	out := make([]fox.Value, n)
	for i := 0; i < n; i++ {
		out[i] = *vm.slot(r.Src[i])
	}
	return out
}

// irOpcodeFor maps a bytecode Opcode back onto the ir.Opcode it was
// compiled from, for the subset of opcodes ir.Eval can evaluate.
func irOpcodeFor(op Opcode) ir.Opcode {
	switch op {
	case And:
		return ir.And
	case Or:
		return ir.Or
	case Xor:
		return ir.Xor
	case Not:
		return ir.Not
	case ShiftL:
		return ir.ShiftL
	case ShiftR:
		return ir.ShiftR
	case AShiftR:
		return ir.AShiftR
	case RotL:
		return ir.RotL
	case RotR:
		return ir.RotR
	case Bsc:
		return ir.Bsc
	case Add:
		return ir.Add
	case Sub:
		return ir.Sub
	case Mul:
		return ir.Mul
	case UMul:
		return ir.UMul
	case Div:
		return ir.Div
	case UDiv:
		return ir.UDiv
	case Mod:
		return ir.Mod
	case Sqrt:
		return ir.Sqrt
	case Extend16:
		return ir.Extend16
	case Extend32:
		return ir.Extend32
	case Extend64:
		return ir.Extend64
	case Bitcast:
		return ir.Bitcast
	case CastF2I:
		return ir.CastF2I
	case CastI2F:
		return ir.CastI2F
	case ResizeF:
		return ir.ResizeF
	case Test:
		return ir.Test
	case Eq:
		return ir.Eq
	case Lt:
		return ir.Lt
	case Lte:
		return ir.Lte
	case ULt:
		return ir.ULt
	case ULte:
		return ir.ULte
	case Select:
		return ir.Select
	default:
		utils.ShouldNotReachHere()
		return ir.Nop
	}
}
