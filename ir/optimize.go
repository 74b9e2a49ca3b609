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

import "foxjit/fox"

// ConstantFold evaluates every instruction whose sources are all immediate
// operands via the Calculator and substitutes the resulting constant at
// every later use; folded instructions are dropped rather than kept around
// as dead no-ops, since DeadCodeEliminate would remove them anyway.
func ConstantFold(u *ExecutionUnit) *ExecutionUnit {
	consts := make(map[uint32]Operand)
	out := make([]Instruction, 0, u.Len())

	substitute := func(op Operand) Operand {
		if op.IsRegister() {
			if c, ok := consts[op.Index()]; ok {
				return c
			}
		}
		return op
	}

	for _, in := range u.Instructions() {
		for i := range in.Sources {
			in.Sources[i] = substitute(in.Sources[i])
		}

		if in.Op.HasResult() && in.Op != Call && allImmediate(in.Sources) {
			srcTypes := make([]fox.Type, len(in.Sources))
			srcVals := make([]fox.Value, len(in.Sources))
			for i, s := range in.Sources {
				srcTypes[i] = s.Type()
				srcVals[i] = s.Value()
			}
			if v, ok := Eval(in.Op, in.ResultType, srcTypes, srcVals); ok {
				consts[in.Result] = Imm(in.ResultType, v)
				continue
			}
		}
		out = append(out, in)
	}

	return &ExecutionUnit{instructions: out}
}

func allImmediate(ops []Operand) bool {
	for _, o := range ops {
		if !o.IsImmediate() {
			return false
		}
	}
	return true
}

// DeadCodeEliminate reverse-walks the unit marking live any instruction
// whose result is consumed by a side-effecting instruction (store, writegr,
// exit, call, ifbr, br) or by another live instruction, then drops the rest.
func DeadCodeEliminate(u *ExecutionUnit) *ExecutionUnit {
	ins := u.Instructions()
	live := make([]bool, len(ins))
	used := make(map[uint32]bool)

	for i := len(ins) - 1; i >= 0; i-- {
		in := ins[i]
		isLive := in.Op.IsSideEffecting() || (in.Op.HasResult() && used[in.Result])
		live[i] = isLive
		if isLive {
			for _, src := range in.Sources {
				if src.IsRegister() {
					used[src.Index()] = true
				}
			}
		}
	}

	out := make([]Instruction, 0, len(ins))
	for i, in := range ins {
		if live[i] {
			out = append(out, in)
		}
	}
	return &ExecutionUnit{instructions: out}
}

// Optimize runs the thin optimizer pipeline: constant-fold then dead-code
// elimination, per the "two passes, both operating on an ExecutionUnit and
// returning a new one" contract.
func Optimize(u *ExecutionUnit) *ExecutionUnit {
	return DeadCodeEliminate(ConstantFold(u))
}
