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
	"fmt"
	"strings"

	"foxjit/fox"
)

// Instruction is one IR operation: an opcode, its optional result, and its
// source operands. Call carries an arbitrary number of argument operands in
// Sources plus the host function pointer it invokes; every other opcode's
// Sources length equals Op.SourceArity().
type Instruction struct {
	Op         Opcode
	ResultType fox.Type
	Result     uint32
	Sources    []Operand

	CallName   string
	CallTarget fox.HostFunc
}

func (in Instruction) String() string {
	var b strings.Builder
	if in.Op.HasResult() {
		fmt.Fprintf(&b, "r%d<%s> := ", in.Result, in.ResultType)
	}
	b.WriteString(in.Op.Mnemonic())
	if in.Op == Call {
		fmt.Fprintf(&b, " %s", in.CallName)
	}
	for _, src := range in.Sources {
		fmt.Fprintf(&b, " %s", src)
	}
	return b.String()
}

// ExecutionUnit is one extended basic block of IR instructions: single
// entrance, no internal back edges, instructions in SSA program order.
type ExecutionUnit struct {
	instructions []Instruction
}

// NewExecutionUnit returns an empty unit.
func NewExecutionUnit() *ExecutionUnit {
	return &ExecutionUnit{}
}

func (u *ExecutionUnit) Len() int                      { return len(u.instructions) }
func (u *ExecutionUnit) At(i int) Instruction          { return u.instructions[i] }
func (u *ExecutionUnit) Instructions() []Instruction   { return u.instructions }
func (u *ExecutionUnit) append(in Instruction)         { u.instructions = append(u.instructions, in) }
func (u *ExecutionUnit) replaceAll(ins []Instruction) { u.instructions = ins }

// Copy returns a deep-enough copy (instructions themselves are value types
// save for the Sources slice, which is cloned so mutation of the copy never
// touches the original).
func (u *ExecutionUnit) Copy() *ExecutionUnit {
	out := make([]Instruction, len(u.instructions))
	for i, in := range u.instructions {
		cp := in
		cp.Sources = append([]Operand(nil), in.Sources...)
		out[i] = cp
	}
	return &ExecutionUnit{instructions: out}
}

// Disassemble renders one line per instruction, in program order.
func (u *ExecutionUnit) Disassemble() string {
	var b strings.Builder
	for i, in := range u.instructions {
		fmt.Fprintf(&b, "[%04d] %s\n", i, in)
	}
	return b.String()
}

// HasTerminatingExit reports whether the unit's final instruction is an
// exit, the only instruction allowed to end a linear path per the
// ExecutionUnit invariant.
func (u *ExecutionUnit) HasTerminatingExit() bool {
	if len(u.instructions) == 0 {
		return false
	}
	return u.instructions[len(u.instructions)-1].Op == Exit
}
