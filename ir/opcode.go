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

// Package ir implements the typed SSA intermediate representation that
// guest translators emit into: the opcode table, the Operand sum type,
// ExecutionUnit, the fluent Assembler (with the guest-register caching
// helper), the pure Calculator, and the thin constant-fold/DCE optimizer.
package ir

// Opcode is the closed enum of IR operations.
type Opcode uint8

const (
	// Memory.
	ReadGR Opcode = iota
	WriteGR
	Load
	Store

	// Bitwise.
	And
	Or
	Xor
	Not
	ShiftL
	ShiftR
	AShiftR
	RotL
	RotR
	Bsc // bit-scan-forward: index of lowest set bit, or type width if zero.

	// Arithmetic.
	Add
	Sub
	Mul
	UMul
	Div
	UDiv
	Mod
	Sqrt

	// Conversion.
	Extend16
	Extend32
	Extend64
	Bitcast
	CastF2I
	CastI2F
	ResizeF

	// Compare.
	Test
	Eq
	Lt
	Lte
	ULt
	ULte

	// Control.
	Br
	IfBr
	Select
	Exit
	Call
	Nop

	opcodeCount
)

// opcodeInfo is the static per-opcode metadata spec.md §3 requires:
// mnemonic, source arity (0-3), and whether the opcode produces a result.
type opcodeInfo struct {
	mnemonic   string
	sourceAr   int
	hasResult  bool
	sideEffect bool // store/writegr/exit/call/ifbr/br: always live for DCE.
}

var opcodeTable = [opcodeCount]opcodeInfo{
	ReadGR:  {"readgr", 1, true, false},
	WriteGR: {"writegr", 2, false, true},
	Load:    {"load", 1, true, false},
	Store:   {"store", 2, false, true},

	And:     {"and", 2, true, false},
	Or:      {"or", 2, true, false},
	Xor:     {"xor", 2, true, false},
	Not:     {"not", 1, true, false},
	ShiftL:  {"shl", 2, true, false},
	ShiftR:  {"shr", 2, true, false},
	AShiftR: {"ashr", 2, true, false},
	RotL:    {"rotl", 2, true, false},
	RotR:    {"rotr", 2, true, false},
	Bsc:     {"bsc", 1, true, false},

	Add:  {"add", 2, true, false},
	Sub:  {"sub", 2, true, false},
	Mul:  {"mul", 2, true, false},
	UMul: {"umul", 2, true, false},
	Div:  {"div", 2, true, false},
	UDiv: {"udiv", 2, true, false},
	Mod:  {"mod", 2, true, false},
	Sqrt: {"sqrt", 1, true, false},

	Extend16: {"extend16", 1, true, false},
	Extend32: {"extend32", 1, true, false},
	Extend64: {"extend64", 1, true, false},
	Bitcast:  {"bitcast", 1, true, false},
	CastF2I:  {"castf2i", 1, true, false},
	CastI2F:  {"casti2f", 1, true, false},
	ResizeF:  {"resizef", 1, true, false},

	Test: {"test", 1, true, false},
	Eq:   {"eq", 2, true, false},
	Lt:   {"lt", 2, true, false},
	Lte:  {"lte", 2, true, false},
	ULt:  {"ult", 2, true, false},
	ULte: {"ulte", 2, true, false},

	Br:     {"br", 1, false, true},
	IfBr:   {"ifbr", 2, false, true},
	Select: {"select", 3, true, false},
	Exit:   {"exit", 2, false, true},
	Call:   {"call", 3, true, true}, // arity is variadic; 3 covers the common case, variadic args carried out-of-band.
	Nop:    {"nop", 0, false, false},
}

func (op Opcode) Mnemonic() string { return opcodeTable[op].mnemonic }
func (op Opcode) SourceArity() int { return opcodeTable[op].sourceAr }
func (op Opcode) HasResult() bool  { return opcodeTable[op].hasResult }

// IsSideEffecting reports whether the opcode must never be removed by dead
// code elimination even when its result is unused.
func (op Opcode) IsSideEffecting() bool { return opcodeTable[op].sideEffect }

func (op Opcode) String() string { return op.Mnemonic() }
