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

// Package bytecode implements the fallback interpreter: a Compiler that
// lowers an ir.ExecutionUnit into a flat byte stream, a VM that executes
// that stream directly against a fox.Guest using the exact same
// ir.Eval semantics the constant-fold pass uses (Testable Property 1,
// reference equivalence), and a Disassembler that reads it back. This is
// always available - when native codegen declines a unit, block falls back
// here rather than refusing to run the guest.
package bytecode

// Opcode is the bytecode ISA's one-byte operation id. Most opcodes mirror
// an ir.Opcode 1:1; the handful that don't (LoadImm*, Move, HostCall*) exist
// only to make every "real" opcode's operands uniform register-slot
// references, with constants loaded into a slot ahead of time instead of
// being embedded inline everywhere an ir.Operand happened to be immediate.
type Opcode uint8

const (
	Nop Opcode = iota
	Move

	LoadImm8
	LoadImm16
	LoadImm32
	LoadImm64
	LoadImmF32
	LoadImmF64

	ReadGR
	WriteGR
	Load
	Store

	And
	Or
	Xor
	Not
	ShiftL
	ShiftR
	AShiftR
	RotL
	RotR
	Bsc

	Add
	Sub
	Mul
	UMul
	Div
	UDiv
	Mod
	Sqrt

	Extend16
	Extend32
	Extend64
	Bitcast
	CastF2I
	CastI2F
	ResizeF

	Test
	Eq
	Lt
	Lte
	ULt
	ULte

	Select
	Br
	IfBr
	Exit

	// HostCallN invokes a registered host function with N argument slots
	// and writes the result to Dst. ir.Call always has a result (the
	// opcode table's HasResult is unconditionally true for Call), so
	// every lowered call is one of these three.
	HostCall0
	HostCall1
	HostCall2

	opcodeCount
)

var mnemonics = [opcodeCount]string{
	Nop: "nop", Move: "move",
	LoadImm8: "loadimm8", LoadImm16: "loadimm16", LoadImm32: "loadimm32", LoadImm64: "loadimm64",
	LoadImmF32: "loadimmf32", LoadImmF64: "loadimmf64",
	ReadGR: "readgr", WriteGR: "writegr", Load: "load", Store: "store",
	And: "and", Or: "or", Xor: "xor", Not: "not",
	ShiftL: "shl", ShiftR: "shr", AShiftR: "ashr", RotL: "rotl", RotR: "rotr", Bsc: "bsc",
	Add: "add", Sub: "sub", Mul: "mul", UMul: "umul", Div: "div", UDiv: "udiv", Mod: "mod", Sqrt: "sqrt",
	Extend16: "extend16", Extend32: "extend32", Extend64: "extend64",
	Bitcast: "bitcast", CastF2I: "castf2i", CastI2F: "casti2f", ResizeF: "resizef",
	Test: "test", Eq: "eq", Lt: "lt", Lte: "lte", ULt: "ult", ULte: "ulte",
	Select: "select", Br: "br", IfBr: "ifbr", Exit: "exit",
	HostCall0: "hostcall0", HostCall1: "hostcall1", HostCall2: "hostcall2",
}

func (op Opcode) String() string { return mnemonics[op] }

// shape describes a bytecode opcode's fixed record layout: how many
// register-slot operands precede an optional inline immediate, and how
// many bytes that immediate occupies. This is the per-opcode record-shape
// table: every instance of a given opcode has an identical byte layout,
// named after the Instruction{bits}R{registers}C{constants} convention
// even though the concrete record struct here is a decoded Go value
// rather than a packed bitfield (see DESIGN.md).
type shape struct {
	hasDst   bool
	numSrc   int
	immBytes int
}

var shapes = [opcodeCount]shape{
	Nop:  {false, 0, 0},
	Move: {true, 1, 0},

	LoadImm8:   {true, 0, 1},
	LoadImm16:  {true, 0, 2},
	LoadImm32:  {true, 0, 4},
	LoadImm64:  {true, 0, 8},
	LoadImmF32: {true, 0, 4},
	LoadImmF64: {true, 0, 8},

	ReadGR:  {true, 1, 0},
	WriteGR: {false, 2, 0},
	Load:    {true, 1, 0},
	Store:   {false, 2, 0},

	And: {true, 2, 0}, Or: {true, 2, 0}, Xor: {true, 2, 0}, Not: {true, 1, 0},
	ShiftL: {true, 2, 0}, ShiftR: {true, 2, 0}, AShiftR: {true, 2, 0},
	RotL: {true, 2, 0}, RotR: {true, 2, 0}, Bsc: {true, 1, 0},

	Add: {true, 2, 0}, Sub: {true, 2, 0}, Mul: {true, 2, 0}, UMul: {true, 2, 0},
	Div: {true, 2, 0}, UDiv: {true, 2, 0}, Mod: {true, 2, 0}, Sqrt: {true, 1, 0},

	Extend16: {true, 1, 0}, Extend32: {true, 1, 0}, Extend64: {true, 1, 0},
	Bitcast: {true, 1, 0}, CastF2I: {true, 1, 0}, CastI2F: {true, 1, 0}, ResizeF: {true, 1, 0},

	Test: {true, 1, 0}, Eq: {true, 2, 0}, Lt: {true, 2, 0}, Lte: {true, 2, 0},
	ULt: {true, 2, 0}, ULte: {true, 2, 0},

	Select: {true, 3, 0},
	Br:     {false, 0, 4},
	IfBr:   {false, 1, 4},
	Exit:   {false, 2, 0},

	HostCall0: {true, 0, 1},
	HostCall1: {true, 1, 1},
	HostCall2: {true, 2, 1},
}

// slotCount is the VM's total addressable slot space: 16 fast registers
// (index 0-15) followed by 32 spill slots (index 16-47), addressed by a
// single byte that VM.slot (vm.go) resolves to a register or spill slot.
const (
	fastSlots  = 16
	spillSlots = 32
	slotCount  = fastSlots + spillSlots
)

