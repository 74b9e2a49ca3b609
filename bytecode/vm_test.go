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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/fox"
	"foxjit/ir"
)

type fakeGuest struct {
	regs [16]fox.Value
	mem  map[uint64]fox.Value
}

func newFakeGuest() *fakeGuest { return &fakeGuest{mem: make(map[uint64]fox.Value)} }

func (g *fakeGuest) RegisterRead(index uint32, bytes int) fox.Value { return g.regs[index] }
func (g *fakeGuest) RegisterWrite(index uint32, bytes int, v fox.Value) {
	g.regs[index] = v.Truncate(bytes * 8)
}
func (g *fakeGuest) Load(address uint64, bytes int) fox.Value { return g.mem[address] }
func (g *fakeGuest) Store(address uint64, bytes int, v fox.Value) {
	g.mem[address] = v.Truncate(bytes * 8)
}

// TestCompileAndRunArithmetic is Testable Property 1 (reference
// equivalence): the VM's result for a pure-arithmetic unit must match
// ir.Eval's result for the same operation.
func TestCompileAndRunArithmetic(t *testing.T) {
	asm := ir.NewAssembler()
	a := asm.Const(fox.I32, fox.ValueFromI64(5))
	b := asm.Const(fox.I32, fox.ValueFromI64(7))
	c := asm.Add(a, b)
	cycles := asm.Extend64(c)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), cycles)
	unit := asm.ExportUnit()

	prog := NewCompiler().Compile(unit)
	result := NewVM(newFakeGuest()).Run(prog)
	require.Equal(t, uint64(12), result)
}

// TestIfBrForwardJump exercises a conditional forward branch around an
// Exit - the classic structured-if shape an EBB-only IR expresses without
// loops or back edges.
func TestIfBrForwardJump(t *testing.T) {
	asm := ir.NewAssembler()
	cond := asm.Const(fox.Bool, fox.ValueFromBool(true))
	skip := asm.NewLabel()
	asm.IfBr(cond, skip)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), asm.Const(fox.I64, fox.ValueFromI64(999)))
	asm.BindLabel(skip)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), asm.Const(fox.I64, fox.ValueFromI64(42)))
	unit := asm.ExportUnit()

	prog := NewCompiler().Compile(unit)
	result := NewVM(newFakeGuest()).Run(prog)
	require.Equal(t, uint64(42), result)
}

func TestReadWriteGuestRegister(t *testing.T) {
	guest := newFakeGuest()
	guest.regs[3] = fox.ValueFromI64(100)

	asm := ir.NewAssembler()
	idx := asm.Const(fox.I32, fox.ValueFromI64(3))
	v := asm.ReadGR(fox.I64, idx)
	doubled := asm.Add(v, v)
	dstIdx := asm.Const(fox.I32, fox.ValueFromI64(4))
	asm.WriteGR(dstIdx, doubled)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), doubled)
	unit := asm.ExportUnit()

	prog := NewCompiler().Compile(unit)
	result := NewVM(guest).Run(prog)
	require.Equal(t, uint64(200), result)
	require.Equal(t, fox.ValueFromI64(200), guest.regs[4])
}

func TestHostCall(t *testing.T) {
	double := func(guest fox.Guest, args ...fox.Value) fox.Value {
		return fox.ValueFromI64(args[0].I64() * 2)
	}

	asm := ir.NewAssembler()
	arg := asm.Const(fox.I64, fox.ValueFromI64(21))
	result := asm.Call("double", double, fox.I64, arg)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), result)
	unit := asm.ExportUnit()

	prog := NewCompiler().Compile(unit)
	got := NewVM(newFakeGuest()).Run(prog)
	require.Equal(t, uint64(42), got)
}

// TestDisassembleRoundTrip is Testable Property 7: every byte the
// Compiler emits must be consumed by exactly one Decode call with no gaps
// or overlaps, which Disassemble's own walk already enforces; this test
// additionally checks the rendered text contains the add and exit lines.
func TestDisassembleRoundTrip(t *testing.T) {
	asm := ir.NewAssembler()
	a := asm.Const(fox.I32, fox.ValueFromI64(3))
	b := asm.Const(fox.I32, fox.ValueFromI64(4))
	c := asm.Add(a, b)
	asm.Exit(asm.Const(fox.Bool, fox.ValueFromBool(true)), asm.Extend64(c))
	unit := asm.ExportUnit()

	prog := NewCompiler().Compile(unit)
	text := Disassemble(prog)
	require.True(t, strings.Contains(text, "add"))
	require.True(t, strings.Contains(text, "exit"))

	pos := 0
	count := 0
	for pos < len(prog.Code) {
		r := Decode(prog.Code, pos)
		require.Greater(t, r.Len, 0)
		pos += r.Len
		count++
	}
	require.Equal(t, pos, len(prog.Code))
	require.Greater(t, count, 0)
}
