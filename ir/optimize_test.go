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
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/fox"
)

// buildAdd builds Scenario A: r0 := const 7, r1 := const 35, r2 := add r0 r1,
// writegr #0 r2, exit true 1.
func buildAdd(a *Assembler) {
	r0 := a.Const(fox.I32, fox.ValueFromU64(7))
	r1 := a.Const(fox.I32, fox.ValueFromU64(35))
	r2 := a.Add(r0, r1)
	a.WriteGR(a.Const(fox.I32, fox.ValueFromU64(0)), r2)
	a.Exit(a.Const(fox.Bool, fox.ValueFromBool(true)), a.Const(fox.I64, fox.ValueFromU64(1)))
}

func TestConstantFoldAdd(t *testing.T) {
	a := NewAssembler()
	buildAdd(a)
	unit := a.ExportUnit()
	require.Equal(t, 3, unit.Len()) // add, writegr, exit (Const emits no instruction)

	opt := Optimize(unit)
	// After folding + DCE, only writegr(const 42) and exit should remain.
	require.Equal(t, 2, opt.Len())
	require.Equal(t, WriteGR, opt.At(0).Op)
	require.True(t, opt.At(0).Sources[1].IsImmediate())
	require.Equal(t, uint64(42), opt.At(0).Sources[1].Value().U64())
	require.Equal(t, Exit, opt.At(1).Op)
}

func TestShiftMasking(t *testing.T) {
	a := NewAssembler()
	r0 := a.Const(fox.I32, fox.ValueFromU64(1))
	r1 := a.Const(fox.I32, fox.ValueFromU64(32))
	r2 := a.ShiftL(r0, r1)
	a.WriteGR(a.Const(fox.I32, fox.ValueFromU64(0)), r2)
	a.Exit(a.Const(fox.Bool, fox.ValueFromBool(true)), a.Const(fox.I64, fox.ValueFromU64(1)))
	unit := a.ExportUnit()

	opt := Optimize(unit)
	require.Equal(t, 2, opt.Len())
	require.Equal(t, uint64(1), opt.At(0).Sources[1].Value().U64())
}

func TestDeadCodeEliminationDropsUnusedPureOp(t *testing.T) {
	a := NewAssembler()
	reg := a.Registers()
	x := reg.Read(3, fox.I32)
	unused := a.Add(x, x) // never consumed
	_ = unused
	a.Exit(a.Const(fox.Bool, fox.ValueFromBool(true)), a.Const(fox.I64, fox.ValueFromU64(0)))
	unit := a.ExportUnit()

	opt := DeadCodeEliminate(unit)
	for i := 0; i < opt.Len(); i++ {
		require.NotEqual(t, Add, opt.At(i).Op)
	}
}
