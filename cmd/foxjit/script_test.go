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
package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/bytecode"
	"foxjit/fox"
	"foxjit/ir"
)

// runOnBytecode compiles a demo block to bytecode and runs it once
// through bytecode.VM, independent of block.Driver or native codegen -
// enough to pin down the scripted program's arithmetic without needing a
// real guest or the JIT cache.
func runOnBytecode(t *testing.T, guest fox.Guest, va uint64) uint64 {
	t.Helper()
	unit, _ := demoBuild(va)
	unit = ir.Optimize(unit)
	prog := bytecode.NewCompiler().Compile(unit)
	return bytecode.NewVM(guest).Run(prog)
}

func TestLoopBlockSumsDownToZero(t *testing.T) {
	guest := newFlatGuest(64)
	guest.RegisterWrite(regCounter, 8, fox.ValueFromU64(5))
	guest.RegisterWrite(regPC, 8, fox.ValueFromU64(vaLoop))

	var steps int
	for guest.RegisterRead(regPC, 8).U64() != vaHostCall {
		runOnBytecode(t, guest, guest.RegisterRead(regPC, 8).U64())
		steps++
		require.Less(t, steps, 100, "loop block must make progress toward handing off to vaHostCall")
	}

	require.Equal(t, uint64(15), guest.RegisterRead(regAccum, 8).U64())
	require.Equal(t, uint64(0), guest.RegisterRead(regCounter, 8).U64())
}

func TestLoopBlockWithZeroCounterGoesStraightToHostCall(t *testing.T) {
	guest := newFlatGuest(64)
	guest.RegisterWrite(regCounter, 8, fox.ValueFromU64(0))

	exit := runOnBytecode(t, guest, vaLoop)

	require.Equal(t, uint64(0), exit)
	require.Equal(t, uint64(vaHostCall), guest.RegisterRead(regPC, 8).U64())
}

func TestHostCallBlockDoublesAccumulatorAndHalts(t *testing.T) {
	guest := newFlatGuest(64)
	guest.RegisterWrite(regAccum, 8, fox.ValueFromU64(15))

	exit := runOnBytecode(t, guest, vaHostCall)

	require.Equal(t, uint64(30), exit)
	require.Equal(t, uint64(30), guest.RegisterRead(regAccum, 8).U64())
	require.Equal(t, uint64(pcHalt), guest.RegisterRead(regPC, 8).U64())
}
