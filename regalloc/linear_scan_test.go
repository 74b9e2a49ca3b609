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
package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/jit"
)

const gpClass uint8 = 1

func vreg(program *jit.RtlProgram) jit.RtlRegister {
	return program.NewVirtualRegister(gpClass)
}

func TestLinearScanAssignsAllRegisters(t *testing.T) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")

	a := vreg(program)
	b := vreg(program)
	c := vreg(program)

	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: a}}})
	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: b}}})
	block.Append(jit.RtlInstruction{Op: 2, Sources: []jit.RegisterAssignment{{Rtl: a}, {Rtl: b}}, Results: []jit.RegisterAssignment{{Rtl: c}}})

	alloc := &LinearScan{HwRegisterCount: map[uint8]int{gpClass: 4}}
	out, err := alloc.Allocate(program)
	require.NoError(t, err)

	for i := 0; i < out.Blocks[0].Len(); i++ {
		in := out.Blocks[0].At(i)
		for _, s := range in.Sources {
			require.True(t, s.Hw.Assigned)
		}
		for _, r := range in.Results {
			require.True(t, r.Hw.Assigned)
		}
	}
}

func TestLinearScanSpillsWhenRegistersExhausted(t *testing.T) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")

	regs := make([]jit.RtlRegister, 5)
	for i := range regs {
		regs[i] = vreg(program)
		block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: regs[i]}}})
	}
	// Keep all five alive simultaneously by using them together at the end.
	srcs := make([]jit.RegisterAssignment, len(regs))
	for i, r := range regs {
		srcs[i] = jit.RegisterAssignment{Rtl: r}
	}
	block.Append(jit.RtlInstruction{Op: 2, Sources: srcs})

	alloc := &LinearScan{HwRegisterCount: map[uint8]int{gpClass: 3}}
	out, err := alloc.Allocate(program)
	require.NoError(t, err)

	sawSpill := false
	last := out.Blocks[0].At(out.Blocks[0].Len() - 1)
	for _, s := range last.Sources {
		if s.Hw.IsSpill() {
			sawSpill = true
		}
	}
	require.True(t, sawSpill)
	require.Greater(t, out.SpillFrameSize(), 0)
}

func TestLinearScanReturnsErrorWhenSpillPoolExhausted(t *testing.T) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")

	const n = 65 // one past the spill class's 64-bit pool
	regs := make([]jit.RtlRegister, n)
	for i := range regs {
		regs[i] = vreg(program)
		block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: regs[i]}}})
	}
	srcs := make([]jit.RegisterAssignment, n)
	for i, r := range regs {
		srcs[i] = jit.RegisterAssignment{Rtl: r}
	}
	block.Append(jit.RtlInstruction{Op: 2, Sources: srcs})

	alloc := &LinearScan{HwRegisterCount: map[uint8]int{gpClass: 0}}
	_, err := alloc.Allocate(program)
	require.ErrorIs(t, err, ErrSpillExhausted)
}

func TestLinearScanRecomputesLastUseAfterMoveInsertion(t *testing.T) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")

	a := vreg(program)
	b := vreg(program)
	c := vreg(program)
	d := vreg(program)

	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: a}}})
	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: b}}})
	// a stays live past this instruction, so the result can't unify with
	// source 0's register and a Move must be inserted - shifting every
	// instruction after this one forward by one position.
	block.Append(jit.RtlInstruction{
		Op:      3,
		Flags:   jit.RtlFlags{Destructive: true},
		Sources: []jit.RegisterAssignment{{Rtl: a}, {Rtl: b}},
		Results: []jit.RegisterAssignment{{Rtl: c}},
	})
	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: d}}})
	// a's real last use, at what was position 4 before the Move shifted it.
	block.Append(jit.RtlInstruction{Op: 2, Sources: []jit.RegisterAssignment{{Rtl: a}, {Rtl: d}}})

	alloc := &LinearScan{HwRegisterCount: map[uint8]int{gpClass: 2}}
	out, err := alloc.Allocate(program)
	require.NoError(t, err)

	var dHw jit.HwRegister
	for i := 0; i < out.Blocks[0].Len(); i++ {
		in := out.Blocks[0].At(i)
		if len(in.Results) == 1 && in.Results[0].Rtl == d {
			dHw = in.Results[0].Hw
		}
	}
	require.False(t, dHw.IsSpill(), "b's register must be freed in time for d to reuse it, not leak past the inserted Move")
}

func TestLinearScanUnifiesDestructiveSourceAndResult(t *testing.T) {
	program := jit.NewRtlProgram()
	block := program.AddBlock("entry")

	a := vreg(program)
	b := vreg(program)

	block.Append(jit.RtlInstruction{Op: 1, Results: []jit.RegisterAssignment{{Rtl: a}}})
	// Destructive op: result overwrites source 0's register, and this is
	// source 0's last use, so no Move should be required.
	block.Append(jit.RtlInstruction{
		Op:      3,
		Flags:   jit.RtlFlags{Destructive: true},
		Sources: []jit.RegisterAssignment{{Rtl: a}},
		Results: []jit.RegisterAssignment{{Rtl: b}},
	})

	alloc := &LinearScan{HwRegisterCount: map[uint8]int{gpClass: 4}}
	out, err := alloc.Allocate(program)
	require.NoError(t, err)

	destructive := out.Blocks[0].At(1)
	require.Equal(t, destructive.Sources[0].Hw, destructive.Results[0].Hw)
	// No Move pseudo-op needed since source 0 died here.
	for i := 0; i < out.Blocks[0].Len(); i++ {
		require.NotEqual(t, jit.RtlMove, out.Blocks[0].At(i).Op)
	}
}
