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

// Package regalloc implements jit.RegisterAllocator. LinearScan is a
// single-pass-per-block allocator: it walks each block's instructions in
// order, assigns every RegisterAssignment, and inserts the Move pseudo-op
// a Destructive opcode needs when its source 0 stays live past it.
package regalloc

import (
	"errors"
	"fmt"

	"foxjit/jit"
)

// ErrSpillExhausted is returned when a block needs more concurrently live
// values than the spill class has slots for. RtlProgram's frame-size
// contract ties frame size to the spill class's permanent usage record, so
// there is no slot left to hand out without silently aliasing one still
// holding a live value.
var ErrSpillExhausted = errors.New("regalloc: spill pool exhausted")

// LinearScan assigns hardware registers class by class using a
// free-lowest-first pool and a one-pass liveness computation (each virtual
// register's live range runs from its first appearance to its last within
// the block - sound for an extended basic block, which by definition has
// no back edges). When a class's machine registers are exhausted, the
// allocator falls back to the spill class, reusing the lowest free slot
// first so that the permanent per-class usage record's popcount equals the
// peak number of slots concurrently live, matching RtlProgram's frame-size
// contract.
type LinearScan struct {
	// HwRegisterCount is the number of real machine registers available
	// per type class (excluding the reserved spill class).
	HwRegisterCount map[uint8]int
}

type key struct {
	class uint8
	index uint32
}

func regKey(r jit.RtlRegister) key { return key{class: r.TypeClass, index: r.Index} }

// Allocate implements jit.RegisterAllocator.
func (a *LinearScan) Allocate(program *jit.RtlProgram) (*jit.RtlProgram, error) {
	for _, block := range program.Blocks {
		if err := a.allocateBlock(program, block); err != nil {
			return nil, err
		}
	}
	return program, nil
}

func (a *LinearScan) allocateBlock(program *jit.RtlProgram, block *jit.RtlInstructions) error {
	lastUse := computeLastUse(block)

	pools := make(map[uint8]jit.RegisterSet)
	spillPool := jit.NewRegisterSet(jit.SpillClass)
	assigned := make(map[key]jit.HwRegister)

	freeIfDone := func(k key, pos int) {
		if lastUse[k] != pos {
			return
		}
		hw, ok := assigned[k]
		if !ok {
			return
		}
		if hw.IsSpill() {
			spillPool = spillPool.MarkFree(hw.Index)
		} else {
			pool := pools[hw.Type]
			pools[hw.Type] = pool.MarkFree(hw.Index)
		}
	}

	assign := func(rtl jit.RtlRegister) (jit.HwRegister, error) {
		k := regKey(rtl)
		if hw, ok := assigned[k]; ok {
			return hw, nil
		}
		limit := a.HwRegisterCount[rtl.TypeClass]
		pool := pools[rtl.TypeClass]
		idx, newPool, ok := pool.AllocateLowest()
		if ok && int(idx) < limit {
			pools[rtl.TypeClass] = newPool
			hw := jit.HwRegister{Assigned: true, Type: rtl.TypeClass, Index: idx}
			assigned[k] = hw
			program.MarkUsed(rtl.TypeClass, idx)
			return hw, nil
		}
		sidx, newSpill, ok := spillPool.AllocateLowest()
		if !ok {
			return jit.HwRegister{}, fmt.Errorf("%w: r%d in class %d", ErrSpillExhausted, rtl.Index, rtl.TypeClass)
		}
		spillPool = newSpill
		hw := jit.HwRegister{Assigned: true, Type: jit.SpillClass, Index: sidx}
		assigned[k] = hw
		program.MarkUsed(jit.SpillClass, sidx)
		return hw, nil
	}

	i := 0
	for i < block.Len() {
		in := block.At(i)
		if in.Op.IsPseudo() {
			i++
			continue
		}

		for s := range in.Sources {
			hw, err := assign(in.Sources[s].Rtl)
			if err != nil {
				return err
			}
			in.Sources[s].Hw = hw
		}

		needsMove := false
		var moveFrom, moveTo jit.HwRegister
		if in.Flags.Destructive && len(in.Sources) > 0 && len(in.Results) > 0 {
			src0 := in.Sources[0]
			srcDone := lastUse[regKey(src0.Rtl)] == i
			if srcDone {
				// Unify: the result takes source 0's register directly,
				// and source 0 drops its claim so the register is not
				// freed below while the result still lives in it.
				assigned[regKey(in.Results[0].Rtl)] = src0.Hw
				delete(assigned, regKey(src0.Rtl))
			} else {
				resultHw, err := assign(in.Results[0].Rtl)
				if err != nil {
					return err
				}
				if resultHw != src0.Hw {
					needsMove = true
					moveFrom, moveTo = src0.Hw, resultHw
					in.Sources[0].Hw = resultHw
				}
			}
		}

		for r := range in.Results {
			hw, err := assign(in.Results[r].Rtl)
			if err != nil {
				return err
			}
			in.Results[r].Hw = hw
		}

		if needsMove {
			move := jit.RtlInstruction{
				Op:      jit.RtlMove,
				Sources: []jit.RegisterAssignment{{Hw: moveFrom}},
				Results: []jit.RegisterAssignment{{Hw: moveTo}},
			}
			insertionPoint := iteratorAt(block, i)
			block.InsertBefore(insertionPoint, move)
			shiftLastUse(lastUse, i)
			i++ // the instruction we were processing shifted right by one.
		}

		for _, src := range in.Sources {
			freeIfDone(regKey(src.Rtl), i)
		}
		for _, res := range in.Results {
			freeIfDone(regKey(res.Rtl), i)
		}

		i++
	}
	return nil
}

func iteratorAt(block *jit.RtlInstructions, index int) jit.RtlIterator {
	it := block.Begin()
	for k := 0; k < index; k++ {
		it = it.Next()
	}
	return it
}

// shiftLastUse keeps lastUse in sync with a Move InsertBefore'd at from: every
// recorded position at or past the insertion point moves right by one, same
// as every instruction actually occupying those positions.
func shiftLastUse(lastUse map[key]int, from int) {
	for k, pos := range lastUse {
		if pos >= from {
			lastUse[k] = pos + 1
		}
	}
}

// computeLastUse returns, for every virtual register referenced in block,
// the index of the last instruction that references it (as source or
// result).
func computeLastUse(block *jit.RtlInstructions) map[key]int {
	last := make(map[key]int)
	block.ForEach(func(i int, in *jit.RtlInstruction) {
		for _, s := range in.Sources {
			last[regKey(s.Rtl)] = i
		}
		for _, r := range in.Results {
			last[regKey(r.Rtl)] = i
		}
	})
	return last
}
