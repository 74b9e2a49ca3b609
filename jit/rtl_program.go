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
package jit

import "fmt"

// RegisterUsage summarizes, per type class, which hardware registers a
// compiled program actually uses. For the spill class, Popcount of Set
// equals the peak spill slot count - the frame size the prologue must
// reserve.
type RegisterUsage struct {
	Set RegisterSet
}

// RtlProgram is an ordered list of extended basic blocks, an SSA counter
// used to mint fresh virtual registers (e.g. for allocator-inserted
// temporaries), and per-class register usage summaries populated by the
// allocator.
type RtlProgram struct {
	Blocks    []*RtlInstructions
	ssaNext   uint32
	usage     map[uint8]RegisterUsage
}

func NewRtlProgram() *RtlProgram {
	return &RtlProgram{usage: make(map[uint8]RegisterUsage)}
}

// NewVirtualRegister mints a fresh virtual register in the given class.
func (p *RtlProgram) NewVirtualRegister(class uint8) RtlRegister {
	idx := p.ssaNext
	p.ssaNext++
	return RtlRegister{Valid: true, TypeClass: class, Index: idx}
}

// AddBlock appends a new block and returns it.
func (p *RtlProgram) AddBlock(label string) *RtlInstructions {
	b := NewRtlInstructions(label)
	p.Blocks = append(p.Blocks, b)
	return b
}

// ReplaceBlock swaps the block at index i for replacement, by handle -
// used by the allocator to install its rebuilt copy of a block.
func (p *RtlProgram) ReplaceBlock(i int, replacement *RtlInstructions) {
	p.Blocks[i] = replacement
}

// RegisterUsage returns the usage summary for a type class, populated by
// the allocator once it has assigned hardware registers.
func (p *RtlProgram) RegisterUsage(class uint8) RegisterUsage {
	return p.usage[class]
}

// MarkUsed records that idx in class was assigned to at least one
// instruction; called by the allocator as it fills in assignments.
func (p *RtlProgram) MarkUsed(class uint8, idx uint32) {
	u := p.usage[class]
	u.Set = u.Set.MarkAllocated(idx)
	u.Set.TypeClass = class
	p.usage[class] = u
}

// SpillFrameSize returns the peak spill slot count, i.e. the frame size a
// prologue must reserve.
func (p *RtlProgram) SpillFrameSize() int {
	return p.usage[SpillClass].Set.Popcount()
}

func rtlLine(i int, in RtlInstruction, name func(RtlOp) string) string {
	mnem := name(in.Op)
	line := fmt.Sprintf("[%04d] %s", i, mnem)
	for _, r := range in.Results {
		line += fmt.Sprintf(" ->%s", formatHw(r.Hw))
	}
	for _, s := range in.Sources {
		line += fmt.Sprintf(" %s", formatHw(s.Hw))
	}
	return line + "\n"
}

func formatHw(hw HwRegister) string {
	if !hw.Assigned {
		return "?"
	}
	if hw.IsSpill() {
		return fmt.Sprintf("spill[%d]", hw.Index)
	}
	return fmt.Sprintf("r%d.%d", hw.Type, hw.Index)
}
