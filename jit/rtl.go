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

import "foxjit/fox"

// RtlOp identifies an RTL operation. Values with the high bit set are
// reserved for allocator-inserted pseudo-ops (Move, Nop, Invalid); target
// backends number their own opcodes in the low range.
type RtlOp uint16

const pseudoOpBit RtlOp = 1 << 15

const (
	// RtlInvalid marks a record the allocator dropped in place rather than
	// compact the slice for.
	RtlInvalid RtlOp = pseudoOpBit | iota
	RtlMove
	RtlNop
)

func (op RtlOp) IsPseudo() bool { return op&pseudoOpBit != 0 }

// RtlFlags carries the allocator hints attached to one instruction.
type RtlFlags struct {
	// Destructive: the emitter writes its result into source 0's
	// register; the allocator should try to unify source 0 and the
	// result's hardware assignment.
	Destructive bool
	// Unordered: source order does not matter (advisory).
	Unordered bool
	// SaveState: the emitter needs a snapshot of what is live in what
	// register at this point (call sequences that spill/restore).
	SaveState bool
}

// RtlInstruction is one variable-width RTL record: an opcode, flags, source
// and result register assignments, an inline payload Value, and - iff
// SaveState is set - a snapshot of the live RegisterAssignments at this
// point in the block.
type RtlInstruction struct {
	Op      RtlOp
	Flags   RtlFlags
	Sources []RegisterAssignment
	Results []RegisterAssignment
	Payload fox.Value
	// Position is the originating IR instruction's index, kept for
	// disassembly and diagnostics; it has no effect on execution.
	Position int

	// State is the RegisterState snapshot, populated only when
	// Flags.SaveState is set.
	State []RegisterAssignment
}

// RtlInstructions is one extended-basic-block's packed record stream. It is
// backed by a Go slice rather than a byte buffer (the data model's Go
// representation note explicitly allows this), but the iterator type
// re-derives its element from (target, index) on every dereference rather
// than holding a raw pointer/offset - that is what keeps Go's slice-growth
// semantics from ever invalidating a previously obtained iterator, matching
// the strict append/iterator-stability contract.
type RtlInstructions struct {
	Label        string
	instructions []RtlInstruction
}

func NewRtlInstructions(label string) *RtlInstructions {
	return &RtlInstructions{Label: label}
}

func (b *RtlInstructions) Len() int { return len(b.instructions) }

// RtlIterator is a stable reference into an RtlInstructions block. It never
// holds a pointer into the backing array directly, so appends that trigger
// a slice reallocation never leave it dangling.
type RtlIterator struct {
	target *RtlInstructions
	index  int
}

// Begin returns an iterator at the first record.
func (b *RtlInstructions) Begin() RtlIterator { return RtlIterator{target: b, index: 0} }

// End returns an iterator one past the last record.
func (b *RtlInstructions) End() RtlIterator { return RtlIterator{target: b, index: len(b.instructions)} }

// Get dereferences the iterator against the block's current backing slice.
func (it RtlIterator) Get() *RtlInstruction {
	return &it.target.instructions[it.index]
}

// Next advances the iterator by one record.
func (it RtlIterator) Next() RtlIterator { return RtlIterator{target: it.target, index: it.index + 1} }

func (it RtlIterator) Equal(o RtlIterator) bool { return it.target == o.target && it.index == o.index }

func (it RtlIterator) Index() int { return it.index }

// Append adds a record to the end of the block. Per the iterator stability
// contract, every RtlIterator obtained before this call (including a
// previous End()) remains valid afterward, and the iterator that used to be
// End() now refers to the freshly appended record - true here because an
// RtlIterator only ever stores an index, never a pointer into the slice
// that append() may reallocate.
func (b *RtlInstructions) Append(in RtlInstruction) RtlIterator {
	idx := len(b.instructions)
	b.instructions = append(b.instructions, in)
	return RtlIterator{target: b, index: idx}
}

// InsertBefore inserts in immediately before it, shifting later records
// up by one slot; it is used by the allocator to splice Move/Nop pseudo-ops
// into an already-built block.
func (b *RtlInstructions) InsertBefore(it RtlIterator, in RtlInstruction) RtlIterator {
	idx := it.index
	b.instructions = append(b.instructions, RtlInstruction{})
	copy(b.instructions[idx+1:], b.instructions[idx:])
	b.instructions[idx] = in
	return RtlIterator{target: b, index: idx}
}

// At returns the record at position i directly, for callers that do not
// need iterator semantics (e.g. emitters walking a finished block).
func (b *RtlInstructions) At(i int) *RtlInstruction { return &b.instructions[i] }

// ForEach walks every record from first to last.
func (b *RtlInstructions) ForEach(fn func(i int, in *RtlInstruction)) {
	for i := range b.instructions {
		fn(i, &b.instructions[i])
	}
}

// Disassemble renders one line per record using the caller-supplied
// opcode-to-mnemonic function for target-specific opcodes.
func (b *RtlInstructions) Disassemble(name func(RtlOp) string) string {
	out := b.Label + ":\n"
	for i, in := range b.instructions {
		out += rtlLine(i, in, name)
	}
	return out
}
