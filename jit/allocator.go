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

import (
	"unsafe"

	"foxjit/fox"
)

// RegisterAllocator consumes an RtlProgram whose instructions reference
// virtual registers only and returns one with every RegisterAssignment
// filled in, Move/Nop pseudo-instructions inserted as needed, and
// RegisterUsage populated per class. No particular algorithm is mandated;
// regalloc.LinearScan is the implementation this repository ships.
//
// Allocate must preserve the RtlInstructions iterator invalidation
// contract when it appends moves or spills: existing iterators remain
// valid and End() refers to the new tail.
type RegisterAllocator interface {
	Allocate(program *RtlProgram) (*RtlProgram, error)
}

// Routine is a compiled, executable block: the bytecode interpreter's
// Routine and codegen's native Routine both implement it.
type Routine interface {
	// Prepare makes the routine ready to execute, remapping its backing
	// storage to executable if necessary. force controls whether a
	// backend may advance its storage's executable high-water mark past
	// the current allocation mark.
	Prepare(force bool) bool
	// Ready reports whether Prepare has already succeeded.
	Ready() bool
	// Execute runs the routine and returns its cycle count / status word,
	// matching the compiled-routine ABI fn(Guest*, memory_base, register_base) -> u64.
	Execute(guest fox.Guest, memoryBase, registerBase unsafe.Pointer) uint64
}
