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

// Package jit implements the register-transfer form the IR is lowered
// into, the RegisterAllocator interface, the Routine interface, and the
// address-indexed code cache that the basic block driver consults on every
// guest step.
package jit

// SpillClass is the reserved type-class value meaning "memory slot" rather
// than a machine register, for both RtlRegister and HwRegister.
const SpillClass = 0

// RtlRegister is a virtual register reference: a type-class tag plus a
// dense index within that class. The zero value is invalid.
type RtlRegister struct {
	Valid     bool
	TypeClass uint8
	Index     uint32
}

// HwRegister is a hardware register assignment: a machine register index
// within its type class, or - when Type == SpillClass - a spill slot index.
type HwRegister struct {
	Assigned bool
	Type     uint8
	Index    uint32
}

// IsSpill reports whether hw designates a spill slot rather than a machine
// register.
func (hw HwRegister) IsSpill() bool { return hw.Type == SpillClass }

// RegisterAssignment is the binding an allocator fills in: which virtual
// register maps to which hardware register or spill slot.
type RegisterAssignment struct {
	Rtl RtlRegister
	Hw  HwRegister
}

// RegisterSet is a type-tagged bitmap of up to 64 registers in one class.
type RegisterSet struct {
	TypeClass uint8
	bits      uint64
}

func NewRegisterSet(class uint8) RegisterSet { return RegisterSet{TypeClass: class} }

func (s RegisterSet) Intersect(o RegisterSet) RegisterSet {
	return RegisterSet{TypeClass: s.TypeClass, bits: s.bits & o.bits}
}

func (s RegisterSet) Union(o RegisterSet) RegisterSet {
	return RegisterSet{TypeClass: s.TypeClass, bits: s.bits | o.bits}
}

func (s RegisterSet) Complement(universe RegisterSet) RegisterSet {
	return RegisterSet{TypeClass: s.TypeClass, bits: ^s.bits & universe.bits}
}

// AllocateLowest returns the lowest free index not yet marked allocated
// plus a set with that bit now marked, or ok=false if the set is full.
func (s RegisterSet) AllocateLowest() (idx uint32, out RegisterSet, ok bool) {
	for i := uint32(0); i < 64; i++ {
		if s.bits&(1<<i) == 0 {
			return i, RegisterSet{TypeClass: s.TypeClass, bits: s.bits | (1 << i)}, true
		}
	}
	return 0, s, false
}

func (s RegisterSet) MarkAllocated(idx uint32) RegisterSet {
	return RegisterSet{TypeClass: s.TypeClass, bits: s.bits | (1 << idx)}
}

func (s RegisterSet) MarkFree(idx uint32) RegisterSet {
	return RegisterSet{TypeClass: s.TypeClass, bits: s.bits &^ (1 << idx)}
}

func (s RegisterSet) IsAllocated(idx uint32) bool {
	return s.bits&(1<<idx) != 0
}

func (s RegisterSet) Popcount() int {
	count := 0
	for b := s.bits; b != 0; b &= b - 1 {
		count++
	}
	return count
}
