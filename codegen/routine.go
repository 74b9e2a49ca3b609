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
package codegen

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"foxjit/fox"
	"foxjit/utils"
)

// ErrStorageExhausted is what a native emitter returns when RoutineStorage
// has no room left for the routine it just encoded. It is a distinct
// sentinel (rather than folded into the emitter's generic unsupported-op
// error) because the two failures call for different recoveries: an
// unsupported opcode always falls back to the bytecode VM, but storage
// exhaustion just needs a fresh slab - the block driver retries the same
// compile once against a new RoutineStorage before giving up on native.
var ErrStorageExhausted = errors.New("codegen: routine storage exhausted")

// Routine is the native-code counterpart to bytecode.Routine: instead of
// owning an interpreter loop, it remembers where its machine code lives in
// a RoutineStorage slab and jumps straight into it. It implements
// jit.Routine.
type Routine struct {
	storage *RoutineStorage
	offset  int
	length  int
	ready   int32 // atomic bool; set once Prepare has made [offset,offset+length) executable.
}

// NewRoutine wraps a span of storage previously returned by
// RoutineStorage.Alloc. It retains storage for the routine's lifetime;
// Release drops that hold.
func NewRoutine(storage *RoutineStorage, offset, length int) *Routine {
	storage.Retain()
	return &Routine{storage: storage, offset: offset, length: length}
}

// Prepare advances storage's executable high-water mark to cover this
// routine's span. force follows RoutineStorage.ExecutableRemap's refusal
// rule: without it, a span beyond the mark already reached fails rather
// than silently growing it, so a caller can batch many routines compiled
// back-to-back into one remap.
func (r *Routine) Prepare(force bool) bool {
	if err := r.storage.ExecutableRemap(r.offset+r.length, force); err != nil {
		return false
	}
	atomic.StoreInt32(&r.ready, 1)
	return true
}

func (r *Routine) Ready() bool { return atomic.LoadInt32(&r.ready) == 1 }

// Execute jumps into this routine's machine code. ReadGR/WriteGR/Load/
// Store compile to direct memoryBase/registerBase pointer arithmetic (see
// amd64/amd64.go), so the generated code never actually dereferences guest;
// it is still boxed behind a pointer and threaded through the call for ABI
// parity with jit.Routine and bytecode.Routine, and so a unit containing an
// ir.Call never reaches this path in the first place - Lower rejects it
// before compilation, and the block driver falls back to the bytecode VM.
func (r *Routine) Execute(guest fox.Guest, memoryBase, registerBase unsafe.Pointer) uint64 {
	utils.Assert(r.Ready(), "codegen: Execute called on a routine Prepare never made executable")
	base := r.storage.Base()
	entry := uintptr(unsafe.Pointer(&base[r.offset]))
	box := &guest
	return callRoutine(entry, unsafe.Pointer(box), memoryBase, registerBase)
}

// Release drops this routine's hold on its backing storage, returning
// true once nothing else is retaining it and it is safe to Close.
func (r *Routine) Release() bool { return r.storage.Release() }
