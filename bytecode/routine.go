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
	"unsafe"

	"foxjit/fox"
)

// Routine implements jit.Routine over an interpreted Program. Unlike a
// native Routine it needs no executable-memory remap - Prepare is
// trivially satisfied the moment a Routine is constructed, which is what
// makes the interpreter the safe always-available fallback when a native
// compile fails.
type Routine struct {
	prog *Program
}

// NewRoutine wraps a compiled Program as a jit.Routine.
func NewRoutine(prog *Program) *Routine { return &Routine{prog: prog} }

func (r *Routine) Prepare(force bool) bool { return true }
func (r *Routine) Ready() bool             { return true }

// Execute runs the interpreter loop against guest. memoryBase and
// registerBase are part of the native-routine ABI and are unused here -
// the interpreter always goes through fox.Guest's Load/Store/RegisterRead/
// RegisterWrite methods instead of addressing guest memory directly.
func (r *Routine) Execute(guest fox.Guest, memoryBase, registerBase unsafe.Pointer) uint64 {
	vm := NewVM(guest)
	return vm.Run(r.prog)
}
