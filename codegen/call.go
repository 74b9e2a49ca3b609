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

import "unsafe"

// callRoutine jumps into compiled native code at entry with the
// compiled-routine ABI fn(Guest*, memory_base, register_base) -> u64 and
// returns its result. It has no Go body - call_amd64.s and call_arm64.s
// supply the per-architecture trampoline, the same declare-in-Go/
// define-in-asm split wazero's jitcall stub uses to cross from Go into a
// freshly written code buffer.
func callRoutine(entry uintptr, guest, memoryBase, registerBase unsafe.Pointer) uint64
