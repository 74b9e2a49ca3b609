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
package ir

import "foxjit/fox"

type cachedReg struct {
	operand Operand
	typ     fox.Type
	valid   bool
	dirty   bool
}

// RegisterCache is the standard optimization pattern every guest
// translator uses to avoid redundant readgr/writegr pairs: read_reg caches
// the most recent value of a guest register in an SSA operand, write_reg
// marks it dirty, and flush emits the pending writegr instructions. This
// layer is not part of the IR - the unit only ever sees readgr/writegr.
type RegisterCache struct {
	asm     *Assembler
	entries map[uint32]*cachedReg
}

func newRegisterCache(asm *Assembler) *RegisterCache {
	return &RegisterCache{asm: asm, entries: make(map[uint32]*cachedReg)}
}

// Read returns the cached operand for guest register index if valid,
// otherwise issues a readgr and caches the result.
func (c *RegisterCache) Read(index uint32, t fox.Type) Operand {
	if e, ok := c.entries[index]; ok && e.valid {
		return e.operand
	}
	op := c.asm.ReadGR(t, c.asm.Const(fox.I32, fox.ValueFromU64(uint64(index))))
	c.entries[index] = &cachedReg{operand: op, typ: t, valid: true}
	return op
}

// Write marks the entry valid and dirty without emitting anything yet.
func (c *RegisterCache) Write(index uint32, value Operand) {
	c.entries[index] = &cachedReg{operand: value, typ: value.Type(), valid: true, dirty: true}
}

// Flush emits writegr for every dirty entry and clears their dirty bit.
func (c *RegisterCache) Flush() {
	for index, e := range c.entries {
		if e.dirty {
			c.asm.WriteGR(c.asm.Const(fox.I32, fox.ValueFromU64(uint64(index))), e.operand)
			e.dirty = false
		}
	}
}

// FlushOne flushes a single guest register if dirty.
func (c *RegisterCache) FlushOne(index uint32) {
	if e, ok := c.entries[index]; ok && e.dirty {
		c.asm.WriteGR(c.asm.Const(fox.I32, fox.ValueFromU64(uint64(index))), e.operand)
		e.dirty = false
	}
}

// Invalidate clears every entry's validity without emitting any writegr;
// used when guest state may have changed underneath the cache (e.g. after
// a call that the caller knows mutates registers directly).
func (c *RegisterCache) Invalidate() {
	c.entries = make(map[uint32]*cachedReg)
}
