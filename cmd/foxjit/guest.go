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
package main

import (
	"encoding/binary"
	"sync"

	"foxjit/fox"
	"foxjit/jit"
)

// flatGuest is a minimal fox.Guest: a fixed register file and a flat byte
// array standing in for guest physical memory. It doubles as a
// jit.MemoryWatcher so the CLI can demonstrate the install/remove-watch
// and MemoryDirtied invalidation path without a real guest memory manager.
type flatGuest struct {
	mu   sync.Mutex
	regs [32]uint64
	mem  []byte

	dirty func(start, length uint64)
}

func newFlatGuest(memSize int) *flatGuest {
	return &flatGuest{mem: make([]byte, memSize)}
}

func (g *flatGuest) RegisterRead(index uint32, bytes int) fox.Value {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fox.ValueFromU64(g.regs[index]).Truncate(bytes * 8)
}

func (g *flatGuest) RegisterWrite(index uint32, bytes int, v fox.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regs[index] = v.Truncate(bytes * 8).U64()
}

func (g *flatGuest) Load(address uint64, bytes int) fox.Value {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := g.mem[address : address+uint64(bytes)]
	switch bytes {
	case 1:
		return fox.ValueFromU64(uint64(buf[0]))
	case 2:
		return fox.ValueFromU64(uint64(binary.LittleEndian.Uint16(buf)))
	case 4:
		return fox.ValueFromU64(uint64(binary.LittleEndian.Uint32(buf)))
	default:
		return fox.ValueFromU64(binary.LittleEndian.Uint64(buf))
	}
}

// Store writes the value and, if a watcher callback is wired, reports the
// write so the JIT cache can invalidate any routine compiled from this
// range - the self-modifying-code path spec.md's cache-invalidation
// contract describes.
func (g *flatGuest) Store(address uint64, bytes int, v fox.Value) {
	g.mu.Lock()
	buf := g.mem[address : address+uint64(bytes)]
	raw := v.Truncate(bytes * 8).U64()
	switch bytes {
	case 1:
		buf[0] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(raw))
	default:
		binary.LittleEndian.PutUint64(buf, raw)
	}
	g.mu.Unlock()

	if g.dirty != nil {
		g.dirty(address, uint64(bytes))
	}
}

// InstallWatch and RemoveWatch satisfy jit.MemoryWatcher. The demo guest
// has no page-table-level write-protection to toggle, so they only exist
// to prove the Cache wires the calls at the right refcount transitions;
// a real guest would mprotect the backing page here.
func (g *flatGuest) InstallWatch(page uint64) {}
func (g *flatGuest) RemoveWatch(page uint64)  {}

var _ jit.MemoryWatcher = (*flatGuest)(nil)
var _ fox.Guest = (*flatGuest)(nil)
