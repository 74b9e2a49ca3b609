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

import "sync/atomic"

// physicalAddressMask selects the memory image a virtual address belongs
// to (the architectural high bits are stripped), matching the original
// "0x1FFF_FFFF" physical-address convention.
const physicalAddressMask = 0x1FFF_FFFF

// PhysicalAddressOf masks a guest virtual address down to its physical
// image address.
func PhysicalAddressOf(va uint64) uint64 { return va & physicalAddressMask }

// noNextBlock is the sentinel VA meaning "no trailing-unit hint set".
const noNextBlock = ^uint64(0)

// CacheEntry is a reference-counted handle to one compiled (or pending)
// block, keyed by guest virtual address. next_block is modeled as a weak
// hint - a virtual address, not a pointer - resolved back through the
// owning Cache at hit time, so it can never form a strong reference cycle
// and is automatically "cleared" the moment the hinted entry is gone from
// the lookup map.
type CacheEntry struct {
	VirtualAddress  uint64
	PhysicalAddress uint64
	SizeBytes       uint64
	Routine         Routine

	invalidated      atomic.Bool
	compiled         atomic.Bool
	queuedForCompile atomic.Bool
	refcount         atomic.Int32
	nextBlock        atomic.Uint64
}

// NewCacheEntry constructs an entry with an implicit single reference,
// matching the constructor's initial refcount of 1.
func NewCacheEntry(virtualAddress, sizeBytes uint64) *CacheEntry {
	e := &CacheEntry{
		VirtualAddress:  virtualAddress,
		PhysicalAddress: PhysicalAddressOf(virtualAddress),
		SizeBytes:       sizeBytes,
	}
	e.refcount.Store(1)
	e.nextBlock.Store(noNextBlock)
	return e
}

func (e *CacheEntry) PhysicalEnd() uint64 { return e.PhysicalAddress + e.SizeBytes }

func (e *CacheEntry) IsInvalidated() bool { return e.invalidated.Load() }
func (e *CacheEntry) IsCompiled() bool    { return e.compiled.Load() }
func (e *CacheEntry) IsQueuedForCompile() bool { return e.queuedForCompile.Load() }

// Retain increments the reference count; every holder (the cache's maps,
// every in-flight execution) must retain before storing a reference.
func (e *CacheEntry) Retain() { e.refcount.Add(1) }

// Release decrements the reference count and reports whether it reached
// zero, meaning the entry's storage may now be reclaimed.
func (e *CacheEntry) Release() bool { return e.refcount.Add(-1) == 0 }

// SetNextBlock records the trailing-unit hint as a virtual address.
func (e *CacheEntry) SetNextBlock(va uint64) { e.nextBlock.Store(va) }

// ClearNextBlock removes the hint, done lazily whenever invalidation makes
// it stale.
func (e *CacheEntry) ClearNextBlock() { e.nextBlock.Store(noNextBlock) }

// NextBlockHint returns the hinted virtual address, or ok=false if unset.
func (e *CacheEntry) NextBlockHint() (va uint64, ok bool) {
	v := e.nextBlock.Load()
	return v, v != noNextBlock
}

func (e *CacheEntry) markInvalidated() { e.invalidated.Store(true) }

// Compile invokes fn at most once; a second call is a no-op and returns
// nil immediately, matching the "compile() is called at most once per
// entry" contract. A compile failure leaves the entry uncompiled so the
// driver can fall back to the bytecode VM.
func (e *CacheEntry) Compile(fn func() (Routine, error)) error {
	if e.compiled.Load() {
		return nil
	}
	routine, err := fn()
	if err != nil {
		return err
	}
	e.Routine = routine
	e.compiled.Store(true)
	return nil
}
