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

// Package block is the per-guest basic block driver: it owns the JIT cache
// and the current routine storage slab, translates a guest address into an
// ExecutionUnit on a cache miss, compiles it - native first, bytecode VM on
// native failure - and drives execution hit after hit, threading the
// cache's trailing-unit hint through so a block that falls through to its
// successor skips a fresh lookup.
package block

import (
	"errors"
	"unsafe"

	"github.com/sirupsen/logrus"

	"foxjit/bytecode"
	"foxjit/codegen"
	"foxjit/codegen/amd64"
	"foxjit/fox"
	"foxjit/ir"
	"foxjit/jit"
)

// DefaultSlabSize is the routine storage size a Driver allocates if the
// caller does not supply one: a page-aligned 256 KiB, the default slab
// size the storage-slab layout calls for.
const DefaultSlabSize = 256 * 1024

// Build translates the guest basic block starting at virtual address va
// into an ExecutionUnit, and reports its size in guest bytes (used as the
// cache entry's physical range for overlap invalidation). The driver calls
// Build at most once per va between invalidations.
type Build func(va uint64) (unit *ir.ExecutionUnit, sizeBytes uint64)

// Driver is the per-guest wrapper spec's basic block component describes:
// it owns one Cache, one current RoutineStorage slab, and the cursor
// (last) needed to exploit next-block hinting. It assumes a single
// execution thread, matching the cache's own concurrency contract.
type Driver struct {
	cache    *jit.Cache
	storage  *codegen.RoutineStorage
	slabSize int
	optimize bool
	log      *logrus.Entry

	last *jit.CacheEntry
}

// NewDriver builds a Driver watching guest memory through watcher and
// allocating native code into slabSize-byte slabs (DefaultSlabSize if
// slabSize <= 0). optimize runs ir.Optimize (constant fold + dead-code
// elimination) over every freshly built unit before compilation.
func NewDriver(watcher jit.MemoryWatcher, slabSize int, optimize bool) (*Driver, error) {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}
	storage, err := codegen.NewRoutineStorage(slabSize)
	if err != nil {
		return nil, err
	}
	storage.Retain() // the driver's own hold on "the current slab for new routines"
	return &Driver{
		cache:    jit.NewCache(watcher),
		storage:  storage,
		slabSize: slabSize,
		optimize: optimize,
		log:      logrus.WithField("component", "block"),
	}, nil
}

// Cache exposes the underlying jit.Cache so a guest's memory subsystem can
// wire MemoryDirtied into its store path.
func (d *Driver) Cache() *jit.Cache { return d.cache }

// Step executes the basic block at virtual address va, translating and
// compiling it first if this is the first visit (or the prior entry there
// was invalidated). It returns the exit word the block's `exit` instruction
// produced - the routine's cycle count or guest-defined status word.
func (d *Driver) Step(guest fox.Guest, va uint64, build Build, memoryBase, registerBase unsafe.Pointer) uint64 {
	entry := d.resolve(va)
	if entry == nil {
		entry = d.translate(va, build)
	}
	if d.last != nil && d.last != entry {
		d.last.SetNextBlock(va)
	}
	d.last = entry

	if !entry.IsCompiled() {
		// compileFunc only returns an error when even the bytecode VM
		// fallback could not be reached (a fresh slab's own mmap failed);
		// translate already logged it. Nothing runnable exists for va.
		return 0
	}
	if !entry.Routine.Prepare(true) {
		d.log.WithField("virtual_address", va).Error("routine never became executable")
		return 0
	}
	return entry.Routine.Execute(guest, memoryBase, registerBase)
}

// resolve finds the already-cached entry for va, preferring the prior
// entry's next-block hint over a full lookup when it matches - the
// trailing-unit chain-hinting behavior original_source's cache carries.
func (d *Driver) resolve(va uint64) *jit.CacheEntry {
	if d.last != nil {
		if hint, ok := d.last.NextBlockHint(); ok && hint == va {
			if e, ok := d.cache.Lookup(va); ok && !e.IsInvalidated() {
				return e
			}
			// The hinted entry is gone or invalidated - clear lazily now
			// rather than carry a stale pointer forward.
			d.last.ClearNextBlock()
		}
	}
	if e, ok := d.cache.Lookup(va); ok && !e.IsInvalidated() {
		return e
	}
	return nil
}

// translate builds, optionally optimizes, and queues compilation for the
// block at va, inserting the new entry into the cache before returning it.
func (d *Driver) translate(va uint64, build Build) *jit.CacheEntry {
	unit, sizeBytes := build(va)
	if d.optimize {
		unit = ir.Optimize(unit)
	}

	entry := jit.NewCacheEntry(va, sizeBytes)
	d.cache.Insert(entry)

	if err := d.cache.QueueCompileUnit(entry, d.compileFunc(unit)); err != nil {
		d.log.WithFields(logrus.Fields{"virtual_address": va, "error": err}).
			Error("basic block has no routine at all; every Step here will fault")
	}
	return entry
}

// compileFunc returns the closure QueueCompileUnit invokes at most once for
// this unit. It tries the native amd64 backend first, retrying once against
// a fresh slab if the current one is full, and falls back to the bytecode
// VM - which never refuses a well-formed unit - for everything else native
// declines (floating point, ir.Call, unsupported register pressure).
func (d *Driver) compileFunc(unit *ir.ExecutionUnit) func() (jit.Routine, error) {
	return func() (jit.Routine, error) {
		routine, err := amd64.Compile(unit, d.storage)
		if errors.Is(err, codegen.ErrStorageExhausted) {
			if rotateErr := d.rotateStorage(); rotateErr != nil {
				return nil, rotateErr
			}
			routine, err = amd64.Compile(unit, d.storage)
		}
		if err == nil {
			return routine, nil
		}

		d.log.WithError(err).Debug("native compile failed, falling back to bytecode VM")
		prog := bytecode.NewCompiler().Compile(unit)
		return bytecode.NewRoutine(prog), nil
	}
}

// rotateStorage releases the driver's hold on the current slab and
// allocates a fresh one, matching the storage-slab lifecycle: a full slab's
// implicit reference is released and a new slab takes over for new
// routines, while routines already compiled into the old one keep it alive
// through their own Retain.
func (d *Driver) rotateStorage() error {
	next, err := codegen.NewRoutineStorage(d.slabSize)
	if err != nil {
		return err
	}
	next.Retain()
	if d.storage.Release() {
		_ = d.storage.Close()
	}
	d.storage = next
	return nil
}

// GarbageCollect drains the cache's dirty queue. Call it periodically from
// the guest's main loop; it is cheap (a no-op scan) when nothing is dirty.
func (d *Driver) GarbageCollect() bool { return d.cache.GarbageCollect() }
