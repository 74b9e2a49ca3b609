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
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryWatcher is the guest-memory side of the cache's watch contract:
// InstallWatch is called the moment a physical page's refcount goes from
// zero to one, RemoveWatch the moment it drops back to zero.
type MemoryWatcher interface {
	InstallWatch(page uint64)
	RemoveWatch(page uint64)
}

// PageSize is the watch granularity; physical addresses are bucketed into
// pages of this size for the per-page refcount table.
const PageSize = 4096

// Cache is the address-indexed JIT code cache: lookup by virtual address,
// chain-hinting via trailing_unit, overlap invalidation on insert,
// watch-driven invalidation on guest writes, deferred GC, and a compile
// queue. invalidationLock covers every field below it.
type Cache struct {
	watcher MemoryWatcher
	log     *logrus.Entry

	invalidationLock sync.Mutex

	lookup       map[uint64]*CacheEntry   // lookup_map: VA -> entry, execution-thread-only writes.
	sortedVAs    []uint64                 // kept sorted for trailing_unit's binary search.
	invalidation map[uint64][]*CacheEntry // invalidation_map: physical end -> entries (multimap).
	dirtyQueue   []*CacheEntry
	compileQueue []*CacheEntry
	memoryMap    map[uint64]int // per-physical-page refcount.
}

// NewCache builds an empty cache watching guest memory through watcher.
func NewCache(watcher MemoryWatcher) *Cache {
	return &Cache{
		watcher:      watcher,
		log:          logrus.WithField("component", "jitcache"),
		lookup:       make(map[uint64]*CacheEntry),
		invalidation: make(map[uint64][]*CacheEntry),
		memoryMap:    make(map[uint64]int),
	}
}

// Lookup returns the entry at virtual address va, or ok=false. Execution
// thread only; no side effects.
func (c *Cache) Lookup(va uint64) (*CacheEntry, bool) {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()
	e, ok := c.lookup[va]
	return e, ok
}

// TrailingUnit returns the start VA of the next entry at or above va, or
// ok=false if none exists. Any thread may call this; it is lock-protected.
func (c *Cache) TrailingUnit(va uint64) (uint64, bool) {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()
	i := sort.Search(len(c.sortedVAs), func(i int) bool { return c.sortedVAs[i] >= va })
	if i == len(c.sortedVAs) {
		return 0, false
	}
	return c.sortedVAs[i], true
}

// Insert invalidates every prior entry whose physical range overlaps e's,
// then adds e to all three maps and installs/bumps the page watches it
// needs. Execution thread only.
func (c *Cache) Insert(e *CacheEntry) {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()

	c.invalidateOverlappingLocked(e.PhysicalAddress, e.PhysicalEnd(), nil)

	e.Retain()
	c.lookup[e.VirtualAddress] = e
	c.insertSortedLocked(e.VirtualAddress)
	c.invalidation[e.PhysicalEnd()] = append(c.invalidation[e.PhysicalEnd()], e)

	for page := pageOf(e.PhysicalAddress); page <= pageOf(e.PhysicalEnd()-1); page++ {
		c.bumpPageLocked(page, 1)
	}
}

// QueueCompileUnit marks e queued and runs the synchronous compile loop.
// The design permits a background compiler; this reference cache compiles
// inline, matching spec's "(currently) invokes the synchronous
// run_compilation loop".
func (c *Cache) QueueCompileUnit(e *CacheEntry, compile func() (Routine, error)) error {
	if !e.queuedForCompile.CompareAndSwap(false, true) {
		return nil
	}
	c.invalidationLock.Lock()
	c.compileQueue = append(c.compileQueue, e)
	c.invalidationLock.Unlock()

	err := e.Compile(compile)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"virtual_address": e.VirtualAddress,
			"error":           err,
		}).Warn("compilation failed; entry left uncompiled")
	}
	return err
}

// MemoryDirtied is the watch callback: every entry whose physical range
// intersects [start, start+len) is invalidated, removed from the lookup,
// trailing and invalidation maps, and queued for GC. Any thread may call
// this.
func (c *Cache) MemoryDirtied(start, length uint64) {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()
	c.invalidateOverlappingLocked(start, start+length, &c.dirtyQueue)
}

// InvalidateAll invalidates the full [0, 0xFFFF_FFFF) range, e.g. when the
// guest remaps its entire address space.
func (c *Cache) InvalidateAll() {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()
	c.invalidateOverlappingLocked(0, 0xFFFF_FFFF, &c.dirtyQueue)
}

// invalidateOverlappingLocked must be called with invalidationLock held.
// It walks the invalidation multimap (keyed by physical end, so every
// candidate whose end lies within or after the dirtied range might
// overlap) and invalidates every entry whose [start,end) intersects
// [rangeStart, rangeEnd). When dirty is non-nil the entries are appended to
// it (the memory-dirtied / invalidate-all paths feed GC); insert's overlap
// check passes nil since the newly inserted entry replaces them outright.
func (c *Cache) invalidateOverlappingLocked(rangeStart, rangeEnd uint64, dirty *[]*CacheEntry) {
	for physEnd, entries := range c.invalidation {
		if physEnd <= rangeStart {
			continue
		}
		remaining := entries[:0]
		for _, e := range entries {
			if e.IsInvalidated() {
				continue
			}
			if e.PhysicalAddress < rangeEnd && e.PhysicalEnd() > rangeStart {
				c.invalidateEntryLocked(e)
				if dirty != nil {
					*dirty = append(*dirty, e)
				}
				continue
			}
			remaining = append(remaining, e)
		}
		if len(remaining) == 0 {
			delete(c.invalidation, physEnd)
		} else {
			c.invalidation[physEnd] = remaining
		}
	}
}

// invalidateEntryLocked performs the one-way transition: marks the entry
// invalidated, removes it from lookup/trailing, and releases the page
// refcounts it held. Caller must hold invalidationLock.
func (c *Cache) invalidateEntryLocked(e *CacheEntry) {
	e.markInvalidated()
	delete(c.lookup, e.VirtualAddress)
	c.removeSortedLocked(e.VirtualAddress)
	for page := pageOf(e.PhysicalAddress); page <= pageOf(e.PhysicalEnd()-1); page++ {
		c.bumpPageLocked(page, -1)
	}
}

// GarbageCollect drains the dirty queue, releasing each entry's cache
// reference, and reports whether anything was freed.
func (c *Cache) GarbageCollect() bool {
	c.invalidationLock.Lock()
	queue := c.dirtyQueue
	c.dirtyQueue = nil
	c.invalidationLock.Unlock()

	for _, e := range queue {
		e.Release()
	}
	if len(queue) > 0 {
		c.log.WithField("freed", len(queue)).Debug("garbage collected invalidated entries")
	}
	return len(queue) > 0
}

// MemoryMapRefcount exposes the per-page refcount for tests and
// diagnostics (Testable Property 4).
func (c *Cache) MemoryMapRefcount(page uint64) int {
	c.invalidationLock.Lock()
	defer c.invalidationLock.Unlock()
	return c.memoryMap[page]
}

func (c *Cache) insertSortedLocked(va uint64) {
	i := sort.Search(len(c.sortedVAs), func(i int) bool { return c.sortedVAs[i] >= va })
	c.sortedVAs = append(c.sortedVAs, 0)
	copy(c.sortedVAs[i+1:], c.sortedVAs[i:])
	c.sortedVAs[i] = va
}

func (c *Cache) removeSortedLocked(va uint64) {
	i := sort.Search(len(c.sortedVAs), func(i int) bool { return c.sortedVAs[i] >= va })
	if i < len(c.sortedVAs) && c.sortedVAs[i] == va {
		c.sortedVAs = append(c.sortedVAs[:i], c.sortedVAs[i+1:]...)
	}
}

func (c *Cache) bumpPageLocked(page uint64, delta int) {
	count := c.memoryMap[page] + delta
	if count < 0 {
		count = 0
	}
	before := c.memoryMap[page]
	c.memoryMap[page] = count
	if before == 0 && count > 0 && c.watcher != nil {
		c.watcher.InstallWatch(page)
	} else if before > 0 && count == 0 {
		delete(c.memoryMap, page)
		if c.watcher != nil {
			c.watcher.RemoveWatch(page)
		}
	}
}

func pageOf(physAddr uint64) uint64 { return physAddr / PageSize }
