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
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWatcher struct {
	installed map[uint64]bool
}

func newRecordingWatcher() *recordingWatcher {
	return &recordingWatcher{installed: make(map[uint64]bool)}
}

func (w *recordingWatcher) InstallWatch(page uint64) { w.installed[page] = true }
func (w *recordingWatcher) RemoveWatch(page uint64)  { delete(w.installed, page) }

// TestCacheOverlapInvalidation is spec Scenario D.
func TestCacheOverlapInvalidation(t *testing.T) {
	c := NewCache(newRecordingWatcher())

	e1 := NewCacheEntry(0x1000, 16) // phys 0x1000..0x1010
	c.Insert(e1)

	e2 := NewCacheEntry(0x1008, 8) // phys 0x1008..0x1010
	c.Insert(e2)

	require.True(t, e1.IsInvalidated())
	_, ok := c.Lookup(0x1000)
	require.False(t, ok)

	got, ok := c.Lookup(0x1008)
	require.True(t, ok)
	require.Same(t, e2, got)
}

// TestCacheMemoryDirtied is spec Scenario E.
func TestCacheMemoryDirtied(t *testing.T) {
	watcher := newRecordingWatcher()
	c := NewCache(watcher)

	e := NewCacheEntry(0x2000, 32)
	c.Insert(e)
	require.True(t, watcher.installed[pageOf(e.PhysicalAddress)])

	c.MemoryDirtied(0x2010, 4)
	require.True(t, e.IsInvalidated())

	freed := c.GarbageCollect()
	require.True(t, freed)

	_, ok := c.Lookup(0x2000)
	require.False(t, ok)

	require.Equal(t, 0, c.MemoryMapRefcount(pageOf(e.PhysicalAddress)))
	require.False(t, watcher.installed[pageOf(e.PhysicalAddress)])
}

func TestCacheMemoryMapRefcountingProperty(t *testing.T) {
	c := NewCache(newRecordingWatcher())

	e1 := NewCacheEntry(0x3000, 16)
	e2 := NewCacheEntry(0x4000, 16) // different page
	c.Insert(e1)
	c.Insert(e2)

	require.Equal(t, 1, c.MemoryMapRefcount(pageOf(e1.PhysicalAddress)))
	require.Equal(t, 1, c.MemoryMapRefcount(pageOf(e2.PhysicalAddress)))

	c.InvalidateAll()
	c.GarbageCollect()

	require.Equal(t, 0, c.MemoryMapRefcount(pageOf(e1.PhysicalAddress)))
	require.Equal(t, 0, c.MemoryMapRefcount(pageOf(e2.PhysicalAddress)))
}

func TestTrailingUnit(t *testing.T) {
	c := NewCache(newRecordingWatcher())
	c.Insert(NewCacheEntry(0x1000, 16))
	c.Insert(NewCacheEntry(0x2000, 16))

	va, ok := c.TrailingUnit(0x1500)
	require.True(t, ok)
	require.Equal(t, uint64(0x2000), va)

	_, ok = c.TrailingUnit(0x3000)
	require.False(t, ok)
}

func TestCacheEntryCompileOnce(t *testing.T) {
	e := NewCacheEntry(0x5000, 8)
	calls := 0
	err := e.Compile(func() (Routine, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	err = e.Compile(func() (Routine, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
