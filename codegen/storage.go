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

// Package codegen owns the executable memory native routines are written
// into: a page-aligned, bump-allocated slab (RoutineStorage) and the
// shared Routine base both architecture emitters build on.
package codegen

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"foxjit/utils"
)

const pageSize = 4096

// ErrRemapPastMark is ExecutableRemap's refusal when the page-rounded
// target lands past the allocated mark and force was not given. It is an ordinary, expected
// outcome - not a programmer error - since a caller may speculatively remap
// up to a mark it hasn't confirmed yet.
var ErrRemapPastMark = errors.New("codegen: ExecutableRemap target exceeds allocated mark")

// RoutineStorage is one mmap'd slab of RW memory that native code is
// written into and then bulk-remapped to RX. Writes only ever happen
// below the allocated mark; the executable mark only ever moves forward
// (ExecutableRemap), so a routine that has already been made executable
// is never subject to a W^X race from a later writer.
type RoutineStorage struct {
	mu   sync.Mutex
	mem  []byte
	used int // bytes bump-allocated so far (RW region).
	exec int // bytes already remapped executable (RX region, exec <= used).
	refs int32
}

// NewRoutineStorage mmaps a slab of at least size bytes, rounded up to a
// whole number of pages, as PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANON.
func NewRoutineStorage(size int) (*RoutineStorage, error) {
	size = utils.AlignUp(size, pageSize)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &RoutineStorage{mem: mem}, nil
}

// Alloc bump-allocates n bytes at 32-byte alignment and returns the slice
// to write machine code into, plus the offset it lives at. It fails if
// the slab has no room left.
func (s *RoutineStorage) Alloc(n int) (code []byte, offset int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aligned := utils.AlignUp(s.used, 32)
	if aligned+n > len(s.mem) {
		return nil, 0, false
	}
	s.used = aligned + n
	return s.mem[aligned : aligned+n], aligned, true
}

// ExecutableRemap advances the executable high-water mark to cover target
// (an offset previously returned by Alloc plus its length), rounded up to
// a whole page. Without force, it returns ErrRemapPastMark and changes
// nothing when that page-rounded end lies past the allocated mark; with
// force, it also advances the allocated mark to the page-rounded end, so
// later Alloc calls land above the executable prefix. A target already
// covered is a no-op. The executable mark never moves backward -
// RoutineStorage never revokes exec permission once granted, since a
// CacheEntry already handed out a pointer into that region may still be
// executing.
func (s *RoutineStorage) ExecutableRemap(target int, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target <= s.exec {
		return nil
	}
	end := utils.AlignUp(target, pageSize)
	if end > len(s.mem) {
		end = len(s.mem)
	}
	if end > s.used && !force {
		return ErrRemapPastMark
	}
	if err := unix.Mprotect(s.mem[:end], unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return err
	}
	s.exec = end
	if s.used < end {
		s.used = end
	}
	return nil
}

// Base returns the slab's whole mapped memory as a byte slice, for a
// Routine to compute its entry point address from.
func (s *RoutineStorage) Base() []byte { return s.mem }

// Retain/Release count the holders of this slab (the driver allocating
// into it and every Routine compiled into it), since one RoutineStorage
// slab backs many routines and must outlive every routine pointing into
// it. Unlike jit.CacheEntry, a fresh slab starts at a count of zero.
func (s *RoutineStorage) Retain() { s.mu.Lock(); s.refs++; s.mu.Unlock() }

func (s *RoutineStorage) Release() (shouldFree bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	return s.refs <= 0
}

// Close unmaps the slab. Callers must ensure no routine is still
// executing out of it.
func (s *RoutineStorage) Close() error {
	return unix.Munmap(s.mem)
}
