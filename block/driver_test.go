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
package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/fox"
	"foxjit/ir"
)

// fakeGuest is a minimal fox.Guest a bytecode-VM-fallback test can hand to
// an ir.Call target without implementing real guest-register/memory state.
type fakeGuest struct{}

func (fakeGuest) RegisterRead(index uint32, bytes int) fox.Value  { return fox.ValueFromU64(0) }
func (fakeGuest) RegisterWrite(index uint32, bytes int, v fox.Value) {}
func (fakeGuest) Load(address uint64, bytes int) fox.Value        { return fox.ValueFromU64(0) }
func (fakeGuest) Store(address uint64, bytes int, v fox.Value)    {}

// constantExitBuild returns a Build that always compiles to a block
// returning va unconditionally, useful whenever a test just needs a
// distinct, cheaply-compiled native routine per virtual address.
func constantExitBuild(calls *int) Build {
	return func(va uint64) (*ir.ExecutionUnit, uint64) {
		if calls != nil {
			*calls++
		}
		a := ir.NewAssembler()
		v := a.Const(fox.I64, fox.ValueFromU64(va))
		a.Exit(a.Const(fox.Bool, fox.ValueFromU64(1)), v)
		return a.ExportUnit(), 4
	}
}

func TestStepCompilesNativeAndExecutes(t *testing.T) {
	d, err := NewDriver(nil, 0, false)
	require.NoError(t, err)

	got := d.Step(nil, 0x1000, constantExitBuild(nil), nil, nil)
	require.Equal(t, uint64(0x1000), got)
}

func TestStepReusesCachedEntryWithoutRebuilding(t *testing.T) {
	d, err := NewDriver(nil, 0, false)
	require.NoError(t, err)

	var calls int
	build := constantExitBuild(&calls)

	require.Equal(t, uint64(0x2000), d.Step(nil, 0x2000, build, nil, nil))
	require.Equal(t, uint64(0x2000), d.Step(nil, 0x2000, build, nil, nil))
	require.Equal(t, 1, calls, "a cache hit must not call Build again")
}

// TestStepRebuildsAfterMemoryDirtied confirms a guest wiring MemoryDirtied
// (exposed via Cache()) into its store path gets a fresh Build call the
// next time the invalidated address is stepped.
func TestStepRebuildsAfterMemoryDirtied(t *testing.T) {
	d, err := NewDriver(nil, 0, false)
	require.NoError(t, err)

	var calls int
	build := constantExitBuild(&calls)

	require.Equal(t, uint64(0x6000), d.Step(nil, 0x6000, build, nil, nil))
	require.Equal(t, 1, calls)

	d.Cache().MemoryDirtied(0x6000, 4)

	require.Equal(t, uint64(0x6000), d.Step(nil, 0x6000, build, nil, nil))
	require.Equal(t, 2, calls, "an invalidated address must be rebuilt on next Step")
}

// TestStepFallsBackToBytecodeOnCall exercises the exact scope cut
// codegen.Lower documents: a unit touching ir.Call has no native encoding,
// so compileFunc must fall back to the bytecode VM and still produce the
// right answer.
func TestStepFallsBackToBytecodeOnCall(t *testing.T) {
	d, err := NewDriver(nil, 0, false)
	require.NoError(t, err)

	double := func(guest fox.Guest, args ...fox.Value) fox.Value {
		return fox.ValueFromU64(args[0].U64() * 2)
	}
	build := func(va uint64) (*ir.ExecutionUnit, uint64) {
		a := ir.NewAssembler()
		r := a.Call("double", double, fox.I64, a.Const(fox.I64, fox.ValueFromU64(21)))
		a.Exit(a.Const(fox.Bool, fox.ValueFromU64(1)), r)
		return a.ExportUnit(), 8
	}

	got := d.Step(fakeGuest{}, 0x3000, build, nil, nil)
	require.Equal(t, uint64(42), got)
}

// TestStepChainsNextBlockHint confirms a block that falls through to its
// successor records that successor as a next-block hint, the
// trailing-unit chaining behavior original_source's cache supports.
func TestStepChainsNextBlockHint(t *testing.T) {
	d, err := NewDriver(nil, 0, false)
	require.NoError(t, err)

	build := constantExitBuild(nil)
	d.Step(nil, 0x4000, build, nil, nil)
	d.Step(nil, 0x4004, build, nil, nil)

	entry, ok := d.cache.Lookup(0x4000)
	require.True(t, ok)
	hint, ok := entry.NextBlockHint()
	require.True(t, ok)
	require.Equal(t, uint64(0x4004), hint)
}

// TestStepRotatesStorageWhenSlabFills drives enough distinct blocks through
// one Driver to force at least one RoutineStorage exhaustion (every slab is
// rounded up to a 4096-byte page, and Step's forced Prepare moves the
// allocated mark to the end of the page a routine lands on, so each trivial
// block fills its slab), and checks every block still executes correctly
// across the rotation.
func TestStepRotatesStorageWhenSlabFills(t *testing.T) {
	d, err := NewDriver(nil, 4096, false)
	require.NoError(t, err)

	build := constantExitBuild(nil)
	for i := 0; i < 256; i++ {
		va := uint64(0x10000 + i*16)
		got := d.Step(nil, va, build, nil, nil)
		require.Equal(t, va, got, "block at %#x", va)
	}
}

// TestStepOptimizesWhenRequested checks the optimize flag actually reaches
// ir.Optimize: a redundant add-of-zero should constant-fold away before
// compilation without changing the observable exit value.
func TestStepOptimizesWhenRequested(t *testing.T) {
	d, err := NewDriver(nil, 0, true)
	require.NoError(t, err)

	build := func(va uint64) (*ir.ExecutionUnit, uint64) {
		a := ir.NewAssembler()
		x := a.Const(fox.I64, fox.ValueFromU64(7))
		y := a.Add(x, a.Const(fox.I64, fox.ValueFromU64(0)))
		a.Exit(a.Const(fox.Bool, fox.ValueFromU64(1)), y)
		return a.ExportUnit(), 4
	}

	got := d.Step(nil, 0x5000, build, nil, nil)
	require.Equal(t, uint64(7), got)
}
