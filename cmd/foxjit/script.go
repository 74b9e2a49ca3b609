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
	"fmt"
	"math"

	"foxjit/block"
	"foxjit/fox"
	"foxjit/ir"
)

// Guest register conventions for the scripted demo. There is no real
// instruction decoder here - every Build closure below stands in for the
// translation a real guest front-end would perform from machine code at
// va - so the registers a block reads and writes are a CLI-only
// convention, not part of the FoxJIT ABI itself.
const (
	regCounter = 0 // counts down to zero, driving the loop block's exit.
	regAccum   = 1 // running total the loop accumulates into.
	regPC      = 2 // "program counter": the va the dispatch loop steps next.
)

// Demo block addresses. vaLoop is a self-looping summation block (native
// codegen handles it end to end); vaHostCall exercises the one scope cut
// codegen/amd64 documents - a unit containing ir.Call never gets a native
// encoding, so the driver silently falls back to the bytecode VM.
const (
	vaLoop     = 0x1000
	vaHostCall = 0x2000
)

// pcHalt is the sentinel regPC value that tells the run command's
// dispatch loop (main.go) no further block is scheduled.
const pcHalt = math.MaxUint64

// buildLoop assembles a block that is the native-compilable half of the
// demo program: while regCounter is positive, add it into regAccum,
// decrement it, and re-enter this same block; once it reaches zero, hand
// off to vaHostCall. It has a bool compare, two arithmetic ops, and an
// intra-unit branch - well within the amd64 emitter's supported opcode
// set - so the cache entry here always ends up natively compiled.
func buildLoop(va uint64) (*ir.ExecutionUnit, uint64) {
	a := ir.NewAssembler()

	counterIdx := a.Const(fox.I32, fox.ValueFromU64(regCounter))
	accumIdx := a.Const(fox.I32, fox.ValueFromU64(regAccum))
	pcIdx := a.Const(fox.I32, fox.ValueFromU64(regPC))
	yes := a.Const(fox.Bool, fox.ValueFromU64(1))

	counter := a.ReadGR(fox.I64, counterIdx)
	accum := a.ReadGR(fox.I64, accumIdx)

	done := a.NewLabel()
	a.IfBr(a.Lte(counter, a.Const(fox.I64, fox.ValueFromU64(0))), done)

	newAccum := a.Add(accum, counter)
	newCounter := a.Sub(counter, a.Const(fox.I64, fox.ValueFromU64(1)))
	a.WriteGR(accumIdx, newAccum)
	a.WriteGR(counterIdx, newCounter)
	a.WriteGR(pcIdx, a.Const(fox.I64, fox.ValueFromU64(vaLoop)))
	a.Exit(yes, newCounter)

	a.BindLabel(done)
	a.WriteGR(pcIdx, a.Const(fox.I64, fox.ValueFromU64(vaHostCall)))
	a.Exit(yes, accum)

	return a.ExportUnit(), 4
}

// announceTotal is the host function vaHostCall invokes. FoxJIT never
// inspects a call target's body; this one just formats the running total
// for the CLI to print, demonstrating the same guest-observable side
// effect a real host call (e.g. a syscall trap) would have.
func announceTotal(guest fox.Guest, args ...fox.Value) fox.Value {
	total := args[0].U64()
	fmt.Printf("host call reached: sum = %d\n", total)
	return fox.ValueFromU64(total * 2)
}

// buildHostCall assembles the block vaLoop hands off to once the
// summation finishes: it calls announceTotal with the final accumulator,
// writes the doubled result back to regAccum, and sets regPC to pcHalt so
// the dispatch loop stops. Because the unit contains ir.Call,
// codegen/amd64.Compile declines it and block.Driver's compileFunc falls
// back to the bytecode VM.
func buildHostCall(va uint64) (*ir.ExecutionUnit, uint64) {
	a := ir.NewAssembler()

	accumIdx := a.Const(fox.I32, fox.ValueFromU64(regAccum))
	pcIdx := a.Const(fox.I32, fox.ValueFromU64(regPC))
	yes := a.Const(fox.Bool, fox.ValueFromU64(1))

	accum := a.ReadGR(fox.I64, accumIdx)
	doubled := a.Call("announce_total", announceTotal, fox.I64, accum)
	a.WriteGR(accumIdx, doubled)
	a.WriteGR(pcIdx, a.Const(fox.I64, fox.ValueFromU64(pcHalt)))
	a.Exit(yes, doubled)

	return a.ExportUnit(), 4
}

// demoBuild dispatches to the right Build for a given demo block address;
// it is the single block.Build the CLI hands to block.Driver.Step.
func demoBuild(va uint64) (*ir.ExecutionUnit, uint64) {
	switch va {
	case vaHostCall:
		return buildHostCall(va)
	default:
		return buildLoop(va)
	}
}

var _ block.Build = demoBuild
