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

// Command foxjit is the demo CLI for the dynamic recompiler: it drives a
// small scripted guest program through the basic block driver, prints the
// IR/bytecode a block lowers to, and compares native against interpreted
// throughput.
package main

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"foxjit/block"
	"foxjit/bytecode"
	"foxjit/codegen"
	"foxjit/codegen/amd64"
	"foxjit/fox"
	"foxjit/ir"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "foxjit",
		Short: "FoxJIT demo CLI: run, disassemble, and benchmark a scripted guest program",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newDisasmCmd(), newBenchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var count int64
	var optimize bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "drive the scripted summation program through the basic block driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			guest := newFlatGuest(64 * 1024)
			driver, err := block.NewDriver(guest, block.DefaultSlabSize, optimize)
			if err != nil {
				return fmt.Errorf("build block driver: %w", err)
			}
			guest.dirty = driver.Cache().MemoryDirtied

			guest.RegisterWrite(regCounter, 8, fox.ValueFromU64(uint64(count)))
			guest.RegisterWrite(regAccum, 8, fox.ValueFromU64(0))
			guest.RegisterWrite(regPC, 8, fox.ValueFromU64(vaLoop))

			var steps int
			for {
				pc := guest.RegisterRead(regPC, 8).U64()
				if pc == pcHalt {
					break
				}
				exit := driver.Step(guest, pc, demoBuild, nil, unsafe.Pointer(&guest.regs[0]))
				steps++
				logrus.WithFields(logrus.Fields{"pc": pc, "exit": exit}).Debug("step")
			}

			fmt.Printf("halted after %d steps; final accumulator = %d\n",
				steps, guest.RegisterRead(regAccum, 8).U64())
			return nil
		},
	}
	cmd.Flags().Int64Var(&count, "count", 10, "starting value of the summation counter")
	cmd.Flags().BoolVar(&optimize, "optimize", true, "run constant-fold/DCE over each block before compiling it")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm",
		Short: "print the IR, bytecode, and native-compile outcome for every demo block",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, va := range []uint64{vaLoop, vaHostCall} {
				unit, _ := demoBuild(va)
				unit = ir.Optimize(unit)

				fmt.Printf("=== block %#x: IR ===\n%s\n", va, unit.Disassemble())

				prog := bytecode.NewCompiler().Compile(unit)
				fmt.Printf("=== block %#x: bytecode ===\n%s\n", va, bytecode.Disassemble(prog))

				storage, err := codegen.NewRoutineStorage(block.DefaultSlabSize)
				if err != nil {
					return fmt.Errorf("allocate scratch storage: %w", err)
				}
				if _, err := amd64.Compile(unit, storage); err != nil {
					fmt.Printf("=== block %#x: native compile declined: %v ===\n\n", va, err)
				} else {
					fmt.Printf("=== block %#x: native compile succeeded ===\n\n", va)
				}
				_ = storage.Close()
			}
			return nil
		},
	}
}

func newBenchCmd() *cobra.Command {
	var iterations int64

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "compare native and bytecode-VM throughput on the summation block",
		RunE: func(cmd *cobra.Command, args []string) error {
			nativeElapsed, nativeResult := benchNative(iterations)
			bytecodeElapsed, bytecodeResult := benchBytecode(iterations)

			fmt.Printf("native:   %v (result=%d)\n", nativeElapsed, nativeResult)
			fmt.Printf("bytecode: %v (result=%d)\n", bytecodeElapsed, bytecodeResult)
			if nativeElapsed > 0 {
				fmt.Printf("speedup:  %.1fx\n", float64(bytecodeElapsed)/float64(nativeElapsed))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&iterations, "iterations", 1_000_000, "starting counter value for the summation loop")
	return cmd
}

// benchNative drives the summation loop through block.Driver so every
// Step after the first hits the already-compiled native routine.
func benchNative(iterations int64) (time.Duration, uint64) {
	guest := newFlatGuest(4096)
	driver, err := block.NewDriver(guest, block.DefaultSlabSize, true)
	if err != nil {
		logrus.WithError(err).Fatal("bench: build driver")
	}
	guest.RegisterWrite(regCounter, 8, fox.ValueFromU64(uint64(iterations)))

	start := time.Now()
	for {
		exit := driver.Step(guest, vaLoop, buildLoop, nil, unsafe.Pointer(&guest.regs[0]))
		if guest.RegisterRead(regCounter, 8).U64() == 0 {
			return time.Since(start), exit
		}
	}
}

// benchBytecode compiles the same block once and drives it through the
// interpreter loop directly, bypassing the driver and native backend
// entirely, so the comparison isolates dispatch overhead.
func benchBytecode(iterations int64) (time.Duration, uint64) {
	guest := newFlatGuest(4096)
	guest.RegisterWrite(regCounter, 8, fox.ValueFromU64(uint64(iterations)))

	unit, _ := buildLoop(vaLoop)
	unit = ir.Optimize(unit)
	prog := bytecode.NewCompiler().Compile(unit)
	vm := bytecode.NewVM(guest)

	start := time.Now()
	var exit uint64
	for {
		exit = vm.Run(prog)
		if guest.RegisterRead(regCounter, 8).U64() == 0 {
			return time.Since(start), exit
		}
	}
}
