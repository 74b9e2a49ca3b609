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
package fox

import "math"

// Value is a fixed-size untagged union of every scalar payload the IR and
// RTL carry: i8/i16/i32/i64, u8/u16/u32/u64, f32, f64, bool and a host
// pointer, all packed into the low bits of a uint64. Value never carries
// its own type tag - the caller supplies the Type through the operand, the
// opcode variant, or the bytecode record it came from.
type Value uint64

// U64 returns the raw 64-bit payload.
func (v Value) U64() uint64 { return uint64(v) }

// I64 reinterprets the payload as a signed 64-bit integer.
func (v Value) I64() int64 { return int64(v) }

// Truncate returns v with only the low n bits preserved, matching the
// VM's "Add is 64-bit wide internally, smaller widths take the low bits on
// store" rule for every narrow integer opcode.
func (v Value) Truncate(width int) Value {
	if width >= 64 {
		return v
	}
	mask := uint64(1)<<uint(width) - 1
	return Value(uint64(v) & mask)
}

// SignExtend sign-extends the low width bits of v to a full 64-bit value.
func (v Value) SignExtend(width int) Value {
	if width >= 64 {
		return v
	}
	shift := uint(64 - width)
	return Value(uint64(int64(uint64(v)<<shift) >> shift))
}

// AsType masks or reinterprets v to the storage width of t, following the
// integer-truncates / float-passthrough rule used throughout the VM.
func (v Value) AsType(t Type) Value {
	if t.IsFloat() {
		return v
	}
	if t == Bool {
		if uint64(v) != 0 {
			return 1
		}
		return 0
	}
	return v.Truncate(t.BitSize())
}

func ValueFromU64(u uint64) Value { return Value(u) }
func ValueFromI64(i int64) Value  { return Value(uint64(i)) }
func ValueFromBool(b bool) Value {
	if b {
		return 1
	}
	return 0
}

func ValueFromF32(f float32) Value { return Value(uint64(math.Float32bits(f))) }
func ValueFromF64(f float64) Value { return Value(math.Float64bits(f)) }

func (v Value) F32() float32 { return math.Float32frombits(uint32(v)) }
func (v Value) F64() float64 { return math.Float64frombits(uint64(v)) }
func (v Value) Bool() bool   { return uint64(v) != 0 }

// Float returns v interpreted as an IEEE-754 value of the given width,
// widened to float64 for uniform host arithmetic.
func (v Value) Float(t Type) float64 {
	if t == F32 {
		return float64(v.F32())
	}
	return v.F64()
}

// ValueFromFloat packs a float64 result back down to the storage width t
// expects.
func ValueFromFloat(f float64, t Type) Value {
	if t == F32 {
		return ValueFromF32(float32(f))
	}
	return ValueFromF64(f)
}

// Signed returns v interpreted as a two's-complement signed integer of the
// given bit width, widened to int64.
func (v Value) Signed(width int) int64 {
	return v.Truncate(width).SignExtend(width).I64()
}

// Unsigned returns v masked to the given bit width.
func (v Value) Unsigned(width int) uint64 {
	return v.Truncate(width).U64()
}
