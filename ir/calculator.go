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
package ir

import (
	"math"

	"foxjit/fox"
)

// Calculator is the pure host-side evaluator shared by the constant-fold
// pass and the bytecode VM, so the two can never disagree about integer
// overflow, shift masking, or float rounding. Eval returns ok=false for
// opcodes that have no constant-evaluable form (memory/control ops) or that
// are intentionally unsupported (float mod).
func Eval(op Opcode, resultType fox.Type, srcTypes []fox.Type, src []fox.Value) (fox.Value, bool) {
	switch op {
	case And:
		return src[0].AsType(resultType) & src[1].AsType(resultType), true
	case Or:
		return src[0].AsType(resultType) | src[1].AsType(resultType), true
	case Xor:
		return src[0].AsType(resultType) ^ src[1].AsType(resultType), true
	case Not:
		return (^src[0]).AsType(resultType), true

	case ShiftL:
		width := srcTypes[0].BitSize()
		amount := uint(src[1].U64()) & uint(width-1)
		return (src[0] << amount).AsType(resultType), true
	case ShiftR:
		width := srcTypes[0].BitSize()
		amount := uint(src[1].U64()) & uint(width-1)
		return fox.ValueFromU64(src[0].Unsigned(width) >> amount).AsType(resultType), true
	case AShiftR:
		width := srcTypes[0].BitSize()
		amount := uint(src[1].U64()) & uint(width-1)
		signed := src[0].Signed(width)
		return fox.ValueFromI64(signed >> amount).AsType(resultType), true
	case RotL:
		width := uint(srcTypes[0].BitSize())
		amount := uint(src[1].U64()) & (width - 1)
		v := src[0].Unsigned(int(width))
		rotated := (v << amount) | (v >> (width - amount))
		return fox.ValueFromU64(rotated).Truncate(int(width)).AsType(resultType), true
	case RotR:
		width := uint(srcTypes[0].BitSize())
		amount := uint(src[1].U64()) & (width - 1)
		v := src[0].Unsigned(int(width))
		rotated := (v >> amount) | (v << (width - amount))
		return fox.ValueFromU64(rotated).Truncate(int(width)).AsType(resultType), true
	case Bsc:
		v := src[0].Unsigned(32)
		if v == 0 {
			return fox.ValueFromI64(32), true
		}
		idx := 0
		for v&1 == 0 {
			v >>= 1
			idx++
		}
		return fox.ValueFromI64(int64(idx)), true

	case Add:
		if resultType.IsFloat() {
			return fox.ValueFromFloat(src[0].Float(resultType)+src[1].Float(resultType), resultType), true
		}
		return (src[0] + src[1]).AsType(resultType), true
	case Sub:
		if resultType.IsFloat() {
			return fox.ValueFromFloat(src[0].Float(resultType)-src[1].Float(resultType), resultType), true
		}
		return (src[0] - src[1]).AsType(resultType), true
	case Mul:
		if resultType.IsFloat() {
			return fox.ValueFromFloat(src[0].Float(resultType)*src[1].Float(resultType), resultType), true
		}
		width := resultType.BitSize()
		a, b := src[0].Signed(width), src[1].Signed(width)
		return fox.ValueFromI64(a * b).AsType(resultType), true
	case UMul:
		width := resultType.BitSize()
		a, b := src[0].Unsigned(width), src[1].Unsigned(width)
		return fox.ValueFromU64(a * b).AsType(resultType), true
	case Div:
		if resultType.IsFloat() {
			return fox.ValueFromFloat(src[0].Float(resultType)/src[1].Float(resultType), resultType), true
		}
		width := resultType.BitSize()
		a, b := src[0].Signed(width), src[1].Signed(width)
		if b == 0 {
			// Host-defined: division by zero does not panic the process.
			return fox.ValueFromI64(0), true
		}
		if a == math.MinInt64 && b == -1 {
			return fox.ValueFromI64(a), true
		}
		return fox.ValueFromI64(a / b).AsType(resultType), true
	case UDiv:
		width := resultType.BitSize()
		a, b := src[0].Unsigned(width), src[1].Unsigned(width)
		if b == 0 {
			return fox.ValueFromU64(0), true
		}
		return fox.ValueFromU64(a / b).AsType(resultType), true
	case Mod:
		if resultType.IsFloat() {
			// Open question: float modulus is explicitly unsupported.
			return 0, false
		}
		width := resultType.BitSize()
		a, b := src[0].Signed(width), src[1].Signed(width)
		if b == 0 {
			return fox.ValueFromI64(a), true
		}
		if a == math.MinInt64 && b == -1 {
			return fox.ValueFromI64(0), true
		}
		return fox.ValueFromI64(a % b).AsType(resultType), true
	case Sqrt:
		return fox.ValueFromFloat(math.Sqrt(src[0].Float(resultType)), resultType), true

	case Extend16, Extend32, Extend64:
		width := srcTypes[0].BitSize()
		return src[0].SignExtend(width).AsType(resultType), true
	case Bitcast:
		return src[0].AsType(resultType), true
	case CastF2I:
		f := src[0].Float(srcTypes[0])
		return fox.ValueFromI64(int64(f)).AsType(resultType), true
	case CastI2F:
		width := srcTypes[0].BitSize()
		return fox.ValueFromFloat(float64(src[0].Signed(width)), resultType), true
	case ResizeF:
		return fox.ValueFromFloat(src[0].Float(srcTypes[0]), resultType), true

	case Test:
		return fox.ValueFromBool(src[0].U64() != 0), true
	case Eq:
		if srcTypes[0].IsFloat() {
			return fox.ValueFromBool(src[0].Float(srcTypes[0]) == src[1].Float(srcTypes[0])), true
		}
		return fox.ValueFromBool(src[0] == src[1]), true
	case Lt:
		if srcTypes[0].IsFloat() {
			return fox.ValueFromBool(src[0].Float(srcTypes[0]) < src[1].Float(srcTypes[0])), true
		}
		width := srcTypes[0].BitSize()
		return fox.ValueFromBool(src[0].Signed(width) < src[1].Signed(width)), true
	case Lte:
		if srcTypes[0].IsFloat() {
			return fox.ValueFromBool(src[0].Float(srcTypes[0]) <= src[1].Float(srcTypes[0])), true
		}
		width := srcTypes[0].BitSize()
		return fox.ValueFromBool(src[0].Signed(width) <= src[1].Signed(width)), true
	case ULt:
		width := srcTypes[0].BitSize()
		return fox.ValueFromBool(src[0].Unsigned(width) < src[1].Unsigned(width)), true
	case ULte:
		width := srcTypes[0].BitSize()
		return fox.ValueFromBool(src[0].Unsigned(width) <= src[1].Unsigned(width)), true

	case Select:
		if src[0].Bool() {
			return src[2].AsType(resultType), true
		}
		return src[1].AsType(resultType), true

	default:
		// Memory/control ops (readgr, writegr, load, store, br, ifbr,
		// exit, call, nop) have no constant-evaluable form.
		return 0, false
	}
}
