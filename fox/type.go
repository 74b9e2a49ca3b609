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

// Package fox holds the primitives shared by every layer of the recompiler:
// the untagged scalar Value, the closed Type enum, and the Guest contract
// that compiled code calls back into.
package fox

import "foxjit/utils"

// Type is the closed enum of scalar types the IR and RTL ever operate on.
type Type uint8

const (
	I8 Type = iota
	I16
	I32
	I64
	F32
	F64
	Bool
	BranchLabel
	HostAddress
)

func (t Type) String() string {
	switch t {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Bool:
		return "bool"
	case BranchLabel:
		return "label"
	case HostAddress:
		return "hostaddr"
	default:
		utils.ShouldNotReachHere()
		return ""
	}
}

// IsInteger reports whether t is one of the fixed-width integer types.
func (t Type) IsInteger() bool {
	switch t {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// IsFloat reports whether t is one of the IEEE-754 float types.
func (t Type) IsFloat() bool {
	return t == F32 || t == F64
}

// IsNumeric reports whether t supports arithmetic (integer or float).
func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// ByteSize returns the storage width of t in bytes.
func (t Type) ByteSize() int {
	switch t {
	case I8, Bool:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case I64, F64, BranchLabel, HostAddress:
		return 8
	default:
		utils.ShouldNotReachHere()
		return 0
	}
}

// BitSize returns the storage width of t in bits.
func (t Type) BitSize() int {
	return t.ByteSize() * 8
}
