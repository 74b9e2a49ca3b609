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
	"fmt"

	"foxjit/fox"
)

type operandKind uint8

const (
	operandRegister operandKind = iota
	operandImmediate
)

// Operand is a value-producing IR reference: either an SSA register
// reference {index, type} or an immediate of type T carrying a fox.Value.
type Operand struct {
	kind  operandKind
	typ   fox.Type
	index uint32
	value fox.Value
}

// Reg builds a register operand referencing the SSA result at index with
// the given type.
func Reg(index uint32, t fox.Type) Operand {
	return Operand{kind: operandRegister, typ: t, index: index}
}

// Imm builds an immediate operand of type t carrying value v.
func Imm(t fox.Type, v fox.Value) Operand {
	return Operand{kind: operandImmediate, typ: t, value: v}
}

func (o Operand) IsRegister() bool  { return o.kind == operandRegister }
func (o Operand) IsImmediate() bool { return o.kind == operandImmediate }
func (o Operand) Type() fox.Type    { return o.typ }
func (o Operand) Index() uint32     { return o.index }
func (o Operand) Value() fox.Value  { return o.value }

// Equal compares by (kind, index) for registers and (type, bits) for
// constants, per the data model's equality rule.
func (o Operand) Equal(other Operand) bool {
	if o.kind != other.kind || o.typ != other.typ {
		return false
	}
	if o.kind == operandRegister {
		return o.index == other.index
	}
	return o.value == other.value
}

func (o Operand) String() string {
	if o.kind == operandRegister {
		return fmt.Sprintf("r%d", o.index)
	}
	return fmt.Sprintf("%v<%s>", o.value.U64(), o.typ)
}
