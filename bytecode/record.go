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
package bytecode

import (
	"encoding/binary"

	"foxjit/fox"
	"foxjit/utils"
)

// Record is one decoded bytecode instruction. Byte 0 of its wire form is
// the Opcode, byte 1 is the ResultType, byte 2 is SrcType - carried
// separately because conversion opcodes (Extend*, Bitcast, CastF2I,
// CastI2F, ResizeF) read a source of one type and produce a result of
// another, and ir.Eval needs both to reproduce Calculator semantics
// exactly. Immediate loads, host calls and branches set SrcType equal to
// ResultType; every other opcode takes SrcType from its first source's
// type, or from the written value's type for WriteGR and Store.
// The remaining bytes follow the opcode's fixed shape: Dst slot (if
// shape.hasDst), then shape.numSrc source slots, then shape.immBytes
// little-endian immediate bytes.
type Record struct {
	Op       Opcode
	Type     fox.Type // ResultType
	SrcType  fox.Type
	Dst      byte
	Src      [3]byte
	Imm      uint64
	Len      int // total wire length in bytes, including the header.
}

// headerLen is the fixed [opcode][resultType][srcType] prefix every
// record carries.
const headerLen = 3

func encodedLen(op Opcode) int {
	s := shapes[op]
	n := headerLen + s.numSrc
	if s.hasDst {
		n++
	}
	return n + s.immBytes
}

// Encode appends r's wire form to buf and returns the extended slice.
func Encode(buf []byte, r Record) []byte {
	s := shapes[r.Op]
	buf = append(buf, byte(r.Op), byte(r.Type), byte(r.SrcType))
	if s.hasDst {
		buf = append(buf, r.Dst)
	}
	buf = append(buf, r.Src[:s.numSrc]...)
	if s.immBytes > 0 {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], r.Imm)
		buf = append(buf, tmp[:s.immBytes]...)
	}
	return buf
}

// Decode reads one record starting at pos and returns it along with the
// byte offset of the next record (pos + the returned Len). Both the VM's
// fetch-decode-execute loop and the Disassembler share this function,
// which is what guarantees Testable Property 7 (round-trip disassembly
// agrees with execution).
func Decode(program []byte, pos int) Record {
	op := Opcode(program[pos])
	s := shapes[op]
	r := Record{Op: op, Type: fox.Type(program[pos+1]), SrcType: fox.Type(program[pos+2])}
	cursor := pos + headerLen
	if s.hasDst {
		r.Dst = program[cursor]
		cursor++
	}
	for i := 0; i < s.numSrc; i++ {
		r.Src[i] = program[cursor]
		cursor++
	}
	if s.immBytes > 0 {
		var tmp [8]byte
		copy(tmp[:], program[cursor:cursor+s.immBytes])
		r.Imm = binary.LittleEndian.Uint64(tmp[:])
		cursor += s.immBytes
	}
	r.Len = cursor - pos
	utils.Assert(r.Len == encodedLen(op), "bytecode: decoded length mismatch for %s", op)
	return r
}
