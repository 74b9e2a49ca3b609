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
	"testing"

	"github.com/stretchr/testify/require"

	"foxjit/fox"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		{Op: Nop, Type: fox.I8, SrcType: fox.I8},
		{Op: Add, Type: fox.I32, SrcType: fox.I32, Dst: 1, Src: [3]byte{2, 3}},
		{Op: LoadImm64, Type: fox.I64, SrcType: fox.I64, Dst: 5, Imm: 0xdeadbeefcafebabe},
		{Op: Select, Type: fox.I64, SrcType: fox.Bool, Dst: 0, Src: [3]byte{1, 2, 3}},
		{Op: IfBr, Type: fox.I64, SrcType: fox.I64, Src: [3]byte{4}, Imm: 0x1234},
		{Op: HostCall2, Type: fox.I64, SrcType: fox.I64, Dst: 9, Src: [3]byte{1, 2}, Imm: 3},
	}

	for _, want := range cases {
		buf := Encode(nil, want)
		got := Decode(buf, 0)
		require.Equal(t, want.Op, got.Op)
		require.Equal(t, want.Type, got.Type)
		require.Equal(t, want.SrcType, got.SrcType)
		require.Equal(t, want.Dst, got.Dst)
		s := shapes[want.Op]
		require.Equal(t, want.Src[:s.numSrc], got.Src[:s.numSrc])
		require.Equal(t, want.Imm&immMask(s.immBytes), got.Imm)
		require.Equal(t, len(buf), got.Len)
	}
}

func immMask(bytes int) uint64 {
	if bytes >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(bytes) * 8)) - 1
}

func TestConsecutiveRecordsDecodeWithoutGapsOrOverlap(t *testing.T) {
	var buf []byte
	buf = Encode(buf, Record{Op: LoadImm32, Type: fox.I32, SrcType: fox.I32, Dst: 0, Imm: 7})
	buf = Encode(buf, Record{Op: Add, Type: fox.I32, SrcType: fox.I32, Dst: 1, Src: [3]byte{0, 0}})
	buf = Encode(buf, Record{Op: Exit, Type: fox.I64, SrcType: fox.I64, Src: [3]byte{2, 1}})

	pos := 0
	var ops []Opcode
	for pos < len(buf) {
		r := Decode(buf, pos)
		ops = append(ops, r.Op)
		pos += r.Len
	}
	require.Equal(t, pos, len(buf))
	require.Equal(t, []Opcode{LoadImm32, Add, Exit}, ops)
}
