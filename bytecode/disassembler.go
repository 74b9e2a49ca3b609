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
	"fmt"
	"strings"
)

// Disassemble renders prog's code one record per line, byte-offset
// labelled, using the same Decode function the VM's fetch loop runs -
// Testable Property 7 (round-trip disassembly) holds by construction,
// since there is only one decoder in the package.
func Disassemble(prog *Program) string {
	var b strings.Builder
	pos := 0
	for pos < len(prog.Code) {
		r := Decode(prog.Code, pos)
		fmt.Fprintf(&b, "[%04x] %s", pos, r.Op)
		if shapes[r.Op].hasDst {
			fmt.Fprintf(&b, " s%d<%s> :=", r.Dst, r.Type)
		}
		for i := 0; i < shapes[r.Op].numSrc; i++ {
			fmt.Fprintf(&b, " s%d", r.Src[i])
		}
		switch r.Op {
		case Br, IfBr:
			fmt.Fprintf(&b, " ->[%04x]", r.Imm)
		case LoadImm8, LoadImm16, LoadImm32, LoadImm64, LoadImmF32, LoadImmF64:
			fmt.Fprintf(&b, " #%d", r.Imm)
		case HostCall0, HostCall1, HostCall2:
			fmt.Fprintf(&b, " %s", prog.HostNames[r.Imm])
		}
		b.WriteByte('\n')
		pos += r.Len
	}
	return b.String()
}
