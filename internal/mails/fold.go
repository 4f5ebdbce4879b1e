// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
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
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package mails

import "bytes"

// see RFC#5322 2.1.1
const foldLength = 78

// fold formats a header field and breaks the value into multiple lines at whitespace, so that
// lines do not exceed the recommended length. The result ends with CRLF.
func fold(key, value string) []byte {
	var (
		buffer bytes.Buffer

		length = len(key) + 2
		i      = 0
	)

	// allocate a buffer with enough space for the key and value plus
	// a little extra for folding line breaks
	buffer.Grow(len(key) + len(value) + 16)

	buffer.WriteString(key)
	buffer.WriteString(": ")

	if len(value) == 0 {
		buffer.WriteString("\r\n")
	}

	for i < len(value) {
		foldPoint := findFoldPoint(value[i:], foldLength-length)

		buffer.WriteString(value[i : i+foldPoint])
		buffer.WriteString("\r\n")

		i += foldPoint
		length = 0
	}

	return buffer.Bytes()
}

// findFoldPoint returns the index of the last whitespace, that keeps the line within length.
// If there is no such whitespace, the first whitespace after length is used.
func findFoldPoint(line string, length int) int {
	const (
		space = ' '
		tab   = '\t'
	)

	if len(line) > length {
		var candidate int

		for i, b := range line {
			if i > length && candidate > 0 {
				return candidate
			}

			if b == space || b == tab {
				candidate = i
			}
		}
	}

	return len(line)
}
