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

package textproto

import (
	"bufio"
	"errors"
	"io"
)

const maxLineLength = 1 << 20

// ErrLineTooLong is returned for lines longer than the maximum line length. The line is skipped
// completely, so reading can continue with the next line.
var ErrLineTooLong = errors.New("textproto: line too long")

// Reader is an interface for line based reading.
type Reader interface {
	// ReadLine reads the next line. The returned slice is only valid until the next read.
	ReadLine() ([]byte, error)

	// DotReader returns an io.Reader, which decodes a dot-encoded sequence of lines until the
	// terminating line containing a single dot.
	DotReader() io.Reader
}

type reader struct {
	buffer *bufio.Reader
	line   []byte
}

func newReader(r io.Reader) *reader {
	return &reader{
		buffer: bufio.NewReaderSize(r, 4096),
	}
}

func (r *reader) ReadLine() ([]byte, error) {
	r.line = r.line[:0]
	tooLong := false

	for {
		chunk, err := r.buffer.ReadSlice('\n')

		if !tooLong {
			if len(r.line)+len(chunk) > maxLineLength {
				tooLong = true
				r.line = r.line[:0]
			} else {
				r.line = append(r.line, chunk...)
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}

		if err != nil {
			// a last line without line ending is still a line
			if err == io.EOF && len(r.line) > 0 && !tooLong {
				break
			}

			return nil, err
		}

		break
	}

	if tooLong {
		return nil, ErrLineTooLong
	}

	return dropEOL(r.line), nil
}

func dropEOL(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}

	return line
}

func (r *reader) DotReader() io.Reader {
	return &dotReader{r: r}
}
