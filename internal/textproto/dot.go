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
	"io"
)

const (
	sStart int = iota
	sCr
	sText
	sEOF
)

// dotReader decodes a dot-encoded block as described in RFC#5321 4.5.2. Exactly one leading
// dot is removed from lines starting with "..". Line endings are normalized to <CR> <LF>.
type dotReader struct {
	r     *reader
	state int

	line []byte
	i    int
}

func (d *dotReader) readByte() (byte, error) {
	switch d.state {
	case sStart:
		line, err := d.r.ReadLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}

			return 0, err
		}

		if len(line) == 1 && line[0] == '.' {
			d.state = sEOF
			return 0, io.EOF
		}

		d.line = line
		d.i = 0
		d.state = sText

		if len(line) > 1 && line[0] == '.' && line[1] == '.' {
			d.i++
		}

		fallthrough
	case sText:
		if d.i < len(d.line) {
			b := d.line[d.i]
			d.i++
			return b, nil
		}

		d.state = sCr
		return '\r', nil
	case sCr:
		d.state = sStart
		return '\n', nil
	}

	return 0, io.EOF
}

func (d *dotReader) Read(b []byte) (int, error) {
	var n int

	for n < len(b) {
		c, err := d.readByte()
		if err != nil {
			if err != io.EOF || n == 0 {
				return n, err
			}

			break
		}

		b[n] = c
		n++
	}

	return n, nil
}

// dotWriter encodes text into a dot-encoded block. Every line starting with a dot gets an
// additional dot prepended and bare <LF> line endings are written as <CR> <LF>.
type dotWriter struct {
	w     *bufio.Writer
	state int
}

func (d *dotWriter) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := d.writeByte(c); err != nil {
			return i, err
		}
	}

	return len(b), nil
}

func (d *dotWriter) writeByte(c byte) error {
	if d.state == sStart && c == '.' {
		if err := d.w.WriteByte('.'); err != nil {
			return err
		}
	}

	switch c {
	case '\r':
		d.state = sCr
	case '\n':
		if d.state != sCr {
			if err := d.w.WriteByte('\r'); err != nil {
				return err
			}
		}

		d.state = sStart
	default:
		d.state = sText
	}

	return d.w.WriteByte(c)
}

func (d *dotWriter) Close() error {
	switch d.state {
	case sText:
		if _, err := d.w.WriteString("\r\n"); err != nil {
			return err
		}
	case sCr:
		if err := d.w.WriteByte('\n'); err != nil {
			return err
		}
	}

	d.state = sStart

	_, err := d.w.WriteString(".\r\n")
	return err
}
