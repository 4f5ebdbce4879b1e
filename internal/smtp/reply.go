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

package smtp

import (
	"fmt"
	"strconv"
	"strings"
)

type smtpError struct {
	code  int
	lines []string
}

func (e smtpError) Error() string {
	return fmt.Sprintf("%d %s", e.code, strings.Join(e.lines, " "))
}

func replyError(code int, lines ...string) smtpError {
	return smtpError{code: code, lines: lines}
}

// writeReply writes a reply of one or more lines. Every line but the last has a dash between
// code and text:
//
//     250-first line
//     250 last line
func (s *session) writeReply(code int, lines ...string) error {
	if err := s.SetWriteTimeout(s.timeout); err != nil {
		return err
	}

	prefix := strconv.Itoa(code)

	for i, line := range lines {
		separator := "-"
		if i == len(lines)-1 {
			separator = " "
		}

		if err := s.WriteLine(prefix + separator + line); err != nil {
			return err
		}
	}

	return s.Flush()
}

func (s *session) reply(code int, text string) error {
	return s.writeReply(code, text)
}
