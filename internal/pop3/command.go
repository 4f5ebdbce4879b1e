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

package pop3

import (
	"errors"
	"strconv"

	"github.com/lukasdietrich/sleet/internal/textproto"
)

var (
	errInvalidSyntax = errors.New("pop3: invalid syntax")
	errNoSuchMessage = errors.New("pop3: no such message")
)

// messageIndex parses a message number of the session stable listing into a zero based index.
// Messages marked for deletion do not exist anymore.
func messageIndex(s *session, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return -1, errInvalidSyntax
	}

	index := n - 1

	if index < 0 || index >= len(s.inbox.Entries) || s.inbox.IsMarked(index) {
		return -1, errNoSuchMessage
	}

	return index, nil
}

// exactArgs returns the fields of c, if there are exactly n of them.
func exactArgs(c textproto.Command, n int) ([]string, error) {
	fields := c.Fields()
	if len(fields) != n {
		return nil, errInvalidSyntax
	}

	return fields, nil
}
