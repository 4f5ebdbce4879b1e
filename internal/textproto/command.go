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
	"bytes"
	"strings"
)

// Command is a request line of the form:
//
//     <name> [ <SP> <params> ] <CR> <LF>
//
// The name is normalized to upper case. HasParams distinguishes an empty parameter string after
// a trailing space from a command without any parameters.
type Command struct {
	Name      string
	Params    string
	HasParams bool
}

// ParseCommand splits a line at the first run of whitespace into name and parameters.
func ParseCommand(line []byte) Command {
	space := bytes.IndexAny(line, " \t")

	if space < 0 {
		return Command{
			Name: strings.ToUpper(string(line)),
		}
	}

	return Command{
		Name:      strings.ToUpper(string(line[:space])),
		Params:    string(bytes.TrimLeft(line[space:], " \t")),
		HasParams: true,
	}
}

// Fields splits the parameters around runs of whitespace.
func (c Command) Fields() []string {
	return strings.Fields(c.Params)
}

func (c Command) String() string {
	if c.HasParams {
		return c.Name + " " + c.Params
	}

	return c.Name
}
