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

import "github.com/lukasdietrich/sleet/internal/textproto"

// reply is a single line status response. Negative replies are errors, so handlers can return
// them to end a command.
type reply struct {
	ok   bool
	text string
}

func ok(text string) reply {
	return reply{ok: true, text: text}
}

func fail(text string) reply {
	return reply{ok: false, text: text}
}

func (r reply) Error() string {
	return "pop3: " + r.status() + " " + r.text
}

func (r reply) status() string {
	if r.ok {
		return "+OK"
	}

	return "-ERR"
}

func (r reply) writeTo(w textproto.Writer) error {
	if r.text == "" {
		return w.WriteLine(r.status())
	}

	return w.WriteLine(r.status() + " " + r.text)
}
