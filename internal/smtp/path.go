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
	"errors"
	"strings"
)

var (
	errCommandSyntax = errors.New("smtp: syntax error in parameters or arguments")
	errNoParams      = errors.New("smtp: command takes no parameters")
)

// parsePath splits the parameters of MAIL and RCPT into the path and the extension parameters:
//
//     <keyword> ":" [ SP ] "<" <path> ">" [ SP <key> [ "=" <value> ] ... ]
//
// The angle brackets are optional, as some clients omit them. Source routes are discarded as
// permitted by RFC#5321 4.1.1.3. Keys of extension parameters are upper case.
func parsePath(params, keyword string) (string, map[string]string, error) {
	if len(params) <= len(keyword) ||
		!strings.EqualFold(params[:len(keyword)], keyword) ||
		params[len(keyword)] != ':' {
		return "", nil, errCommandSyntax
	}

	var (
		rest = strings.TrimLeft(params[len(keyword)+1:], " ")
		path string
	)

	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", nil, errCommandSyntax
		}

		path, rest = rest[1:end], rest[end+1:]
	} else {
		path, rest, _ = strings.Cut(rest, " ")
		if path == "" {
			return "", nil, errCommandSyntax
		}
	}

	if strings.HasPrefix(path, "@") {
		colon := strings.IndexByte(path, ':')
		if colon < 0 {
			return "", nil, errCommandSyntax
		}

		path = path[colon+1:]
	}

	ext := make(map[string]string)

	for _, field := range strings.Fields(rest) {
		key, value, _ := strings.Cut(field, "=")
		ext[strings.ToUpper(key)] = value
	}

	return path, ext, nil
}
