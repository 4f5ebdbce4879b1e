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

package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lukasdietrich/sleet/internal/textproto"
)

// ErrMalformedReply is returned for replies, that do not start with a three digit code.
var ErrMalformedReply = errors.New("malformed smtp reply")

// Reply is a possibly multi-line reply of an smtp server.
type Reply struct {
	Code  int
	Lines []string
}

// Text returns all lines of the reply joined by spaces.
func (r *Reply) Text() string {
	return strings.Join(r.Lines, " ")
}

func (r *Reply) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Text())
}

// ReplyError is an unexpected reply to a command.
type ReplyError struct {
	Step  string
	Reply *Reply
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("unexpected reply to %s: %s", e.Step, e.Reply)
}

// readReply reads lines until the last line of a reply, which has a space or nothing at all
// after the code:
//
//     250-first line
//     250 last line
func readReply(conn textproto.Conn, timeout time.Duration) (*Reply, error) {
	var reply Reply

	for {
		if err := conn.SetReadTimeout(timeout); err != nil {
			return nil, err
		}

		line, err := conn.ReadLine()
		if err != nil {
			return nil, err
		}

		code, text, last, err := parseReplyLine(string(line))
		if err != nil {
			return nil, err
		}

		if reply.Lines != nil && code != reply.Code {
			return nil, ErrMalformedReply
		}

		reply.Code = code
		reply.Lines = append(reply.Lines, text)

		if last {
			return &reply, nil
		}
	}
}

func parseReplyLine(line string) (code int, text string, last bool, err error) {
	if len(line) < 3 {
		return 0, "", false, ErrMalformedReply
	}

	code, err = strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return 0, "", false, ErrMalformedReply
	}

	if len(line) == 3 {
		return code, "", true, nil
	}

	switch line[3] {
	case ' ':
		return code, line[4:], true, nil
	case '-':
		return code, line[4:], false, nil
	default:
		return 0, "", false, ErrMalformedReply
	}
}
