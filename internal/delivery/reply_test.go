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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReplyLine(t *testing.T) {
	tests := []struct {
		line string
		code int
		text string
		last bool
		err  error
	}{
		{line: "250 Ok", code: 250, text: "Ok", last: true},
		{line: "250-SIZE 1000", code: 250, text: "SIZE 1000", last: false},
		{line: "221", code: 221, text: "", last: true},
		{line: "55", err: ErrMalformedReply},
		{line: "abc def", err: ErrMalformedReply},
		{line: "250x", err: ErrMalformedReply},
		{line: "999 nope", err: ErrMalformedReply},
	}

	for _, test := range tests {
		code, text, last, err := parseReplyLine(test.line)

		assert.Equal(t, test.err, err, test.line)
		assert.Equal(t, test.code, code, test.line)
		assert.Equal(t, test.text, text, test.line)
		assert.Equal(t, test.last, last, test.line)
	}
}

func TestReplyError(t *testing.T) {
	err := &ReplyError{
		Step:  "MAIL",
		Reply: &Reply{Code: 451, Lines: []string{"Try again", "later"}},
	}

	assert.Equal(t, "unexpected reply to MAIL: 451 Try again later", err.Error())
}
