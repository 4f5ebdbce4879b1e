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

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	expected := strings.Join([]string{
		"Received: by very.good.mail.server (sleet) for",
		" <a-very-important-person@very.good.mail.server>; Sat, 5 Jan 2019 06:33:36",
		" +0000 (UTC)",
		"",
	}, "\r\n")

	actual := fold(
		"Received",
		"by very.good.mail.server (sleet) "+
			"for <a-very-important-person@very.good.mail.server>"+
			"; Sat, 5 Jan 2019 06:33:36 +0000 (UTC)")

	assert.Equal(t, expected, string(actual))
}

func TestFoldShort(t *testing.T) {
	assert.Equal(t, "Return-Path: <a@example.com>\r\n", string(fold("Return-Path", "<a@example.com>")))
	assert.Equal(t, "Return-Path: \r\n", string(fold("Return-Path", "")))
}

func TestFoldWithoutWhitespace(t *testing.T) {
	long := strings.Repeat("x", 100)

	assert.Equal(t, "Key: "+long+"\r\n", string(fold("Key", long)))
	assert.Equal(t, "Key: "+long+"\r\n and more\r\n", string(fold("Key", long+" and more")))
}

func TestFoldTrailingWhitespace(t *testing.T) {
	value := strings.Repeat("y", 80) + " "
	assert.Equal(t, "Key: "+value+"\r\n", string(fold("Key", value)))
}

func TestFoldLineLength(t *testing.T) {
	value := strings.TrimSpace(strings.Repeat("word ", 60))

	for _, line := range strings.Split(strings.TrimSuffix(string(fold("Subject", value)), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), foldLength)
	}
}
