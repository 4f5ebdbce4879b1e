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
	"time"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

type sessionState uint

const (
	sInit sessionState = iota
	sUser
	sTransaction
)

func (s sessionState) String() string {
	return [...]string{
		"init",
		"user",
		"transaction",
	}[s]
}

func (s sessionState) in(any ...sessionState) bool {
	for _, other := range any {
		if other == s {
			return true
		}
	}

	return false
}

type session struct {
	textproto.Conn

	timeout time.Duration
	state   sessionState
	// timestamp is the banner of the greeting used to compute APOP digests.
	timestamp string
	// name is the mailbox given by USER.
	name string

	user  *models.UserEntity
	inbox *delivery.Inbox
}

func (s *session) send(r reply) error {
	if err := s.SetWriteTimeout(s.timeout); err != nil {
		return err
	}

	if err := r.writeTo(s); err != nil {
		return err
	}

	return s.Flush()
}

// sendMulti sends a positive reply followed by a dot terminated list of lines.
func (s *session) sendMulti(text string, lines []string) error {
	if err := s.SetWriteTimeout(s.timeout); err != nil {
		return err
	}

	if err := ok(text).writeTo(s); err != nil {
		return err
	}

	for _, line := range lines {
		if err := s.WriteLine(line); err != nil {
			return err
		}
	}

	if err := s.WriteLine("."); err != nil {
		return err
	}

	return s.Flush()
}

func (s *session) read() (textproto.Command, error) {
	if err := s.SetReadTimeout(s.timeout); err != nil {
		return textproto.Command{}, err
	}

	line, err := s.ReadLine()
	if err != nil {
		return textproto.Command{}, err
	}

	return textproto.ParseCommand(line), nil
}
