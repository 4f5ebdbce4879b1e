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
	"time"

	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/smtp/hook"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

type sessionState uint

const (
	sInit sessionState = iota
	sHelo
	sMail
	sRcpt
)

func (s sessionState) String() string {
	return [...]string{
		"init",
		"helo",
		"mail",
		"rcpt",
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

	timeout  time.Duration
	state    sessionState
	envelope models.Envelope
	headers  []hook.HeaderField
	user     *models.UserEntity
	// trusted is true for clients connecting from a relay network.
	trusted bool
}

// mayRelay reports whether the client may send mail to other hosts.
func (s *session) mayRelay() bool {
	return s.trusted || s.user != nil
}

// isTransaction reports whether a mail transaction was started using MAIL.
func (s *session) isTransaction() bool {
	return s.state.in(sMail, sRcpt)
}

// resetTransaction discards the envelope and returns to the greeted state. A session, that
// has not been greeted yet, stays in the initial state.
func (s *session) resetTransaction() {
	s.envelope.From = models.ZeroAddress
	s.envelope.To = nil
	s.envelope.Relay = false
	s.headers = nil

	if s.state != sInit {
		s.state = sHelo
	}
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
