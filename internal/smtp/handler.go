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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

var (
	errCloseSession = errors.New("smtp: session closed")
	errBadSequence  = errors.New("smtp: bad sequence of commands")
)

// `HELO` command as specified in RFC#5321 4.1.1.1
//
//     "HELO" SP <Domain> CRLF
func helo() handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if err := greet(ctx, s, c); err != nil {
			return err
		}

		return s.reply(250, "Hello "+s.envelope.Helo)
	}
}

// `EHLO` command as specified in RFC#5321 4.1.1.1
//
//     "EHLO" SP <Domain OR address-literal> CRLF
func ehlo(opts Options) handler {
	size := "SIZE"
	if opts.MaxSize > 0 {
		size = fmt.Sprintf("SIZE %d", opts.MaxSize)
	}

	return func(ctx context.Context, s *session, c textproto.Command) error {
		if err := greet(ctx, s, c); err != nil {
			return err
		}

		return s.writeReply(250,
			opts.Hostname+" Hello "+s.envelope.Helo,
			size,
			"HELP",
			"8BITMIME",
			"AUTH PLAIN LOGIN",
		)
	}
}

func greet(ctx context.Context, s *session, c textproto.Command) error {
	fields := c.Fields()
	if len(fields) == 0 {
		return errCommandSyntax
	}

	s.resetTransaction()
	s.state = sHelo
	s.envelope.Helo = fields[0]

	log.DebugContext(ctx).
		Str("helo", s.envelope.Helo).
		Msg("client greeted")

	return nil
}

// `NOOP` command as specified in RFC#5321 4.1.1.9
//
//     "NOOP" [ SP String ] CRLF
func noop() handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		return s.reply(250, "Ok")
	}
}

// `RSET` command as specified in RFC#5321 4.1.1.5
//
//     "RSET" CRLF
func rset() handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if c.HasParams {
			return errNoParams
		}

		s.resetTransaction()
		log.DebugContext(ctx).Msg("resetting transaction state")

		return s.reply(250, "Ok")
	}
}

// `HELP` command as specified in RFC#5321 4.1.1.8
//
//     "HELP" [ SP String ] CRLF
//
// The reply lists the commands, that are valid in the current state.
func help() handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		commands := []string{"HELO", "EHLO"}

		switch s.state {
		case sHelo:
			commands = append(commands, "MAIL")
			if s.user == nil {
				commands = append(commands, "AUTH")
			}
		case sMail:
			commands = append(commands, "RCPT")
		case sRcpt:
			commands = append(commands, "RCPT", "DATA")
		}

		commands = append(commands, "RSET", "VRFY", "EXPN", "NOOP", "HELP", "QUIT")

		return s.writeReply(214,
			"The following commands are available:",
			strings.Join(commands, " "),
		)
	}
}

// `QUIT` command as specified in RFC#5321 4.1.1.10
//
//     "QUIT" CRLF
func quit() handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if c.HasParams {
			return errNoParams
		}

		text := "Bye"
		if s.isTransaction() {
			text = "Email transaction aborted.  Bye"
		}

		if err := s.reply(221, text); err != nil {
			return err
		}

		log.DebugContext(ctx).Msg("closing session")
		return errCloseSession
	}
}

// `VRFY` command as specified in RFC#5321 4.1.1.6
//
//     "VRFY" SP String CRLF
//
// An address is looked up exactly. Anything else is used to search users by name, which is
// always ambiguous, even for a single match.
func vrfy(addressbook delivery.Addressbook) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		arg := strings.Trim(c.Params, "<> ")
		if arg == "" {
			return errCommandSyntax
		}

		if strings.Contains(arg, "@") {
			return vrfyAddress(ctx, s, addressbook, arg)
		}

		users, err := addressbook.Search(ctx, arg)
		if err != nil {
			return err
		}

		if len(users) == 0 {
			return s.reply(550, "String does not match anything.")
		}

		lines := []string{"User ambiguous.  Possibilities are:"}
		for i := range users {
			lines = append(lines, formatUser(&users[i], addressbook.Hostname()))
		}

		return s.writeReply(553, lines...)
	}
}

func vrfyAddress(ctx context.Context, s *session, addressbook delivery.Addressbook, arg string) error {
	addr, err := models.ParseUnicode(arg)
	if err != nil {
		return err
	}

	result, err := addressbook.Lookup(ctx, addr)
	if err != nil {
		return err
	}

	switch {
	case !result.IsLocal:
		return s.reply(551, "User not local")

	case result.Exists():
		return s.reply(250, formatUser(result.User, addressbook.Hostname()))

	default:
		return s.reply(550, "Mailbox not found")
	}
}

func formatUser(user *models.UserEntity, hostname string) string {
	path := "<" + user.Name + "@" + hostname + ">"

	if user.FullName.Valid && user.FullName.String != "" {
		return user.FullName.String + " " + path
	}

	return path
}

// `EXPN` command as specified in RFC#5321 4.1.1.7
//
//     "EXPN" SP String CRLF
//
// There are no mailing lists, so every list is unknown.
func expn() handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		if strings.TrimSpace(c.Params) == "" {
			return errCommandSyntax
		}

		return s.reply(550, "Mailing list not found")
	}
}
