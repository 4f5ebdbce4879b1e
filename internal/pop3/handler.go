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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

var (
	errCloseSession = errors.New("pop3: session closed")
	errBadSequence  = errors.New("pop3: bad sequence of commands")
)

// `USER` command as specified in RFC#1939 7.
//
//     "USER" SP <name> CRLF
func user() handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sInit, sUser) {
			return errBadSequence
		}

		args, err := exactArgs(c, 1)
		if err != nil {
			return err
		}

		s.name = args[0]
		s.state = sUser

		return s.send(ok("send PASS"))
	}
}

// `PASS` command as specified in RFC#1939 7.
//
//     "PASS" SP <string> CRLF
//
// The password is the rest of the line and may contain spaces.
func pass(l *locks, authenticator delivery.Authenticator, inboxer delivery.Inboxer) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sUser) {
			return errBadSequence
		}

		if c.Params == "" {
			return errInvalidSyntax
		}

		u, err := authenticator.Login(ctx, s.name, c.Params)
		if err != nil {
			s.state = sInit
			return authError(err)
		}

		return enterTransaction(ctx, s, l, inboxer, u)
	}
}

// `APOP` command as specified in RFC#1939 7.
//
//     "APOP" SP <name> SP <digest> CRLF
func apop(l *locks, authenticator delivery.Authenticator, inboxer delivery.Inboxer) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sInit) {
			return errBadSequence
		}

		args, err := exactArgs(c, 2)
		if err != nil {
			return err
		}

		u, err := authenticator.APOP(ctx, args[0], s.timestamp, args[1])
		if err != nil {
			return authError(err)
		}

		return enterTransaction(ctx, s, l, inboxer, u)
	}
}

func authError(err error) error {
	if errors.Is(err, delivery.ErrWrongUserPassword) {
		return fail("wrong user or password")
	}

	return err
}

// enterTransaction locks the mailbox and loads its listing, which stays stable for the rest of
// the session.
func enterTransaction(
	ctx context.Context,
	s *session,
	l *locks,
	inboxer delivery.Inboxer,
	u *models.UserEntity,
) error {
	if err := l.lock(u.Name); err != nil {
		s.state = sInit

		log.InfoContext(ctx).
			Str("user", u.Name).
			Msg("mailbox is locked by another session")

		return fail("mailbox is already locked")
	}

	inbox, err := inboxer.Inbox(ctx, u)
	if err != nil {
		l.unlock(u.Name)
		s.state = sInit
		return err
	}

	s.user = u
	s.inbox = inbox
	s.state = sTransaction

	log.InfoContext(ctx).
		Str("user", u.Name).
		Int("messages", inbox.Count()).
		Msg("authenticated")

	return s.send(ok(fmt.Sprintf("%s's maildrop has %d messages (%d octets)",
		u.Name, inbox.Count(), inbox.Size())))
}

// `STAT` command as specified in RFC#1939 5.
//
//     "STAT" CRLF
func stat() handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		return s.send(ok(fmt.Sprintf("%d %d", s.inbox.Count(), s.inbox.Size())))
	}
}

// `LIST` command as specified in RFC#1939 5.
//
//     "LIST" [ SP <msg> ] CRLF
func list() handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		return listing(s, c, func(n int, entry models.InboxEntry) string {
			return fmt.Sprintf("%d %d", n, entry.Size)
		}, fmt.Sprintf("%d messages (%d octets)", countOrZero(s), sizeOrZero(s)))
	}
}

// `UIDL` command as specified in RFC#1939 7.
//
//     "UIDL" [ SP <msg> ] CRLF
//
// The unique id of a message is the id of its blob.
func uidl() handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		return listing(s, c, func(n int, entry models.InboxEntry) string {
			return fmt.Sprintf("%d %s", n, entry.MessageID)
		}, "unique-id listing follows")
	}
}

func countOrZero(s *session) int {
	if s.inbox == nil {
		return 0
	}

	return s.inbox.Count()
}

func sizeOrZero(s *session) int64 {
	if s.inbox == nil {
		return 0
	}

	return s.inbox.Size()
}

// listing answers LIST and UIDL. Without argument all messages not marked for deletion are
// listed, otherwise the single message.
func listing(
	s *session,
	c textproto.Command,
	format func(int, models.InboxEntry) string,
	headline string,
) error {
	if !s.state.in(sTransaction) {
		return errBadSequence
	}

	switch args := c.Fields(); len(args) {
	case 0:
		var lines []string

		for i, entry := range s.inbox.Entries {
			if !s.inbox.IsMarked(i) {
				lines = append(lines, format(i+1, entry))
			}
		}

		return s.sendMulti(headline, lines)

	case 1:
		index, err := messageIndex(s, args[0])
		if err != nil {
			return err
		}

		return s.send(ok(format(index+1, s.inbox.Entries[index])))

	default:
		return errInvalidSyntax
	}
}

// `RETR` command as specified in RFC#1939 5.
//
//     "RETR" SP <msg> CRLF
func retr(inboxer delivery.Inboxer) handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		args, err := exactArgs(c, 1)
		if err != nil {
			return err
		}

		index, err := messageIndex(s, args[0])
		if err != nil {
			return err
		}

		entry := s.inbox.Entries[index]

		return sendContent(s, inboxer, entry, fmt.Sprintf("%d octets", entry.Size),
			func(w io.Writer, r io.Reader) error {
				_, err := io.Copy(w, r)
				return err
			})
	}
}

// `TOP` command as specified in RFC#1939 7.
//
//     "TOP" SP <msg> SP <n> CRLF
//
// The header section is sent completely, followed by the first n lines of the body.
func top(inboxer delivery.Inboxer) handler {
	return func(_ context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		args, err := exactArgs(c, 2)
		if err != nil {
			return err
		}

		lines, err := strconv.Atoi(args[1])
		if err != nil || lines < 0 {
			return errInvalidSyntax
		}

		index, err := messageIndex(s, args[0])
		if err != nil {
			return err
		}

		return sendContent(s, inboxer, s.inbox.Entries[index], "top of message follows",
			func(w io.Writer, r io.Reader) error {
				return copyTop(w, r, lines)
			})
	}
}

func sendContent(
	s *session,
	inboxer delivery.Inboxer,
	entry models.InboxEntry,
	headline string,
	copyFn func(io.Writer, io.Reader) error,
) error {
	r, err := inboxer.Open(entry)
	if err != nil {
		return err
	}

	defer r.Close()

	if err := s.SetWriteTimeout(s.timeout); err != nil {
		return err
	}

	if err := ok(headline).writeTo(s); err != nil {
		return err
	}

	w := s.DotWriter()

	if err := copyFn(w, r); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return s.Flush()
}

// copyTop copies the header section including the empty separator line and up to n lines of
// the body.
func copyTop(w io.Writer, r io.Reader, n int) error {
	var (
		br     = bufio.NewReader(r)
		inBody = false
	)

	for !inBody || n > 0 {
		line, err := br.ReadString('\n')

		if len(line) > 0 {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}

			if inBody {
				n--
			} else if strings.TrimRight(line, "\r\n") == "" {
				inBody = true
			}
		}

		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// `DELE` command as specified in RFC#1939 5.
//
//     "DELE" SP <msg> CRLF
func dele() handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		args, err := exactArgs(c, 1)
		if err != nil {
			return err
		}

		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errInvalidSyntax
		}

		index := n - 1
		if index < 0 || index >= len(s.inbox.Entries) {
			return errNoSuchMessage
		}

		if err := s.inbox.Mark(index); err != nil {
			if errors.Is(err, delivery.ErrAlreadyMarked) {
				return fail(fmt.Sprintf("message %d already deleted", n))
			}

			return err
		}

		log.DebugContext(ctx).
			Int("message", n).
			Msg("marked message for deletion")

		return s.send(ok(fmt.Sprintf("message %d deleted", n)))
	}
}

// `NOOP` command as specified in RFC#1939 5.
//
//     "NOOP" CRLF
func noop() handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		return s.send(ok(""))
	}
}

// `RSET` command as specified in RFC#1939 5.
//
//     "RSET" CRLF
func rset() handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		s.inbox.Reset()

		return s.send(ok(fmt.Sprintf("maildrop has %d messages (%d octets)",
			s.inbox.Count(), s.inbox.Size())))
	}
}

// `QUIT` command as specified in RFC#1939 6.
//
//     "QUIT" CRLF
//
// In the transaction state the marked messages are deleted. The session ends even if the
// deletion fails.
func quit(inboxer delivery.Inboxer) handler {
	return func(ctx context.Context, s *session, _ textproto.Command) error {
		if !s.state.in(sTransaction) {
			if err := s.send(ok("sleet POP3 server signing off")); err != nil {
				return err
			}

			return errCloseSession
		}

		deleted := len(s.inbox.Entries) - s.inbox.Count()

		if err := inboxer.Commit(ctx, s.user, s.inbox); err != nil {
			log.ErrorContext(ctx).
				Err(err).
				Msg("could not delete marked messages")

			if err := s.send(fail("some deleted messages not removed")); err != nil {
				return err
			}

			return errCloseSession
		}

		if err := s.send(ok(fmt.Sprintf("sleet POP3 server signing off (%d messages deleted)", deleted))); err != nil {
			return err
		}

		return errCloseSession
	}
}

// `CAPA` command as specified in RFC#2449 5.
//
//     "CAPA" CRLF
func capa(capabilities ...string) handler {
	return func(_ context.Context, s *session, _ textproto.Command) error {
		return s.sendMulti("Capability list follows", capabilities)
	}
}
