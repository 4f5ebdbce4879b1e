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
	"io"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/smtp/hook"
	"github.com/lukasdietrich/sleet/internal/storage"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

// `MAIL` command as specified in RFC#5321 4.1.1.2
//
//     "MAIL FROM:<" <Reverse-path> ">" [ SP Parameters ] CRLF
//
// An empty reverse-path is the null sender of notifications.
func mail(addressbook delivery.Addressbook, maxSize int64, hooks []hook.FromHook) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if s.state == sInit {
			return errBadSequence
		}

		if s.isTransaction() {
			return replyError(503, "Sender already specified")
		}

		path, params, err := parsePath(c.Params, "FROM")
		if err != nil {
			return err
		}

		from := models.ZeroAddress
		if path != "" {
			if from, err = models.ParseUnicode(path); err != nil {
				return err
			}
		}

		if err := checkMaxSize(ctx, params, maxSize); err != nil {
			return err
		}

		if err := checkOrigin(ctx, s, addressbook, from); err != nil {
			return err
		}

		if err := execFromHooks(ctx, s, from, hooks); err != nil {
			return err
		}

		s.envelope.From = from
		s.envelope.Relay = s.mayRelay()
		s.state = sMail

		log.DebugContext(ctx).
			Stringer("from", from).
			Msg("beginning mail transaction")

		return s.reply(250, "Ok")
	}
}

// checkMaxSize compares the declared size of RFC#1870 6. with the configured maximum.
func checkMaxSize(ctx context.Context, params map[string]string, maxSize int64) error {
	sizeParam, ok := params["SIZE"]
	if !ok || maxSize == 0 {
		return nil
	}

	size, err := strconv.ParseInt(sizeParam, 10, 64)
	if err != nil {
		return errCommandSyntax
	}

	if size > maxSize {
		log.InfoContext(ctx).
			Int64("size", size).
			Int64("maxSize", maxSize).
			Msg("declared size exceeds maximum")

		return replyError(552, "Message exceeds fixed maximum message size")
	}

	return nil
}

// checkOrigin makes sure, that authenticated users only send mail as themselves.
func checkOrigin(ctx context.Context, s *session, addressbook delivery.Addressbook, from models.Address) error {
	if s.user == nil || from.IsZero() {
		return nil
	}

	result, err := addressbook.Lookup(ctx, from)
	if err != nil {
		return err
	}

	if result.User == nil || result.User.Name != s.user.Name {
		log.WarnContext(ctx).
			Str("user", s.user.Name).
			Stringer("from", from).
			Msg("authenticated user trying to send as someone else")

		return replyError(550, "Sender address rejected: not owned by user")
	}

	return nil
}

func execFromHooks(ctx context.Context, s *session, from models.Address, hooks []hook.FromHook) error {
	var headers []hook.HeaderField

	for _, fromHook := range hooks {
		result, err := fromHook(ctx, s.mayRelay(), s.envelope.Addr, from)
		if err != nil {
			return err
		}

		if result.Reject {
			return replyError(result.Code, result.Text)
		}

		headers = append(headers, result.Headers...)
	}

	s.headers = headers
	return nil
}

// `RCPT` command as specified in RFC#5321 4.1.1.3
//
//     "RCPT TO:<" ( "<Postmaster@" Domain ">" / "<Postmaster>" / Forward-path ) ">"
//         [ SP Rcpt-parameters ] CRLF
func rcpt(addressbook delivery.Addressbook, maxRecipients int) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if !s.isTransaction() {
			return errBadSequence
		}

		path, _, err := parsePath(c.Params, "TO")
		if err != nil {
			return err
		}

		if maxRecipients > 0 && len(s.envelope.To) >= maxRecipients {
			log.DebugContext(ctx).
				Int("recipients", len(s.envelope.To)).
				Msg("too many recipients")

			return replyError(452, "Too many recipients")
		}

		if strings.EqualFold(path, "postmaster") {
			path = "postmaster@" + addressbook.Hostname()
		}

		to, err := models.ParseUnicode(path)
		if err != nil {
			return err
		}

		result, err := addressbook.Lookup(ctx, to)
		if err != nil {
			return err
		}

		switch {
		case result.Exists():
		case result.IsLocal:
			return replyError(550, "Mailbox not found")
		case !s.mayRelay():
			return replyError(551, "User not local")
		}

		s.envelope.To = append(s.envelope.To, to)
		s.state = sRcpt

		log.DebugContext(ctx).
			Stringer("to", to).
			Bool("local", result.IsLocal).
			Msg("recipient added")

		return s.reply(250, "Ok")
	}
}

// `DATA` command as specified in RFC#5321 4.1.1.4
//
//     "DATA" CRLF
//
// The transaction is reset, whether the message is accepted or not.
func data(opts Options, mailman delivery.Mailman, cache storage.Cache) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if c.HasParams {
			return errNoParams
		}

		switch s.state {
		case sRcpt:
		case sMail:
			return replyError(503, "No valid recipients")
		default:
			return errBadSequence
		}

		defer s.resetTransaction()

		if err := s.reply(354, "Start mail input; end with <CRLF>.<CRLF>"); err != nil {
			return err
		}

		if err := s.SetReadTimeout(opts.Timeout * 2); err != nil {
			return err
		}

		s.envelope.Date = time.Now()

		var (
			r  = s.DotReader()
			lr = r
		)

		if opts.MaxSize > 0 {
			lr = &limitedReader{r: r, n: opts.MaxSize + 1}
		}

		entry, err := cache.Write(ctx, lr)
		if err != nil {
			switch {
			case errors.Is(err, errReaderLimitReached):
				if err := discard(r); err != nil {
					return err
				}

				return replyError(552, "Message exceeds fixed maximum message size")

			case errors.Is(err, textproto.ErrLineTooLong):
				if err := discard(r); err != nil {
					return err
				}

				return replyError(500, "Line too long")
			}

			return err
		}

		defer entry.Release(ctx)

		content, err := entry.Reader()
		if err != nil {
			return err
		}

		msg, err := mails.Parse(content)
		if err != nil {
			return err
		}

		addTraceHeaders(s, msg, opts.Hostname)

		log.InfoContext(ctx).
			Int64("size", entry.Size()).
			Int("recipients", len(s.envelope.To)).
			Msg("committing mail transaction")

		id, err := mailman.Deliver(ctx, s.envelope, msg)
		if err != nil {
			log.ErrorContext(ctx).
				Err(err).
				Msg("could not deliver message")

			return replyError(451, "Requested action aborted: local error in processing")
		}

		metrics.MessagesReceivedTotal.Inc()
		return s.reply(250, "Ok: queued as "+id)
	}
}

// discard consumes the rest of a dot-encoded block to find the end of the message. Lines, that
// are too long, are skipped as well.
func discard(r io.Reader) error {
	for {
		_, err := io.Copy(ioutil.Discard, r)
		if !errors.Is(err, textproto.ErrLineTooLong) {
			return err
		}
	}
}

// addTraceHeaders prepends the headers of hooks and the trace headers of RFC#5321 4.4. The
// Return-Path ends up on top.
func addTraceHeaders(s *session, msg *mails.Message, hostname string) {
	for _, header := range s.headers {
		msg.Prepend(header.Key, header.Value)
	}

	from := s.envelope.Helo
	if s.envelope.Addr != nil {
		from = fmt.Sprintf("%s ([%s])", from, s.envelope.Addr)
	}

	msg.Prepend("Received", fmt.Sprintf("from %s by %s; %s",
		from,
		hostname,
		s.envelope.Date.Format(time.RFC1123Z)))

	msg.Prepend("Return-Path", s.envelope.From.Path())
}
