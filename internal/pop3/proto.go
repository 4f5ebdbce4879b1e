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

// Package pop3 implements the server side of the Post Office Protocol Version 3 as specified
// in RFC#1939.
package pop3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

func init() {
	viper.SetDefault("pop3.address", ":110")
	viper.SetDefault("pop3.timeout", "10m")
}

// Options configure the pop3 server.
type Options struct {
	Hostname string
	Timeout  time.Duration
}

// OptionsFromViper reads the pop3 options from viper.
func OptionsFromViper() Options {
	return Options{
		Hostname: viper.GetString("general.hostname"),
		Timeout:  viper.GetDuration("pop3.timeout"),
	}
}

type handler func(context.Context, *session, textproto.Command) error

// Proto is the pop3 protocol implementation used by a textproto.Server.
type Proto struct {
	opts       Options
	locks      *locks
	handlerMap map[string]handler
	// timestamp creates the unique banner of a greeting.
	timestamp func() string
}

// New creates a new pop3 protocol.
func New(opts Options, authenticator delivery.Authenticator, inboxer delivery.Inboxer) *Proto {
	locks := newLocks()

	return &Proto{
		opts:  opts,
		locks: locks,
		handlerMap: map[string]handler{
			"CAPA": capa("USER", "UIDL", "TOP"),

			"USER": user(),
			"PASS": pass(locks, authenticator, inboxer),
			"APOP": apop(locks, authenticator, inboxer),

			"STAT": stat(),
			"LIST": list(),
			"UIDL": uidl(),
			"RETR": retr(inboxer),
			"TOP":  top(inboxer),
			"DELE": dele(),

			"NOOP": noop(),
			"RSET": rset(),
			"QUIT": quit(inboxer),
		},
		timestamp: func() string {
			return fmt.Sprintf("<%d.%d@%s>", os.Getpid(), time.Now().UnixNano(), opts.Hostname)
		},
	}
}

// Handle runs a session until the client quits or the connection breaks. A locked mailbox is
// released in any case.
func (p *Proto) Handle(c textproto.Conn) {
	s := &session{
		Conn:      c,
		timeout:   p.opts.Timeout,
		state:     sInit,
		timestamp: p.timestamp(),
	}

	ctx := c.Context()

	metrics.SessionsTotal.WithLabelValues("pop3").Inc()
	log.InfoContext(ctx).
		Stringer("ip", textproto.RemoteIP(c)).
		Msg("starting session")

	defer func() {
		if s.user != nil {
			log.DebugContext(ctx).
				Str("user", s.user.Name).
				Msg("unlocking mailbox")

			p.locks.unlock(s.user.Name)
		}
	}()

	if err := s.send(ok("sleet POP3 server ready " + s.timestamp)); err != nil {
		return
	}

	switch err := p.loop(ctx, s); {
	case err == nil, errors.Is(err, errCloseSession), errors.Is(err, io.EOF):
		log.InfoContext(ctx).Msg("session closed")

	default:
		log.WarnContext(ctx).
			Err(err).
			Msg("session closed with an error")

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			_ = s.send(fail("timed out"))
		}
	}
}

func (p *Proto) loop(ctx context.Context, s *session) error {
	for {
		cmd, err := s.read()
		if err != nil {
			if !errors.Is(err, textproto.ErrLineTooLong) {
				return err
			}

			if err := s.send(fail("line too long")); err != nil {
				return err
			}

			continue
		}

		ctx := log.WithCommand(ctx, cmd.Name)
		h, found := p.handlerMap[cmd.Name]

		if !found {
			log.DebugContext(ctx).Msg("command not implemented")

			if err := s.send(fail("command not implemented")); err != nil {
				return err
			}

			continue
		}

		if err := h(ctx, s, cmd); err != nil {
			if errors.Is(err, errCloseSession) {
				return err
			}

			log.DebugContext(ctx).
				Err(err).
				Msg("error during command")

			if err := handleError(ctx, s, err); err != nil {
				return err
			}
		}
	}
}

// handleError translates errors into negative replies. Only if the reply cannot be written,
// the session ends.
func handleError(ctx context.Context, s *session, err error) error {
	var r reply
	if errors.As(err, &r) {
		return s.send(r)
	}

	switch {
	case errors.Is(err, errBadSequence):
		return s.send(fail("bad sequence of commands"))

	case errors.Is(err, errInvalidSyntax):
		return s.send(fail("invalid syntax"))

	case errors.Is(err, errNoSuchMessage):
		return s.send(fail("no such message"))
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err
	}

	log.ErrorContext(ctx).
		Err(err).
		Msg("local error in processing")

	return s.send(fail("action aborted: local error in processing"))
}
