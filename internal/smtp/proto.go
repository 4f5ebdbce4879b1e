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

// Package smtp implements the server side of the simple mail transfer protocol as specified in
// RFC#5321.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/smtp/hook"
	"github.com/lukasdietrich/sleet/internal/storage"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

func init() {
	viper.SetDefault("smtp.address", ":25")
	viper.SetDefault("smtp.timeout", "5m")
	viper.SetDefault("smtp.sizelimit", "10mb")
	viper.SetDefault("smtp.maxrecipients", 100)
	viper.SetDefault("smtp.relay.networks", []string{"127.0.0.0/8", "::1/128"})
}

// Options configure the smtp server.
type Options struct {
	Hostname string
	// Timeout applies to every read and write. DATA uses twice the timeout.
	Timeout time.Duration
	// MaxSize is the maximum size of a message in bytes. Zero means unlimited.
	MaxSize int64
	// MaxRecipients is the maximum number of recipients of a single transaction.
	MaxRecipients int
	// RelayNetworks are the networks of trusted clients, that may send mail to other hosts
	// without authentication.
	RelayNetworks []*net.IPNet
}

// OptionsFromViper reads the smtp options from viper.
func OptionsFromViper() (Options, error) {
	var networks []*net.IPNet

	for _, cidr := range viper.GetStringSlice("smtp.relay.networks") {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return Options{}, fmt.Errorf("invalid relay network %q: %w", cidr, err)
		}

		networks = append(networks, network)
	}

	return Options{
		Hostname:      viper.GetString("general.hostname"),
		Timeout:       viper.GetDuration("smtp.timeout"),
		MaxSize:       int64(viper.GetSizeInBytes("smtp.sizelimit")),
		MaxRecipients: viper.GetInt("smtp.maxrecipients"),
		RelayNetworks: networks,
	}, nil
}

type handler func(context.Context, *session, textproto.Command) error

// Proto is the smtp protocol implementation used by a textproto.Server.
type Proto struct {
	opts       Options
	handlerMap map[string]handler
}

// New creates a new smtp protocol.
func New(
	opts Options,
	addressbook delivery.Addressbook,
	mailman delivery.Mailman,
	authenticator delivery.Authenticator,
	cache storage.Cache,
	fromHooks []hook.FromHook,
) *Proto {
	return &Proto{
		opts: opts,
		handlerMap: map[string]handler{
			"HELO": helo(),
			"EHLO": ehlo(opts),

			"MAIL": mail(addressbook, opts.MaxSize, fromHooks),
			"RCPT": rcpt(addressbook, opts.MaxRecipients),
			"DATA": data(opts, mailman, cache),

			"NOOP": noop(),
			"RSET": rset(),
			"HELP": help(),
			"VRFY": vrfy(addressbook),
			"EXPN": expn(),
			"QUIT": quit(),

			"AUTH": auth(authenticator),
		},
	}
}

// Handle runs a session until the client quits or the connection breaks.
func (p *Proto) Handle(c textproto.Conn) {
	ip := textproto.RemoteIP(c)

	s := &session{
		Conn:    c,
		timeout: p.opts.Timeout,
		state:   sInit,
		trusted: p.isRelayNetwork(ip),
		envelope: models.Envelope{
			Addr: ip,
		},
	}

	ctx := c.Context()

	metrics.SessionsTotal.WithLabelValues("smtp").Inc()
	log.InfoContext(ctx).
		Stringer("ip", ip).
		Bool("trusted", s.trusted).
		Msg("starting session")

	if err := s.reply(220, p.opts.Hostname+" sleet ready to receive mail"); err != nil {
		return
	}

	switch err := p.loop(ctx, s); {
	case err == nil, errors.Is(err, errCloseSession), errors.Is(err, io.EOF):
		log.InfoContext(ctx).Msg("session closed")

	default:
		log.WarnContext(ctx).
			Err(err).
			Msg("session closed with an error")
	}
}

func (p *Proto) isRelayNetwork(ip net.IP) bool {
	if ip == nil {
		return false
	}

	for _, network := range p.opts.RelayNetworks {
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

func (p *Proto) loop(ctx context.Context, s *session) error {
	for {
		cmd, err := s.read()
		if err != nil {
			if !errors.Is(err, textproto.ErrLineTooLong) {
				return err
			}

			if err := s.reply(500, "Line too long"); err != nil {
				return err
			}

			continue
		}

		ctx := log.WithCommand(ctx, cmd.Name)
		h, ok := p.handlerMap[cmd.Name]

		if !ok {
			log.DebugContext(ctx).Msg("command not implemented")

			if err := s.reply(502, "Command not implemented"); err != nil {
				return err
			}

			continue
		}

		if err := h(ctx, s, cmd); err != nil {
			if err == errCloseSession {
				return err
			}

			log.DebugContext(ctx).
				Err(err).
				Msg("error during command")

			if err := handleError(s, err); err != nil {
				return err
			}
		}
	}
}

// handleError translates errors into replies. Errors, that are not part of the protocol, are
// local errors. Only if the reply cannot be written, the session ends.
func handleError(s *session, err error) error {
	var smtpErr smtpError
	if errors.As(err, &smtpErr) {
		return s.writeReply(smtpErr.code, smtpErr.lines...)
	}

	switch {
	case errors.Is(err, errBadSequence):
		return s.reply(503, "Bad sequence of commands")

	case errors.Is(err, errCommandSyntax):
		return s.reply(501, "Syntax error in parameters or arguments")

	case errors.Is(err, errNoParams):
		return s.reply(501, "Command takes no parameters")

	case errors.Is(err, models.ErrInvalidAddressFormat):
		return s.reply(501, "Invalid address format")

	case errors.Is(err, models.ErrPathTooLong):
		return s.reply(501, "Path too long")

	case errors.Is(err, textproto.ErrLineTooLong):
		return s.reply(500, "Line too long")
	}

	log.ErrorContext(s.Context()).
		Err(err).
		Msg("local error in processing")

	return s.reply(451, "Requested action aborted: local error in processing")
}
