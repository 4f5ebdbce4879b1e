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

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/pop3"
	"github.com/lukasdietrich/sleet/internal/smtp"
	"github.com/lukasdietrich/sleet/internal/storage"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

type startCommand struct {
	Conn        database.Conn
	Addressbook delivery.Addressbook
	SMTP        *smtp.Proto
	POP3        *pop3.Proto
	Sender      *delivery.Sender
	Metrics     *metrics.Server
	Transcripts *storage.Transcripts
}

// run serves until the context is cancelled or one of the servers fails, in which case the
// others are stopped as well.
func (s *startCommand) run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return errUsage
	}

	defer s.Conn.Close()

	if viper.GetString("general.hostname") == "" {
		return errors.New("general.hostname is not configured")
	}

	if err := s.Addressbook.CheckPostmaster(ctx); err != nil {
		if errors.Is(err, delivery.ErrNoPostmaster) {
			return fmt.Errorf("%w, add it with `sleet user add` or change general.postmaster", err)
		}

		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return textproto.NewServer("smtp", s.SMTP, s.Transcripts).
			ListenAndServe(ctx, viper.GetString("smtp.address"))
	})

	g.Go(func() error {
		return textproto.NewServer("pop3", s.POP3, s.Transcripts).
			ListenAndServe(ctx, viper.GetString("pop3.address"))
	})

	g.Go(func() error {
		return s.Sender.Run(ctx)
	})

	g.Go(func() error {
		return s.Metrics.ListenAndServe(ctx)
	})

	err := g.Wait()
	log.Info().Msg("shut down")

	return err
}
