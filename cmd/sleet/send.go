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
	"fmt"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/models"
)

type sendCommand struct {
	Conn   database.Conn
	Sender *delivery.Sender
}

// run queues the message on stdin. A running server picks it up with its next heartbeat.
func (s *sendCommand) run(ctx context.Context, args []string) error {
	defer s.Conn.Close()

	if len(args) < 2 {
		return errUsage
	}

	from, err := models.ParseUnicode(args[0])
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", args[0], err)
	}

	var to []models.Address

	for _, arg := range args[1:] {
		addr, err := models.ParseUnicode(arg)
		if err != nil {
			return fmt.Errorf("invalid recipient %q: %w", arg, err)
		}

		to = append(to, addr)
	}

	msg, err := mails.Parse(stdin)
	if err != nil {
		return err
	}

	id, err := s.Sender.Enqueue(ctx, from, to, msg)
	if err != nil {
		return err
	}

	log.Info().
		Str("id", id).
		Int("recipients", len(to)).
		Msg("message queued")

	fmt.Fprintln(stdout, id)
	return nil
}
