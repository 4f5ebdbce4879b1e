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

package delivery

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/models"
)

const bounceSubject = "Postmaster Notification: Email could not be delivered"

// bounce queues a notification for the sender of a message, listing the recipients, that could
// not be reached. The original message is attached below the notification, if it can still be
// read. Messages without a sender are bounces themselves and are never bounced. The id of the
// queued bounce is returned and empty, if no bounce was queued.
func (s *Sender) bounce(
	ctx context.Context,
	tx database.Tx,
	message *models.MessageEntity,
	failed []models.Rejection,
	succeeded []models.Address,
) (string, error) {
	if message.Sender.IsZero() {
		log.WarnContext(ctx).
			Str("message", message.ID).
			Msg("not bouncing a message without sender")

		return "", nil
	}

	var original io.Reader = strings.NewReader("The original message is not available.\r\n")

	if blob, err := s.blobs.Reader(message.ID); err == nil {
		defer blob.Close()
		original = blob
	} else {
		log.WarnContext(ctx).
			Err(err).
			Str("message", message.ID).
			Msg("bouncing without the original message")
	}

	now := s.now()

	msg := mails.NewMessage(io.MultiReader(
		strings.NewReader(bounceText(failed, succeeded)),
		original,
	))

	msg.Header.Set("From", s.opts.ErrorSender.String())
	msg.Header.Set("To", message.Sender.String())
	msg.Header.SetSubject(bounceSubject)
	msg.Header.Set("Auto-Submitted", "auto-replied")
	msg.Header.Set("MIME-Version", "1.0")
	msg.Header.Set("Content-Type", "text/plain; charset=utf-8")
	msg.EnsureDefaults(s.opts.Hostname, now)

	envelope := models.Envelope{
		Helo:  s.opts.Hostname,
		Relay: true,
		Date:  now,
		From:  models.ZeroAddress,
		To:    []models.Address{message.Sender},
	}

	id, err := s.mailman.DeliverTx(ctx, tx, envelope, msg)
	if err != nil {
		return id, err
	}

	log.InfoContext(ctx).
		Str("message", message.ID).
		Str("bounce", id).
		Int("failed", len(failed)).
		Msg("queued bounce")

	metrics.BouncesTotal.Inc()
	return id, nil
}

func bounceText(failed []models.Rejection, succeeded []models.Address) string {
	var b strings.Builder

	b.WriteString("This is an automatically generated message.\r\n\r\n")
	b.WriteString("Delivery to the following recipient(s) FAILED:\r\n\r\n")

	for _, rejection := range failed {
		fmt.Fprintf(&b, "    %s\r\n        %s\r\n", rejection.Address, rejection.Reason)
	}

	if len(succeeded) > 0 {
		b.WriteString("\r\nHowever, delivery SUCCEEDED for these recipient(s):\r\n\r\n")

		for _, addr := range succeeded {
			fmt.Fprintf(&b, "    %s\r\n", addr)
		}
	}

	b.WriteString("\r\n--- The original message follows ---\r\n\r\n")
	return b.String()
}
