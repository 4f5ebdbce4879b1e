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
	"errors"
	"os"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/storage"
)

// Cleaner is a service to clean orphaned message blobs and their database counterparts.
type Cleaner interface {
	// Clean finds all orphaned messages and deletes them. An orphaned message is a message not
	// in any inbox, not archived in the outbox and not waiting for outbound delivery.
	Clean(context.Context) error
}

type cleaner struct {
	conn       database.Conn
	messageDao database.MessageDao
	blobs      storage.Blobs
}

// NewCleaner creates a new Cleaner.
func NewCleaner(conn database.Conn, messageDao database.MessageDao, blobs storage.Blobs) Cleaner {
	return &cleaner{
		conn:       conn,
		messageDao: messageDao,
		blobs:      blobs,
	}
}

func (c *cleaner) Clean(ctx context.Context) error {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	messages, err := c.messageDao.FindOrphans(ctx, tx)
	if err != nil {
		return err
	}

	for i := range messages {
		if err := c.deleteMessage(ctx, tx, &messages[i]); err != nil {
			return err
		}
	}

	if len(messages) > 0 {
		log.InfoContext(ctx).
			Int("messages", len(messages)).
			Msg("removed orphaned messages")
	}

	return tx.Commit()
}

func (c *cleaner) deleteMessage(ctx context.Context, tx database.Tx, message *models.MessageEntity) error {
	if err := c.blobs.Delete(ctx, message.ID); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return c.messageDao.Delete(ctx, tx, message)
}
