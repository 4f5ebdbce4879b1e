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
	"io"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/storage"
)

// ErrAlreadyMarked is returned when a message of an inbox is marked for deletion twice.
var ErrAlreadyMarked = errors.New("message is already marked for deletion")

// Inboxer loads the inbox of a user and applies deletions.
type Inboxer interface {
	// Inbox loads a snapshot of all messages in the inbox of a user.
	Inbox(context.Context, *models.UserEntity) (*Inbox, error)
	// Commit deletes all marked messages from the inbox in a single transaction.
	Commit(context.Context, *models.UserEntity, *Inbox) error
	// Open returns a reader to the raw content of a message.
	Open(models.InboxEntry) (io.ReadCloser, error)
}

type inboxer struct {
	conn     database.Conn
	inboxDao database.InboxDao
	blobs    storage.Blobs
	cleaner  Cleaner
}

// NewInboxer creates a new Inboxer.
func NewInboxer(
	conn database.Conn,
	inboxDao database.InboxDao,
	blobs storage.Blobs,
	cleaner Cleaner,
) Inboxer {
	return &inboxer{
		conn:     conn,
		inboxDao: inboxDao,
		blobs:    blobs,
		cleaner:  cleaner,
	}
}

func (i *inboxer) Inbox(ctx context.Context, user *models.UserEntity) (*Inbox, error) {
	entries, err := i.inboxDao.FindByUser(ctx, i.conn, user.Name)
	if err != nil {
		return nil, err
	}

	return newInbox(entries), nil
}

func (i *inboxer) Commit(ctx context.Context, user *models.UserEntity, inbox *Inbox) error {
	ids := inbox.markedIDs()
	if len(ids) == 0 {
		return nil
	}

	tx, err := i.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	if err := i.inboxDao.Delete(ctx, tx, user.Name, ids); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.InfoContext(ctx).
		Str("user", user.Name).
		Int("messages", len(ids)).
		Msg("deleted messages from inbox")

	if err := i.cleaner.Clean(ctx); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not clean orphaned messages")
	}

	return nil
}

func (i *inboxer) Open(entry models.InboxEntry) (io.ReadCloser, error) {
	return i.blobs.Reader(entry.MessageID)
}

// Inbox is a snapshot of the messages of an inbox. Messages are marked for deletion, but only
// deleted on commit. Indices are zero based.
type Inbox struct {
	Entries    []models.InboxEntry
	marks      map[int]bool
	size       int64
	sizeMarked int64
}

func newInbox(entries []models.InboxEntry) *Inbox {
	inbox := Inbox{
		Entries: entries,
		marks:   make(map[int]bool),
	}

	for _, entry := range entries {
		inbox.size += entry.Size
	}

	return &inbox
}

// IsMarked reports whether the message at index is marked for deletion.
func (i *Inbox) IsMarked(index int) bool {
	return i.marks[index]
}

// Mark marks the message at index for deletion.
func (i *Inbox) Mark(index int) error {
	if i.marks[index] {
		return ErrAlreadyMarked
	}

	i.marks[index] = true
	i.sizeMarked += i.Entries[index].Size

	return nil
}

// Reset removes all marks.
func (i *Inbox) Reset() {
	i.marks = make(map[int]bool)
	i.sizeMarked = 0
}

// Size returns the total size of all messages not marked for deletion.
func (i *Inbox) Size() int64 {
	return i.size - i.sizeMarked
}

// Count returns the number of messages not marked for deletion.
func (i *Inbox) Count() int {
	return len(i.Entries) - len(i.marks)
}

func (i *Inbox) markedIDs() []int64 {
	ids := make([]int64, 0, len(i.marks))

	for index, entry := range i.Entries {
		if i.marks[index] {
			ids = append(ids, entry.ID)
		}
	}

	return ids
}
