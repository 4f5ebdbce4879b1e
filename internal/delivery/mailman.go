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
	"strings"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/storage"
)

// Mailman handles the delivery of local mails into inboxes as well as queuing outbound
// delivery.
type Mailman interface {
	// Deliver stores the message and distributes it to all recipients of the envelope. Local
	// recipients get an inbox entry. Remote recipients are grouped by domain and queued for
	// outbound delivery. The returned id is the id of the stored message.
	Deliver(context.Context, models.Envelope, *mails.Message) (string, error)
	// DeliverTx is the same as Deliver, but runs inside of an existing transaction. The blob is
	// written immediately. It is up to the caller to delete it, if the transaction is rolled
	// back.
	DeliverTx(context.Context, database.Tx, models.Envelope, *mails.Message) (string, error)
}

type mailman struct {
	conn        database.Conn
	messageDao  database.MessageDao
	inboxDao    database.InboxDao
	groupDao    database.GroupDao
	blobs       storage.Blobs
	addressbook Addressbook
}

// NewMailman creates a new Mailman.
func NewMailman(
	conn database.Conn,
	messageDao database.MessageDao,
	inboxDao database.InboxDao,
	groupDao database.GroupDao,
	blobs storage.Blobs,
	addressbook Addressbook,
) Mailman {
	return &mailman{
		conn:        conn,
		messageDao:  messageDao,
		inboxDao:    inboxDao,
		groupDao:    groupDao,
		blobs:       blobs,
		addressbook: addressbook,
	}
}

func (m *mailman) Deliver(ctx context.Context, envelope models.Envelope, msg *mails.Message) (string, error) {
	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return "", err
	}

	var id string
	defer tx.RollbackWith(func() { m.rollbackBlob(ctx, id) })

	id, err = m.DeliverTx(ctx, tx, envelope, msg)
	if err != nil {
		return "", err
	}

	return id, tx.Commit()
}

// rollbackBlob is used to rollback the message blob, if an error occurs during delivery.
// Errors are logged but not returned, so the original cause of the rollback is not shadowed.
func (m *mailman) rollbackBlob(ctx context.Context, id string) {
	if id == "" {
		return
	}

	log.InfoContext(ctx).
		Str("message", id).
		Msg("an error occurred during delivery, rolling back")

	if err := m.blobs.Delete(ctx, id); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Str("message", id).
			Msg("could not delete blob")
	}
}

func (m *mailman) DeliverTx(
	ctx context.Context,
	tx database.Tx,
	envelope models.Envelope,
	msg *mails.Message,
) (string, error) {
	r := msg.Reader()
	defer r.Close()

	id, size, err := m.blobs.Write(ctx, r)
	if err != nil {
		return "", err
	}

	message := models.MessageEntity{
		ID:         id,
		Sender:     envelope.From,
		Recipients: envelope.To,
		Size:       size,
		ReceivedAt: envelope.Date.Unix(),
	}

	log.InfoContext(ctx).
		Str("message", id).
		Int("recipients", len(envelope.To)).
		Msg("delivering message")

	if err := m.messageDao.Insert(ctx, tx, &message); err != nil {
		return id, err
	}

	groups := newGroupBuilder(id)

	for _, to := range envelope.To {
		if err := m.deliverToRecipient(ctx, tx, groups, to, &message); err != nil {
			return id, err
		}
	}

	for _, group := range groups.groups {
		log.DebugContext(ctx).
			Str("message", id).
			Str("host", group.Host).
			Int("recipients", len(group.Recipients)).
			Msg("queueing for outbound delivery")

		if err := m.groupDao.Insert(ctx, tx, group); err != nil {
			return id, err
		}
	}

	return id, nil
}

// deliverToRecipient determines if a recipient is local or not and acts accordingly. If local
// delivery fails because of a unique constraint, no error is returned. This happens when
// multiple addresses point to the same inbox, in which case duplicate entries are avoided.
func (m *mailman) deliverToRecipient(
	ctx context.Context,
	tx database.Tx,
	groups *groupBuilder,
	to models.Address,
	message *models.MessageEntity,
) error {
	result, err := m.addressbook.LookupTx(ctx, tx, to)
	if err != nil {
		return err
	}

	switch {
	case result.User != nil:
		log.DebugContext(ctx).
			Str("message", message.ID).
			Str("user", result.User.Name).
			Msg("adding message to inbox")

		entry := models.InboxEntity{
			UserName:  result.User.Name,
			MessageID: message.ID,
		}

		if err := m.inboxDao.Insert(ctx, tx, &entry); err != nil && !database.IsErrUnique(err) {
			return err
		}

	case !result.IsLocal:
		groups.add(to)

	default:
		log.WarnContext(ctx).
			Str("message", message.ID).
			Stringer("recipient", to).
			Msg("skipping unknown local recipient")
	}

	return nil
}

// groupBuilder collects remote recipients by domain, keeping the order of first appearance.
type groupBuilder struct {
	messageID string
	groups    []*models.OutboundGroupEntity
	byHost    map[string]*models.OutboundGroupEntity
}

func newGroupBuilder(messageID string) *groupBuilder {
	return &groupBuilder{
		messageID: messageID,
		byHost:    make(map[string]*models.OutboundGroupEntity),
	}
}

func (g *groupBuilder) add(to models.Address) {
	host, err := models.DomainToASCII(to.Domain())
	if err != nil {
		host = to.Domain()
	}

	host = strings.ToLower(host)

	group, ok := g.byHost[host]
	if !ok {
		group = &models.OutboundGroupEntity{
			MessageID: g.messageID,
			Host:      host,
		}

		g.byHost[host] = group
		g.groups = append(g.groups, group)
	}

	group.Recipients = append(group.Recipients, to)
}
