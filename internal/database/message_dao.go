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

package database

import (
	"context"

	"github.com/lukasdietrich/sleet/internal/models"
)

// MessageDao is a data access object for all message related queries.
type MessageDao interface {
	// Insert inserts a new message. The id must be set before.
	Insert(context.Context, Queryer, *models.MessageEntity) error
	// Delete deletes an existing message together with all references.
	Delete(context.Context, Queryer, *models.MessageEntity) error
	// FindByID returns the message with the id.
	FindByID(context.Context, Queryer, string) (*models.MessageEntity, error)
	// FindOrphans returns all messages, that are neither in an inbox, nor in the outbox and
	// are not waiting for outbound delivery.
	FindOrphans(context.Context, Queryer) ([]models.MessageEntity, error)
}

// messageDao is the sqlite implementation of MessageDao.
type messageDao struct{}

// NewMessageDao creates a new MessageDao.
func NewMessageDao() MessageDao {
	return messageDao{}
}

func (messageDao) Insert(ctx context.Context, q Queryer, message *models.MessageEntity) error {
	const query = `
		insert into "messages" (
			"id" ,
			"sender" ,
			"recipients" ,
			"size" ,
			"received_at"
		) values (
			:id ,
			:sender ,
			:recipients ,
			:size ,
			:received_at
		) ;
	`

	result, err := execNamed(ctx, q, query, message)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (messageDao) Delete(ctx context.Context, q Queryer, message *models.MessageEntity) error {
	const query = `
		delete from "messages"
		where "id" = :id ;
	`

	result, err := execNamed(ctx, q, query, message)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (messageDao) FindByID(ctx context.Context, q Queryer, id string) (*models.MessageEntity, error) {
	const query = `
		select *
		from "messages"
		where "id" = $1
		limit 1 ;
	`

	var message models.MessageEntity

	if err := selectOne(ctx, q, &message, query, id); err != nil {
		return nil, err
	}

	return &message, nil
}

func (messageDao) FindOrphans(ctx context.Context, q Queryer) ([]models.MessageEntity, error) {
	const query = `
		select "messages".*
		from "messages"
		where not exists ( select 1 from "inbox" where "inbox"."message_id" = "messages"."id" )
		  and not exists ( select 1 from "outbox" where "outbox"."message_id" = "messages"."id" )
		  and not exists (
			select 1 from "outbound_groups" where "outbound_groups"."message_id" = "messages"."id"
		  )
		order by "messages"."received_at" asc ;
	`

	var messageSlice []models.MessageEntity

	if err := selectSlice(ctx, q, &messageSlice, query); err != nil {
		return nil, err
	}

	return messageSlice, nil
}
