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

	"github.com/jmoiron/sqlx"

	"github.com/lukasdietrich/sleet/internal/models"
)

// InboxDao is a data access object for the messages delivered to local users.
type InboxDao interface {
	// Insert inserts a message into the inbox of a user.
	Insert(context.Context, Queryer, *models.InboxEntity) error
	// FindByUser returns all inbox entries of a user in the order of delivery.
	FindByUser(context.Context, Queryer, string) ([]models.InboxEntry, error)
	// Delete removes the entries with the ids from the inbox of a user.
	Delete(context.Context, Queryer, string, []int64) error
}

// inboxDao is the sqlite implementation of InboxDao.
type inboxDao struct{}

// NewInboxDao creates a new InboxDao.
func NewInboxDao() InboxDao {
	return inboxDao{}
}

func (inboxDao) Insert(ctx context.Context, q Queryer, entry *models.InboxEntity) error {
	const query = `
		insert into "inbox" (
			"user_name" ,
			"message_id"
		) values (
			:user_name ,
			:message_id
		) ;
	`

	result, err := execNamed(ctx, q, query, entry)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	entry.ID, err = result.LastInsertId()
	return err
}

func (inboxDao) FindByUser(ctx context.Context, q Queryer, userName string) ([]models.InboxEntry, error) {
	const query = `
		select "inbox"."id" , "inbox"."message_id" , "messages"."size"
		from "inbox"
			inner join "messages" on "messages"."id" = "inbox"."message_id"
		where "inbox"."user_name" = $1
		order by "inbox"."id" asc ;
	`

	var entrySlice []models.InboxEntry

	if err := selectSlice(ctx, q, &entrySlice, query, userName); err != nil {
		return nil, err
	}

	return entrySlice, nil
}

func (inboxDao) Delete(ctx context.Context, q Queryer, userName string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	const deleteQuery = `
		delete from "inbox"
		where "user_name" = ?
		  and "id" in ( ? ) ;
	`

	query, args, err := sqlx.In(deleteQuery, userName, ids)
	if err != nil {
		return err
	}

	result, err := execPositional(ctx, q, q.Rebind(query), args...)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}
