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

// OutboxDao is a data access object for the archive of delivered outbound messages.
type OutboxDao interface {
	// Insert archives a successful delivery.
	Insert(context.Context, Queryer, *models.OutboxEntity) error
}

// outboxDao is the sqlite implementation of OutboxDao.
type outboxDao struct{}

// NewOutboxDao creates a new OutboxDao.
func NewOutboxDao() OutboxDao {
	return outboxDao{}
}

func (outboxDao) Insert(ctx context.Context, q Queryer, entry *models.OutboxEntity) error {
	const query = `
		insert into "outbox" (
			"message_id" ,
			"host" ,
			"recipients" ,
			"sent_at"
		) values (
			:message_id ,
			:host ,
			:recipients ,
			:sent_at
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
