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
	"time"

	"github.com/lukasdietrich/sleet/internal/models"
)

// transientAttempts is the number of attempts, that are retried after the short transient
// interval. Later attempts wait for the longer retry interval.
const transientAttempts = 3

// DueOptions decide, when a group is due for another attempt.
type DueOptions struct {
	Now       time.Time
	Transient time.Duration
	Retry     time.Duration
}

// GroupDao is a data access object for the outbound groups waiting for delivery.
type GroupDao interface {
	// Insert inserts a new group.
	Insert(context.Context, Queryer, *models.OutboundGroupEntity) error
	// Update updates the recipients and the attempt state of an existing group.
	Update(context.Context, Queryer, *models.OutboundGroupEntity) error
	// Delete deletes an existing group.
	Delete(context.Context, Queryer, *models.OutboundGroupEntity) error
	// FindDue returns all groups due for another attempt, sorted by host.
	FindDue(context.Context, Queryer, DueOptions) ([]models.OutboundGroupEntity, error)
}

// groupDao is the sqlite implementation of GroupDao.
type groupDao struct{}

// NewGroupDao creates a new GroupDao.
func NewGroupDao() GroupDao {
	return groupDao{}
}

func (groupDao) Insert(ctx context.Context, q Queryer, group *models.OutboundGroupEntity) error {
	const query = `
		insert into "outbound_groups" (
			"message_id" ,
			"host" ,
			"recipients" ,
			"attempts" ,
			"first_attempt" ,
			"prev_attempt" ,
			"failures"
		) values (
			:message_id ,
			:host ,
			:recipients ,
			:attempts ,
			:first_attempt ,
			:prev_attempt ,
			:failures
		) ;
	`

	if group.Failures == nil {
		group.Failures = models.StringList{}
	}

	result, err := execNamed(ctx, q, query, group)
	if err != nil {
		return err
	}

	if err := ensureRowsAffected(result); err != nil {
		return err
	}

	group.ID, err = result.LastInsertId()
	return err
}

func (groupDao) Update(ctx context.Context, q Queryer, group *models.OutboundGroupEntity) error {
	const query = `
		update "outbound_groups"
		set "recipients" = :recipients ,
			"attempts" = :attempts ,
			"first_attempt" = :first_attempt ,
			"prev_attempt" = :prev_attempt ,
			"failures" = :failures
		where "id" = :id ;
	`

	result, err := execNamed(ctx, q, query, group)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (groupDao) Delete(ctx context.Context, q Queryer, group *models.OutboundGroupEntity) error {
	const query = `
		delete from "outbound_groups"
		where "id" = :id ;
	`

	result, err := execNamed(ctx, q, query, group)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (groupDao) FindDue(
	ctx context.Context,
	q Queryer,
	opts DueOptions,
) ([]models.OutboundGroupEntity, error) {
	const query = `
		select *
		from "outbound_groups"
		where "attempts" = 0
		   or ( "attempts" < $1 and "prev_attempt" <= $2 )
		   or ( "attempts" >= $1 and "prev_attempt" <= $3 )
		order by "host" asc , "id" asc ;
	`

	var (
		groupSlice      []models.OutboundGroupEntity
		transientBefore = opts.Now.Add(-opts.Transient).Unix()
		retryBefore     = opts.Now.Add(-opts.Retry).Unix()
	)

	err := selectSlice(ctx, q, &groupSlice, query, transientAttempts, transientBefore, retryBefore)
	if err != nil {
		return nil, err
	}

	return groupSlice, nil
}
