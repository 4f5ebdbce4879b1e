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
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/sleet/internal/models"
)

func TestGroupDaoTestSuite(t *testing.T) {
	suite.Run(t, new(GroupDaoTestSuite))
}

type GroupDaoTestSuite struct {
	baseDatabaseTestSuite

	groupDao  GroupDao
	outboxDao OutboxDao
}

func (s *GroupDaoTestSuite) SetupSuite() {
	s.groupDao = NewGroupDao()
	s.outboxDao = NewOutboxDao()
}

func (s *GroupDaoTestSuite) TestInsertAndUpdate() {
	s.insertFixtures()

	group := models.OutboundGroupEntity{
		MessageID:  "msg-1",
		Host:       "remote.example",
		Recipients: models.AddressList{s.mustParseAddress("x@remote.example")},
	}

	s.Require().NoError(s.groupDao.Insert(s.ctx, s.conn, &group))
	s.Assert().NotZero(group.ID)

	s.assertQuery(
		`
			select "host", "recipients", "attempts",
				coalesce( "first_attempt", 'null' ), coalesce( "prev_attempt", 'null' ), "failures"
			from "outbound_groups" ;
		`,
		[]string{"remote.example", `["x@remote.example"]`, "0", "null", "null", "[]"})

	group.RecordAttempt(time.Unix(100, 0))
	group.AddFailure("connection refused")
	group.RecordAttempt(time.Unix(200, 0))

	s.Require().NoError(s.groupDao.Update(s.ctx, s.conn, &group))

	s.assertQuery(
		`
			select "attempts", "first_attempt", "prev_attempt", "failures"
			from "outbound_groups" ;
		`,
		[]string{"2", "100", "200", `["connection refused"]`})
}

func (s *GroupDaoTestSuite) TestDelete() {
	s.insertFixtures()
	s.requireExec(
		`
			insert into "outbound_groups" ( "id", "message_id", "host", "recipients" )
			values ( 7, 'msg-1', 'remote.example', '[]' ) ;
		`)

	group := models.OutboundGroupEntity{ID: 7}
	s.Require().NoError(s.groupDao.Delete(s.ctx, s.conn, &group))
	s.Assert().True(IsErrNoRows(s.groupDao.Delete(s.ctx, s.conn, &group)))
}

func (s *GroupDaoTestSuite) TestFindDue() {
	s.insertFixtures()
	s.requireExec(
		`
			insert into "outbound_groups"
				( "id", "message_id", "host", "recipients", "attempts", "first_attempt", "prev_attempt" )
			values
				( 1, 'msg-1', 'b.example', '[]', 0, null, null ) ,
				( 2, 'msg-1', 'a.example', '[]', 1, 0, 9000 ) ,
				( 3, 'msg-2', 'a.example', '[]', 2, 0, 8000 ) ,
				( 4, 'msg-2', 'c.example', '[]', 3, 0, 8000 ) ,
				( 5, 'msg-3', 'c.example', '[]', 5, 0, 5000 ) ;
		`)

	groups, err := s.groupDao.FindDue(s.ctx, s.conn, DueOptions{
		Now:       time.Unix(10000, 0),
		Transient: 30 * time.Minute,
		Retry:     60 * time.Minute,
	})
	s.Require().NoError(err)

	var ids []int64
	for _, group := range groups {
		ids = append(ids, group.ID)
	}

	// 2 is within the transient interval, 4 is within the retry interval.
	s.Assert().Equal([]int64{3, 1, 5}, ids)
	s.Assert().Equal(sql.NullInt64{Int64: 5000, Valid: true}, groups[2].PrevAttempt)
}

func (s *GroupDaoTestSuite) TestOutboxInsert() {
	s.insertFixtures()

	entry := models.OutboxEntity{
		MessageID:  "msg-1",
		Host:       "remote.example",
		Recipients: models.AddressList{s.mustParseAddress("x@remote.example")},
		SentAt:     4242,
	}

	s.Require().NoError(s.outboxDao.Insert(s.ctx, s.conn, &entry))
	s.Assert().NotZero(entry.ID)

	s.assertQuery(
		`
			select "message_id", "host", "recipients", "sent_at"
			from "outbox" ;
		`,
		[]string{"msg-1", "remote.example", `["x@remote.example"]`, "4242"})
}
