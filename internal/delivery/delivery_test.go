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
	"database/sql"
	"io/ioutil"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/storage"
)

const testHostname = "local.example"

type baseDeliveryTestSuite struct {
	suite.Suite

	ctx  context.Context
	conn database.Conn
	fs   afero.Fs

	userDao    database.UserDao
	messageDao database.MessageDao
	inboxDao   database.InboxDao
	outboxDao  database.OutboxDao
	groupDao   database.GroupDao

	blobs       storage.Blobs
	addressbook Addressbook
	cleaner     Cleaner
	mailman     Mailman
}

func (s *baseDeliveryTestSuite) SetupTest() {
	conn, err := database.OpenConnection(database.ConnOptions{
		Filename:    ":memory:",
		JournalMode: "memory",
	})
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.conn = conn
	s.fs = afero.NewMemMapFs()

	s.userDao = database.NewUserDao()
	s.messageDao = database.NewMessageDao()
	s.inboxDao = database.NewInboxDao()
	s.outboxDao = database.NewOutboxDao()
	s.groupDao = database.NewGroupDao()

	blobs, err := storage.NewBlobs(s.fs, crypto.NewIDGenerator(), storage.BlobsOptions{Foldername: "/blobs"})
	s.Require().NoError(err)

	s.blobs = blobs
	s.addressbook = NewAddressbook(conn, s.userDao, AddressbookOptions{
		Hostname:   testHostname,
		Postmaster: "alice",
	})
	s.cleaner = NewCleaner(conn, s.messageDao, blobs)
	s.mailman = NewMailman(conn, s.messageDao, s.inboxDao, s.groupDao, blobs, s.addressbook)
}

func (s *baseDeliveryTestSuite) TearDownTest() {
	s.Require().NoError(s.conn.Close())
}

func (s *baseDeliveryTestSuite) createUser(name, fullName, pass, apopSecret string) *models.UserEntity {
	user := models.UserEntity{
		Name:       name,
		FullName:   sql.NullString{String: fullName, Valid: fullName != ""},
		APOPSecret: sql.NullString{String: apopSecret, Valid: apopSecret != ""},
	}

	s.Require().NoError(crypto.Hash(&user, []byte(pass)))
	s.Require().NoError(s.userDao.Insert(s.ctx, s.conn, &user))

	return &user
}

func (s *baseDeliveryTestSuite) mustParse(raw string) models.Address {
	addr, err := models.Parse(raw)
	s.Require().NoError(err)
	return addr
}

func (s *baseDeliveryTestSuite) envelope(from string, to ...string) models.Envelope {
	envelope := models.Envelope{
		Helo: "client.example",
		Date: time.Unix(1600000000, 0),
	}

	if from != "" {
		envelope.From = s.mustParse(from)
	}

	for _, raw := range to {
		envelope.To = append(envelope.To, s.mustParse(raw))
	}

	return envelope
}

func (s *baseDeliveryTestSuite) message(raw string) *mails.Message {
	msg, err := mails.Parse(strings.NewReader(raw))
	s.Require().NoError(err)
	return msg
}

func (s *baseDeliveryTestSuite) readBlob(id string) string {
	r, err := s.blobs.Reader(id)
	s.Require().NoError(err)

	defer r.Close()

	b, err := ioutil.ReadAll(r)
	s.Require().NoError(err)

	return string(b)
}

func (s *baseDeliveryTestSuite) count(table string) int {
	var n int
	s.Require().NoError(sqlx.GetContext(s.ctx, s.conn, &n, `select count(*) from "`+table+`" ;`))
	return n
}

func (s *baseDeliveryTestSuite) groups() []models.OutboundGroupEntity {
	var groups []models.OutboundGroupEntity
	s.Require().NoError(sqlx.SelectContext(s.ctx, s.conn, &groups, `select * from "outbound_groups" order by "id" ;`))
	return groups
}

func (s *baseDeliveryTestSuite) inbox(user string) []models.InboxEntry {
	entries, err := s.inboxDao.FindByUser(s.ctx, s.conn, user)
	s.Require().NoError(err)
	return entries
}
