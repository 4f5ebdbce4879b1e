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

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/storage"
)

func TestUserCommandTestSuite(t *testing.T) {
	suite.Run(t, new(UserCommandTestSuite))
}

type UserCommandTestSuite struct {
	suite.Suite

	ctx    context.Context
	cmd    *userCommand
	output bytes.Buffer
}

func (s *UserCommandTestSuite) SetupTest() {
	conn, err := database.OpenConnection(database.ConnOptions{
		Filename:    ":memory:",
		JournalMode: "memory",
	})
	s.Require().NoError(err)

	blobs, err := storage.NewBlobs(afero.NewMemMapFs(), crypto.NewIDGenerator(), storage.BlobsOptions{
		Foldername: "/blobs",
	})
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.cmd = &userCommand{
		Conn:    conn,
		UserDao: database.NewUserDao(),
		Cleaner: delivery.NewCleaner(conn, database.NewMessageDao(), blobs),
	}

	s.output.Reset()
	stdout = &s.output
}

func (s *UserCommandTestSuite) TearDownTest() {
	s.cmd.Conn.Close()
}

// exec runs a subcommand without closing the connection.
func (s *UserCommandTestSuite) exec(input string, args ...string) error {
	stdin = strings.NewReader(input)

	switch args[0] {
	case "add":
		return s.cmd.add(s.ctx, args[1], strings.Join(args[2:], " "))
	case "passwd":
		return s.cmd.passwd(s.ctx, args[1])
	case "apop":
		return s.cmd.apop(s.ctx, args[1])
	case "rm":
		return s.cmd.remove(s.ctx, args[1])
	default:
		return s.cmd.list(s.ctx)
	}
}

func (s *UserCommandTestSuite) TestAddPasswd() {
	s.Require().NoError(s.exec("secret\n", "add", "Alice", "Alice", "Liddell"))
	s.Assert().Error(s.exec("secret\n", "add", "alice"))
	s.Assert().Error(s.exec("\n", "add", "bob"))
	s.Assert().Error(s.exec("secret\n", "add", "bob@local.example"))

	user, err := s.cmd.UserDao.FindByName(s.ctx, s.cmd.Conn, "alice")
	s.Require().NoError(err)
	s.Assert().Equal("Alice Liddell", user.FullName.String)
	s.Assert().NoError(crypto.Verify(user, []byte("secret")))

	s.Require().NoError(s.exec("changed\n", "passwd", "alice"))
	s.Assert().Error(s.exec("changed\n", "passwd", "nobody"))

	user, err = s.cmd.UserDao.FindByName(s.ctx, s.cmd.Conn, "alice")
	s.Require().NoError(err)
	s.Assert().NoError(crypto.Verify(user, []byte("changed")))
}

func (s *UserCommandTestSuite) TestAPOP() {
	s.Require().NoError(s.exec("secret\n", "add", "alice"))
	s.Require().NoError(s.exec("tanstaaf\n", "apop", "alice"))

	user, err := s.cmd.UserDao.FindByName(s.ctx, s.cmd.Conn, "alice")
	s.Require().NoError(err)
	s.Assert().Equal("tanstaaf", user.APOPSecret.String)

	s.Require().NoError(s.exec("", "apop", "alice"))

	user, err = s.cmd.UserDao.FindByName(s.ctx, s.cmd.Conn, "alice")
	s.Require().NoError(err)
	s.Assert().False(user.APOPSecret.Valid)
}

func (s *UserCommandTestSuite) TestRemoveList() {
	s.Require().NoError(s.exec("secret\n", "add", "alice", "Alice"))
	s.Require().NoError(s.exec("secret\n", "add", "bob"))
	s.Require().NoError(s.exec("", "rm", "bob"))
	s.Assert().Error(s.exec("", "rm", "bob"))

	s.Require().NoError(s.exec("", "ls"))
	s.Assert().Equal(
		"NAME   FULL NAME  APOP\n"+
			"alice  Alice      false\n",
		s.output.String())
}

func (s *UserCommandTestSuite) TestRunUsage() {
	cmd := *s.cmd
	cmd.Conn = nopCloseConn{s.cmd.Conn}

	s.Assert().ErrorIs(cmd.run(s.ctx, nil), errUsage)
	s.Assert().ErrorIs(cmd.run(s.ctx, []string{"passwd"}), errUsage)
	s.Assert().ErrorIs(cmd.run(s.ctx, []string{"ls", "extra"}), errUsage)
}

type nopCloseConn struct {
	database.Conn
}

func (nopCloseConn) Close() error {
	return nil
}
