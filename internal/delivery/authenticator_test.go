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
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/sleet/internal/crypto"
)

func TestAuthenticatorOptionsFromViper(t *testing.T) {
	viper.Set("security.auth.minduration", "3s")

	expected := AuthenticatorOptions{MinDuration: 3 * time.Second}
	assert.Equal(t, expected, AuthenticatorOptionsFromViper())
}

func TestAuthenticatorTestSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorTestSuite))
}

type AuthenticatorTestSuite struct {
	baseDeliveryTestSuite

	authenticator Authenticator
}

func (s *AuthenticatorTestSuite) SetupTest() {
	s.baseDeliveryTestSuite.SetupTest()

	s.createUser("alice", "", "wonderland", "tanstaaf")
	s.createUser("bob", "", "builder", "")

	s.authenticator = NewAuthenticator(s.conn, s.userDao, AuthenticatorOptions{})
}

func (s *AuthenticatorTestSuite) TestLogin() {
	user, err := s.authenticator.Login(s.ctx, "Alice", "wonderland")
	s.Require().NoError(err)
	s.Require().NotNil(user)
	s.Assert().Equal("alice", user.Name)
}

func (s *AuthenticatorTestSuite) TestLoginWrongPassword() {
	user, err := s.authenticator.Login(s.ctx, "alice", "builder")
	s.Assert().ErrorIs(err, ErrWrongUserPassword)
	s.Assert().Nil(user)
}

func (s *AuthenticatorTestSuite) TestLoginUnknownUser() {
	user, err := s.authenticator.Login(s.ctx, "carol", "wonderland")
	s.Assert().ErrorIs(err, ErrWrongUserPassword)
	s.Assert().Nil(user)
}

func (s *AuthenticatorTestSuite) TestAPOP() {
	timestamp := "<1896.697170952@local.example>"

	user, err := s.authenticator.APOP(s.ctx, "alice", timestamp, crypto.APOPDigest(timestamp, "tanstaaf"))
	s.Require().NoError(err)
	s.Assert().Equal("alice", user.Name)

	_, err = s.authenticator.APOP(s.ctx, "alice", timestamp, crypto.APOPDigest(timestamp, "wrong"))
	s.Assert().ErrorIs(err, ErrWrongUserPassword)
}

func (s *AuthenticatorTestSuite) TestAPOPWithoutSecret() {
	timestamp := "<1896.697170952@local.example>"

	_, err := s.authenticator.APOP(s.ctx, "bob", timestamp, crypto.APOPDigest(timestamp, ""))
	s.Assert().ErrorIs(err, ErrWrongUserPassword)
}

func (s *AuthenticatorTestSuite) TestMinDuration() {
	authenticator := NewAuthenticator(s.conn, s.userDao, AuthenticatorOptions{
		MinDuration: 200 * time.Millisecond,
	})

	start := time.Now()
	_, err := authenticator.Login(s.ctx, "carol", "wonderland")
	elapsed := time.Since(start)

	s.Assert().ErrorIs(err, ErrWrongUserPassword)
	s.Assert().GreaterOrEqual(int64(elapsed), int64(200*time.Millisecond))
}
