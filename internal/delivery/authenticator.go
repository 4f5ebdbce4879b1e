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
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
)

var (
	// ErrWrongUserPassword is returned when a user either does not exist or the password does
	// not match the hash.
	ErrWrongUserPassword = errors.New("wrong user or password combination")
)

func init() {
	viper.SetDefault("security.auth.minduration", "5s")
}

// AuthenticatorOptions configure the authentication of users.
type AuthenticatorOptions struct {
	// MinDuration is the minimum duration of every authentication attempt, so that
	// failed attempts cannot be told apart by timing and brute forcing is slowed down.
	MinDuration time.Duration
}

// AuthenticatorOptionsFromViper reads the authenticator options from viper.
func AuthenticatorOptionsFromViper() AuthenticatorOptions {
	return AuthenticatorOptions{
		MinDuration: viper.GetDuration("security.auth.minduration"),
	}
}

// Authenticator is for authentication of users based on their names.
type Authenticator interface {
	// Login checks the password of a user. If the user does not exist, or the password does not
	// match the stored hash, ErrWrongUserPassword is returned. Database errors may occur.
	Login(ctx context.Context, name, pass string) (*models.UserEntity, error)
	// APOP checks the digest of the timestamp and the shared secret of a user. Errors are the
	// same as for Login.
	APOP(ctx context.Context, name, timestamp, digest string) (*models.UserEntity, error)
}

type authenticator struct {
	conn    database.Conn
	userDao database.UserDao
	opts    AuthenticatorOptions
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(conn database.Conn, userDao database.UserDao, opts AuthenticatorOptions) Authenticator {
	return &authenticator{
		conn:    conn,
		userDao: userDao,
		opts:    opts,
	}
}

func (a *authenticator) Login(ctx context.Context, name, pass string) (*models.UserEntity, error) {
	return a.auth(ctx, name, func(user *models.UserEntity) error {
		return crypto.Verify(user, []byte(pass))
	})
}

func (a *authenticator) APOP(ctx context.Context, name, timestamp, digest string) (*models.UserEntity, error) {
	return a.auth(ctx, name, func(user *models.UserEntity) error {
		return crypto.VerifyAPOP(user, timestamp, digest)
	})
}

func (a *authenticator) auth(
	ctx context.Context,
	name string,
	verify func(*models.UserEntity) error,
) (*models.UserEntity, error) {
	startTime := time.Now()
	defer a.ensureMinDuration(startTime)

	user, err := a.userDao.FindByName(ctx, a.conn, models.NormalizeLocalPart(name))
	if err != nil {
		if database.IsErrNoRows(err) {
			log.WarnContext(ctx).
				Str("name", name).
				Msg("failed auth attempt: unknown user")

			return nil, ErrWrongUserPassword
		}

		return nil, err
	}

	if err := verify(user); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) || errors.Is(err, crypto.ErrNoSecret) {
			log.WarnContext(ctx).
				Str("name", name).
				Msg("failed auth attempt: wrong password")

			return nil, ErrWrongUserPassword
		}

		return nil, err
	}

	return user, nil
}

func (a *authenticator) ensureMinDuration(start time.Time) {
	elapsed := time.Since(start)
	remaining := a.opts.MinDuration - elapsed

	if remaining > 0 {
		time.Sleep(remaining)
	}
}
