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

package crypto

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/lukasdietrich/sleet/internal/models"
)

// ErrNoSecret is returned when APOP is used for a user without a shared secret.
var ErrNoSecret = errors.New("crypto: user has no apop secret")

// APOPDigest computes the digest of RFC#1939 section 7, which is the lowercase hex encoded
// md5 sum of the timestamp followed by the shared secret.
func APOPDigest(timestamp, secret string) string {
	sum := md5.Sum([]byte(timestamp + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyAPOP checks if the digest sent by a client matches the shared secret of the user.
// Digests are compared case-sensitively. If the digest does not match ErrPasswordMismatch is
// returned.
func VerifyAPOP(user *models.UserEntity, timestamp, digest string) error {
	if !user.APOPSecret.Valid {
		return ErrNoSecret
	}

	expected := APOPDigest(timestamp, user.APOPSecret.String)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) != 1 {
		return ErrPasswordMismatch
	}

	return nil
}
