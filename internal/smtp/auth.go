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

package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

// `AUTH` command as specified in RFC#4954
//
//     "AUTH" SP <Mechanism> [ SP <Initial-Response> ] CRLF
//
// Supported mechanisms are PLAIN (RFC#4616) and LOGIN. Authenticated users may send mail to
// other hosts.
func auth(authenticator delivery.Authenticator) handler {
	return func(ctx context.Context, s *session, c textproto.Command) error {
		if s.state != sHelo || s.user != nil {
			return errBadSequence
		}

		name, pass, err := determineNamePass(s, c)
		if err != nil {
			return err
		}

		user, err := authenticator.Login(ctx, name, pass)
		if err != nil {
			if errors.Is(err, delivery.ErrWrongUserPassword) {
				return replyError(535, "Authentication credentials invalid")
			}

			return err
		}

		log.InfoContext(ctx).
			Str("user", user.Name).
			Msg("authenticated")

		s.user = user
		return s.reply(235, "Authentication successful")
	}
}

func determineNamePass(s *session, c textproto.Command) (name, pass string, err error) {
	fields := c.Fields()
	if len(fields) == 0 || len(fields) > 2 {
		return "", "", errCommandSyntax
	}

	switch strings.ToUpper(fields[0]) {
	case "PLAIN":
		if len(fields) == 2 {
			return parsePlainAuth(fields[1])
		}

		response, err := challenge(s, "")
		if err != nil {
			return "", "", err
		}

		return parsePlainAuth(response)

	case "LOGIN":
		if len(fields) == 2 {
			return "", "", errCommandSyntax
		}

		return processLoginAuth(s)

	default:
		return "", "", replyError(504, "Unrecognized authentication type")
	}
}

func parsePlainAuth(encoded string) (name, pass string, err error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errCommandSyntax
	}

	switch fields := bytes.Split(b, []byte{0}); len(fields) {
	case 2:
		// <authentication-identity> NULLBYTE <password>
		return string(fields[0]), string(fields[1]), nil

	case 3:
		// <authorization-identity> NULLBYTE <authentication-identity> NULLBYTE <password>
		// authorization must be empty or equal to authentication

		if len(fields[0]) > 0 && !bytes.Equal(fields[0], fields[1]) {
			return "", "", errCommandSyntax
		}

		return string(fields[1]), string(fields[2]), nil

	default:
		return "", "", errCommandSyntax
	}
}

func processLoginAuth(s *session) (name, pass string, err error) {
	encodedName, err := challenge(s, "VXNlcm5hbWU6")
	if err != nil {
		return "", "", err
	}

	decodedName, err := base64.StdEncoding.DecodeString(encodedName)
	if err != nil {
		return "", "", errCommandSyntax
	}

	encodedPass, err := challenge(s, "UGFzc3dvcmQ6")
	if err != nil {
		return "", "", err
	}

	decodedPass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return "", "", errCommandSyntax
	}

	return string(decodedName), string(decodedPass), nil
}

// challenge sends a 334 continuation and reads the response line. A single "*" cancels the
// exchange.
func challenge(s *session, text string) (string, error) {
	if err := s.reply(334, text); err != nil {
		return "", err
	}

	if err := s.SetReadTimeout(s.timeout); err != nil {
		return "", err
	}

	line, err := s.ReadLine()
	if err != nil {
		return "", err
	}

	response := string(line)
	if response == "*" {
		return "", replyError(501, "Authentication cancelled")
	}

	return response, nil
}
