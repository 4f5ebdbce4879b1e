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

package hook

import (
	"context"
	"fmt"
	"net"

	"github.com/zaccone/spf"

	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
)

type checkHostFunc func(ip net.IP, domain, sender string) (spf.Result, string, error)

func makeSpfHook() FromHook {
	log.Info().Msg("registering spf hook")
	return newSpfHook(spf.CheckHost)
}

func newSpfHook(checkHost checkHostFunc) FromHook {
	return func(ctx context.Context, relay bool, ip net.IP, from models.Address) (*Result, error) {
		if relay || from.IsZero() {
			return &Result{}, nil
		}

		result, _, err := checkHost(ip, from.Domain(), from.String())
		if err != nil {
			log.InfoContext(ctx).
				Stringer("from", from).
				Err(err).
				Msg("could not check spf")
		} else {
			log.DebugContext(ctx).
				Stringer("from", from).
				Stringer("result", result).
				Msg("spf result")
		}

		if result == spf.Fail {
			return &Result{
				Reject: true,
				Code:   550,
				Text:   "SPF check failed",
			}, nil
		}

		return &Result{
			Headers: []HeaderField{
				{
					Key: "Received-SPF",
					Value: fmt.Sprintf(
						"%s (domain of %s) client-ip=%s;",
						result, from, ip),
				},
			},
		}, nil
	}
}
