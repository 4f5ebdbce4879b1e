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
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/lukasdietrich/sleet/internal/dns"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
)

func makeDnsblHook(resolver dns.Resolver, server string) FromHook {
	log.Info().
		Str("server", server).
		Msg("registering dnsbl hook")

	server = strings.TrimSuffix(server, ".")

	return func(ctx context.Context, relay bool, ip net.IP, _ models.Address) (*Result, error) {
		if relay || ip == nil {
			return &Result{}, nil
		}

		host := formatReverseIP(ip) + server

		records, err := resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("could not look up dnsbl: %w", err)
		}

		if len(records) > 0 {
			log.InfoContext(ctx).
				Stringer("ip", ip).
				Msg("client is blacklisted")

			return &Result{
				Reject: true,
				Code:   554,
				Text:   fmt.Sprintf("Client host [%s] blocked using %s", ip, server),
			}, nil
		}

		return &Result{}, nil
	}
}

// formatReverseIP returns the ip in reverse order followed by a dot, which is the prefix of
// dnsbl queries.
func formatReverseIP(ip net.IP) string {
	if ipv4 := ip.To4(); ipv4 != nil {
		// see RFC#5782 2.1.
		return fmt.Sprintf("%d.%d.%d.%d.", ipv4[3], ipv4[2], ipv4[1], ipv4[0])
	}

	if ipv6 := ip.To16(); ipv6 != nil {
		// see RFC#5782 2.4.
		var (
			nibbles = hex.EncodeToString(ipv6)
			b       strings.Builder
		)

		for i := len(nibbles) - 1; i >= 0; i-- {
			b.WriteByte(nibbles[i])
			b.WriteByte('.')
		}

		return b.String()
	}

	return ""
}
