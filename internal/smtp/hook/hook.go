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

// Package hook contains checks, that run when a client announces the sender of a mail.
package hook

import (
	"context"
	"net"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/dns"
	"github.com/lukasdietrich/sleet/internal/models"
)

func init() {
	viper.SetDefault("hook.spf.enable", true)

	viper.SetDefault("hook.dnsbl.enable", false)
	viper.SetDefault("hook.dnsbl.server", "zen.spamhaus.org")
}

// Options enable the available hooks.
type Options struct {
	SPF         bool
	DNSBL       bool
	DNSBLServer string
}

// OptionsFromViper reads the hook options from viper.
func OptionsFromViper() Options {
	return Options{
		SPF:         viper.GetBool("hook.spf.enable"),
		DNSBL:       viper.GetBool("hook.dnsbl.enable"),
		DNSBLServer: viper.GetString("hook.dnsbl.server"),
	}
}

// HeaderField is a single header to be prepended to an incoming mail.
type HeaderField struct {
	Key   string
	Value string
}

// Result is the verdict of a hook.
type Result struct {
	// Reject indicates if the mail should not be accepted for delivery.
	Reject bool
	// Headers is a list of headers to be prepended to incoming mail, if it is not rejected.
	Headers []HeaderField
	// Code is the smtp reply code used on rejection.
	Code int
	// Text is the smtp reply text used on rejection.
	Text string
}

// FromHook is called for every MAIL command. relay is true for clients, that may send mail to
// other hosts. Those are trusted and usually skipped by hooks.
type FromHook func(ctx context.Context, relay bool, ip net.IP, from models.Address) (*Result, error)

// FromHooks creates all enabled FromHook implementations in a fixed order.
func FromHooks(opts Options, resolver dns.Resolver) []FromHook {
	var hooks []FromHook

	if opts.SPF {
		hooks = append(hooks, makeSpfHook())
	}

	if opts.DNSBL {
		hooks = append(hooks, makeDnsblHook(resolver, opts.DNSBLServer))
	}

	return hooks
}
