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

// Package dns resolves the mail servers of remote domains.
package dns

import (
	"context"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/models"
)

const resolvConf = "/etc/resolv.conf"

func init() {
	viper.SetDefault("dns.nameserver", "")
	viper.SetDefault("dns.timeout", "10s")
	viper.SetDefault("dns.cache.ttl", "10m")
}

// ResolverOptions configure the nameserver and the cache of a Resolver.
type ResolverOptions struct {
	// Nameserver is the address of the recursive nameserver. If empty, the first nameserver of
	// /etc/resolv.conf is used.
	Nameserver string
	Timeout    time.Duration
	// CacheTTL is the upper bound for the time a record is cached.
	CacheTTL time.Duration
}

// ResolverOptionsFromViper reads the resolver options from viper.
func ResolverOptionsFromViper() ResolverOptions {
	return ResolverOptions{
		Nameserver: viper.GetString("dns.nameserver"),
		Timeout:    viper.GetDuration("dns.timeout"),
		CacheTTL:   viper.GetDuration("dns.cache.ttl"),
	}
}

// Resolver looks up dns records needed for mail delivery.
type Resolver interface {
	// LookupMX returns the hosts accepting mail for a domain, ordered by preference. Hosts of
	// equal preference are ordered randomly. If the domain has no mx records, or the lookup
	// fails, the domain itself is returned as the only host. A domain with a null mx record
	// (RFC#7505) has no hosts.
	LookupMX(ctx context.Context, domain string) []string
	// LookupIP returns the ipv4 addresses of a host followed by its ipv6 addresses. A host,
	// that does not exist, has no addresses and is not an error.
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type resolver struct {
	client     *dns.Client
	nameserver string
	cache      *ristretto.Cache
	cacheTTL   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a new caching Resolver.
func NewResolver(opts ResolverOptions) (Resolver, error) {
	nameserver := opts.Nameserver
	if nameserver == "" {
		config, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, errors.WithMessage(err, "ClientConfigFromFile")
		}

		if len(config.Servers) == 0 {
			return nil, errors.Errorf("no nameserver in %s", resolvConf)
		}

		nameserver = net.JoinHostPort(config.Servers[0], config.Port)
	}

	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "NewCache")
	}

	log.Info().
		Str("nameserver", nameserver).
		Msg("using nameserver")

	return &resolver{
		client:     &dns.Client{Timeout: opts.Timeout},
		nameserver: nameserver,
		cache:      cache,
		cacheTTL:   opts.CacheTTL,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *resolver) LookupMX(ctx context.Context, domain string) []string {
	records, err := r.lookupMX(ctx, domain)
	if err != nil {
		log.WarnContext(ctx).
			Str("domain", domain).
			Err(err).
			Msg("could not look up mx records, falling back to the domain")

		return []string{domain}
	}

	if len(records) == 0 {
		log.DebugContext(ctx).
			Str("domain", domain).
			Msg("no mx records, falling back to the domain")

		return []string{domain}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return orderMX(records, r.rng)
}

func (r *resolver) lookupMX(ctx context.Context, domain string) ([]*dns.MX, error) {
	domain, err := models.DomainToASCII(domain)
	if err != nil {
		return nil, errors.WithMessagef(err, "DomainToASCII '%s'", domain)
	}

	key := "mx:" + strings.ToLower(dns.Fqdn(domain))

	if cached, ok := r.cache.Get(key); ok {
		return cached.([]*dns.MX), nil
	}

	answer, err := r.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var (
		records []*dns.MX
		ttl     = r.cacheTTL
	)

	for _, rr := range answer {
		if mx, ok := rr.(*dns.MX); ok {
			records = append(records, mx)

			if recordTTL := time.Duration(mx.Hdr.Ttl) * time.Second; recordTTL < ttl {
				ttl = recordTTL
			}
		}
	}

	if ttl > 0 {
		r.cache.SetWithTTL(key, records, 1, ttl)
	}

	return records, nil
}

func (r *resolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	answer, err := r.query(ctx, host, dns.TypeA)
	if err != nil {
		return nil, err
	}

	var ips []net.IP

	for _, rr := range answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}

	answer, err = r.query(ctx, host, dns.TypeAAAA)
	if err != nil {
		if len(ips) > 0 {
			log.DebugContext(ctx).
				Str("host", host).
				Err(err).
				Msg("could not look up ipv6 addresses")

			return ips, nil
		}

		return nil, err
	}

	for _, rr := range answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			ips = append(ips, aaaa.AAAA)
		}
	}

	return ips, nil
}

func (r *resolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	res, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
	if err != nil {
		return nil, errors.WithMessagef(err, "Exchange '%s'", name)
	}

	switch res.Rcode {
	case dns.RcodeSuccess:
		return res.Answer, nil
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, errors.Errorf("query '%s' failed with %s", name, dns.RcodeToString[res.Rcode])
	}
}

// orderMX sorts mx records by preference and shuffles records of equal preference. The
// records are not modified. Null mx records (RFC#7505) yield no host.
func orderMX(records []*dns.MX, rng *rand.Rand) []string {
	ordered := make([]*dns.MX, len(records))
	copy(ordered, records)

	rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Preference < ordered[j].Preference
	})

	hosts := make([]string, 0, len(ordered))

	for _, mx := range ordered {
		if host := strings.TrimSuffix(mx.Mx, "."); host != "" {
			hosts = append(hosts, host)
		}
	}

	return hosts
}
