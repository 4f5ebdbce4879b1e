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
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lukasdietrich/sleet/internal/models"
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) LookupMX(ctx context.Context, domain string) []string {
	args := m.Called(ctx, domain)
	return args.Get(0).([]string)
}

func (m *mockResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	args := m.Called(ctx, host)
	return args.Get(0).([]net.IP), args.Error(1)
}

func TestFormatReverseIP(t *testing.T) {
	for ip, expected := range map[string]string{
		"192.0.2.99":                "99.2.0.192.",
		"111.122.133.144":           "144.133.122.111.",
		"2001:db8:1:2:3:4:567:89ab": "b.a.9.8.7.6.5.0.4.0.0.0.3.0.0.0.2.0.0.0.1.0.0.0.8.b.d.0.1.0.0.2.",
	} {
		t.Run(ip, func(t *testing.T) {
			actual := formatReverseIP(net.ParseIP(ip))
			assert.Equal(t, expected, actual)
		})
	}
}

func TestDnsblHook(t *testing.T) {
	var (
		ctx      = context.Background()
		resolver = new(mockResolver)
		hook     = makeDnsblHook(resolver, "dnsbl.example.")
	)

	resolver.
		On("LookupIP", ctx, "2.0.0.127.dnsbl.example").
		Return([]net.IP{net.IPv4(127, 0, 0, 2)}, nil)
	resolver.
		On("LookupIP", ctx, "1.0.0.127.dnsbl.example").
		Return([]net.IP(nil), nil)
	resolver.
		On("LookupIP", ctx, "3.0.0.127.dnsbl.example").
		Return([]net.IP(nil), errors.New("timeout"))

	t.Run("Listed", func(t *testing.T) {
		result, err := hook(ctx, false, net.ParseIP("127.0.0.2"), models.ZeroAddress)
		require.NoError(t, err)
		assert.True(t, result.Reject)
		assert.Equal(t, 554, result.Code)
	})

	t.Run("NotListed", func(t *testing.T) {
		result, err := hook(ctx, false, net.ParseIP("127.0.0.1"), models.ZeroAddress)
		require.NoError(t, err)
		assert.False(t, result.Reject)
	})

	t.Run("LookupError", func(t *testing.T) {
		_, err := hook(ctx, false, net.ParseIP("127.0.0.3"), models.ZeroAddress)
		assert.Error(t, err)
	})

	t.Run("Relay", func(t *testing.T) {
		result, err := hook(ctx, true, net.ParseIP("127.0.0.2"), models.ZeroAddress)
		require.NoError(t, err)
		assert.False(t, result.Reject)
	})

	resolver.AssertNumberOfCalls(t, "LookupIP", 3)
}
