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

//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/delivery"
	"github.com/lukasdietrich/sleet/internal/dns"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/pop3"
	"github.com/lukasdietrich/sleet/internal/smtp"
	"github.com/lukasdietrich/sleet/internal/storage"
)

var wireSet = wire.NewSet(
	wire.Struct(new(startCommand), "*"),
	wire.Struct(new(userCommand), "*"),
	wire.Struct(new(sendCommand), "*"),

	crypto.WireSet,
	database.WireSet,
	storage.WireSet,
	dns.WireSet,
	delivery.WireSet,
	smtp.WireSet,
	pop3.WireSet,
	metrics.WireSet,
)

func newStartCommand() (*startCommand, error) {
	panic(wire.Build(wireSet))
}

func newUserCommand() (*userCommand, error) {
	panic(wire.Build(wireSet))
}

func newSendCommand() (*sendCommand, error) {
	panic(wire.Build(wireSet))
}
