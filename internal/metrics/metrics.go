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

// Package metrics exposes the counters of all components to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleet_sessions_total",
			Help: "Total number of accepted connections.",
		},
		[]string{"protocol"}, // protocol: "smtp", "pop3"
	)

	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sleet_messages_received_total",
			Help: "Total number of messages accepted using smtp.",
		},
	)
)

// Delivery metrics
var (
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleet_delivery_attempts_total",
			Help: "Total number of outbound delivery attempts per group.",
		},
		[]string{"result"}, // result: "success", "partial", "failure", "giveup"
	)

	BouncesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sleet_bounces_total",
			Help: "Total number of bounce messages queued.",
		},
	)

	GroupsInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleet_groups_inflight",
			Help: "Number of outbound groups currently being delivered.",
		},
	)
)
