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

package models

import (
	"database/sql"
	"time"
)

// UserEntity is the entity for the "users" table. A user owns exactly one mailbox, which is
// addressed by the user name at the local host name.
type UserEntity struct {
	Name     string         `db:"name"`
	FullName sql.NullString `db:"full_name"`
	Hash     string         `db:"hash"`
	// APOPSecret is the shared secret used for the APOP digest. Users without a secret can
	// only authenticate using USER and PASS.
	APOPSecret sql.NullString `db:"apop_secret"`
}

// MessageEntity is the entity for the "messages" table. The raw message data is stored as a
// blob with the same id.
type MessageEntity struct {
	ID         string      `db:"id"`
	Sender     Address     `db:"sender"`
	Recipients AddressList `db:"recipients"`
	Size       int64       `db:"size"`
	ReceivedAt int64       `db:"received_at"`
}

// InboxEntity is the entity for the "inbox" table.
type InboxEntity struct {
	ID        int64  `db:"id"`
	UserName  string `db:"user_name"`
	MessageID string `db:"message_id"`
}

// InboxEntry is a single message of a mailbox listing.
type InboxEntry struct {
	ID        int64  `db:"id"`
	MessageID string `db:"message_id"`
	Size      int64  `db:"size"`
}

// OutboxEntity is the entity for the "outbox" table. It archives a successful delivery of a
// message to a remote host.
type OutboxEntity struct {
	ID         int64       `db:"id"`
	MessageID  string      `db:"message_id"`
	Host       string      `db:"host"`
	Recipients AddressList `db:"recipients"`
	SentAt     int64       `db:"sent_at"`
}

// OutboundGroupEntity is the entity for the "outbound_groups" table. A group holds all
// recipients of a single message, that share the same destination host, and is the unit of
// retry for outbound delivery.
type OutboundGroupEntity struct {
	ID           int64         `db:"id"`
	MessageID    string        `db:"message_id"`
	Host         string        `db:"host"`
	Recipients   AddressList   `db:"recipients"`
	Attempts     int           `db:"attempts"`
	FirstAttempt sql.NullInt64 `db:"first_attempt"`
	PrevAttempt  sql.NullInt64 `db:"prev_attempt"`
	Failures     StringList    `db:"failures"`
}

// RecordAttempt increments the attempt count and sets the timestamps of the group. The first
// attempt is only set once.
func (g *OutboundGroupEntity) RecordAttempt(now time.Time) {
	if g.Attempts == 0 || !g.FirstAttempt.Valid {
		g.FirstAttempt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}

	g.Attempts++
	g.PrevAttempt = sql.NullInt64{Int64: now.Unix(), Valid: true}
}

// AddFailure appends a failure message to the group.
func (g *OutboundGroupEntity) AddFailure(message string) {
	g.Failures = append(g.Failures, message)
}

// SinceFirstAttempt returns the time passed since the first attempt or zero, if the group was
// never attempted.
func (g *OutboundGroupEntity) SinceFirstAttempt(now time.Time) time.Duration {
	if g.Attempts == 0 || !g.FirstAttempt.Valid {
		return 0
	}

	return now.Sub(time.Unix(g.FirstAttempt.Int64, 0))
}
