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

package delivery

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/sleet/internal/mails"
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

func TestSenderOptionsFromViper(t *testing.T) {
	viper.Set("general.hostname", "mail.example.com")
	viper.Set("delivery.errorsender", "")
	viper.Set("delivery.port", 2525)

	opts, err := SenderOptionsFromViper()
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", opts.Hostname)
	assert.Equal(t, "postmaster@mail.example.com", opts.ErrorSender.String())
	assert.Equal(t, 10*time.Second, opts.Heartbeat)
	assert.Equal(t, 30*time.Minute, opts.Transient)
	assert.Equal(t, 60*time.Minute, opts.Retry)
	assert.Equal(t, 120*time.Hour, opts.GiveUp)
	assert.Equal(t, 2525, opts.Port)

	viper.Set("delivery.errorsender", "invalid")

	_, err = SenderOptionsFromViper()
	assert.Error(t, err)
}

func TestGroupByHost(t *testing.T) {
	groups := []models.OutboundGroupEntity{
		{ID: 1, Host: "a.example"},
		{ID: 2, Host: "a.example"},
		{ID: 3, Host: "b.example"},
		{ID: 4, Host: "c.example"},
		{ID: 5, Host: "c.example"},
	}

	runs := groupByHost(groups)

	require.Len(t, runs, 3)
	assert.Len(t, runs[0], 2)
	assert.Len(t, runs[1], 1)
	assert.Len(t, runs[2], 2)
	assert.Empty(t, groupByHost(nil))
}

func TestInflightSet(t *testing.T) {
	set := newInflightSet()

	claimed := set.claim([]models.OutboundGroupEntity{{ID: 1}, {ID: 2}})
	assert.Len(t, claimed, 2)

	claimed = set.claim([]models.OutboundGroupEntity{{ID: 2}, {ID: 3}})
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(3), claimed[0].ID)
	assert.Equal(t, 3, set.len())

	set.release(1)
	set.release(2)
	set.release(3)
	assert.Equal(t, 0, set.len())
}

func TestInflightSetConcurrentClaims(t *testing.T) {
	const (
		workers = 8
		total   = 200
	)

	var (
		set     = newInflightSet()
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int64]int)
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func(offset int) {
			defer wg.Done()

			// every worker sees all groups, starting at a different position
			groups := make([]models.OutboundGroupEntity, total)
			for i := range groups {
				groups[i].ID = int64((i+offset)%total + 1)
			}

			own, err := set.claimDue(func() ([]models.OutboundGroupEntity, error) {
				return groups, nil
			})
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()

			for _, group := range own {
				claimed[group.ID]++
			}
		}(w * total / workers)
	}

	wg.Wait()

	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "group %d claimed %d times", id, n)
	}

	_, err := set.claimDue(func() ([]models.OutboundGroupEntity, error) {
		return nil, errors.New("broken")
	})
	assert.Error(t, err)
	assert.Equal(t, total, set.len())
}

func TestSenderTestSuite(t *testing.T) {
	suite.Run(t, new(SenderTestSuite))
}

type SenderTestSuite struct {
	baseDeliveryTestSuite

	server   *fakeServer
	resolver *mockResolver
	sender   *Sender
	now      time.Time
}

func (s *SenderTestSuite) SetupTest() {
	s.baseDeliveryTestSuite.SetupTest()

	s.createUser("alice", "", "secret", "")

	s.server = newFakeServer()
	s.resolver = new(mockResolver)
	s.now = time.Unix(1600000000, 0)

	s.resolver.
		On("LookupMX", mock.Anything, "remote.example").
		Return([]string{"mx.remote.example"})
	s.resolver.
		On("LookupIP", mock.Anything, "mx.remote.example").
		Return([]net.IP{net.IPv4(127, 0, 0, 1)}, nil)

	s.sender = NewSender(
		s.conn,
		s.messageDao,
		s.outboxDao,
		s.groupDao,
		s.blobs,
		s.resolver,
		s.mailman,
		s.cleaner,
		nil,
		SenderOptions{
			Hostname:    testHostname,
			ErrorSender: s.mustParse("postmaster@local.example"),
			Heartbeat:   time.Hour,
			Transient:   30 * time.Minute,
			Retry:       60 * time.Minute,
			GiveUp:      120 * time.Hour,
			Port:        s.server.listen(s.T()),
			Timeout:     5 * time.Second,
		},
	)

	s.sender.now = func() time.Time { return s.now }
}

func (s *SenderTestSuite) enqueue(from string, to ...string) string {
	envelope := s.envelope(from, to...)

	id, err := s.sender.Enqueue(s.ctx, envelope.From, envelope.To, s.message(testMessage))
	s.Require().NoError(err)

	return id
}

// closedPort returns a local port, that refuses connections.
func (s *SenderTestSuite) closedPort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	port := l.Addr().(*net.TCPAddr).Port
	s.Require().NoError(l.Close())

	return port
}

func (s *SenderTestSuite) TestEnqueueAddsDefaults() {
	id := s.enqueue("alice@local.example", "carol@remote.example")

	msg, err := mails.Parse(strings.NewReader(s.readBlob(id)))
	s.Require().NoError(err)

	s.Assert().True(msg.Header.Has("Date"))
	s.Assert().True(msg.Header.Has("Message-Id"))
	s.Assert().Len(s.groups(), 1)
}

func (s *SenderTestSuite) TestFlushSuccess() {
	id := s.enqueue("alice@local.example", "carol@remote.example", "dave@remote.example")

	s.Require().NoError(s.sender.Flush(s.ctx))

	messages := s.server.received()
	s.Require().Len(messages, 1)
	s.Assert().Equal("<alice@local.example>", messages[0].from)
	s.Assert().Equal([]string{"carol@remote.example", "dave@remote.example"}, messages[0].to)
	s.Assert().Equal(s.readBlob(id), messages[0].data)

	s.Assert().Empty(s.groups())
	s.Assert().Equal(1, s.count("outbox"))
	s.Assert().Empty(s.inbox("alice"))
	s.Assert().Equal(1, s.count("messages"))
	s.Assert().Equal(0, s.sender.inflight.len())
}

func (s *SenderTestSuite) TestFlushPartiallyRejected() {
	s.server.reject["dave@remote.example"] = "550 No such user"

	s.enqueue("alice@local.example", "carol@remote.example", "dave@remote.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	s.Assert().Empty(s.groups())
	s.Assert().Equal(1, s.count("outbox"))

	inbox := s.inbox("alice")
	s.Require().Len(inbox, 1)

	bounce := s.readBlob(inbox[0].MessageID)
	s.Assert().Contains(bounce, "Subject: "+bounceSubject)
	s.Assert().Contains(bounce, "To: alice@local.example")
	s.Assert().Contains(bounce, "Auto-Submitted: auto-replied")
	s.Assert().Contains(bounce, "dave@remote.example\r\n        550 No such user")
	s.Assert().Contains(bounce, "However, delivery SUCCEEDED for these recipient(s):\r\n\r\n    carol@remote.example")
	s.Assert().Contains(bounce, "Hello World!")

	message, err := s.messageDao.FindByID(s.ctx, s.conn, inbox[0].MessageID)
	s.Require().NoError(err)
	s.Assert().True(message.Sender.IsZero())
}

func (s *SenderTestSuite) TestFlushNullSenderIsNotBounced() {
	s.server.reject["carol@remote.example"] = "550 No such user"

	s.enqueue("", "carol@remote.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	s.Assert().Empty(s.groups())
	s.Assert().Empty(s.inbox("alice"))
	s.Assert().Equal(0, s.count("outbox"))
	s.Assert().Equal(0, s.count("messages"), "the undeliverable message is cleaned")
}

func (s *SenderTestSuite) TestFlushTemporaryFailure() {
	s.server.reject["carol@remote.example"] = "451 Try again later"

	s.enqueue("alice@local.example", "carol@remote.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	groups := s.groups()
	s.Require().Len(groups, 1)
	s.Assert().Equal(1, groups[0].Attempts)
	s.Assert().Equal(sql.NullInt64{Int64: s.now.Unix(), Valid: true}, groups[0].FirstAttempt)
	s.Assert().Equal(sql.NullInt64{Int64: s.now.Unix(), Valid: true}, groups[0].PrevAttempt)
	s.Require().Len(groups[0].Failures, 1)
	s.Assert().Contains(groups[0].Failures[0], "451 Try again later")

	// not yet due
	s.now = s.now.Add(10 * time.Minute)
	s.Require().NoError(s.sender.Flush(s.ctx))
	s.Assert().Equal(1, s.groups()[0].Attempts)

	s.now = s.now.Add(30 * time.Minute)
	s.Require().NoError(s.sender.Flush(s.ctx))
	s.Assert().Equal(2, s.groups()[0].Attempts)
	s.Assert().Equal(sql.NullInt64{Int64: 1600000000, Valid: true}, s.groups()[0].FirstAttempt)
}

func (s *SenderTestSuite) TestFlushConnectionFailure() {
	s.sender.opts.Port = s.closedPort()

	s.enqueue("alice@local.example", "carol@remote.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	groups := s.groups()
	s.Require().Len(groups, 1)
	s.Assert().Equal(1, groups[0].Attempts)
	s.Assert().Equal(models.StringList{"Could not connect to any SMTP servers: [mx.remote.example]"}, groups[0].Failures)
}

func (s *SenderTestSuite) TestFlushGiveUp() {
	s.sender.opts.Port = s.closedPort()

	s.enqueue("alice@local.example", "carol@remote.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	for i := 0; i < 5; i++ {
		s.now = s.now.Add(30 * time.Hour)
		s.Require().NoError(s.sender.Flush(s.ctx))
	}

	s.Assert().Empty(s.groups())
	s.Assert().Equal(0, s.count("outbox"))

	inbox := s.inbox("alice")
	s.Require().Len(inbox, 1)

	bounce := s.readBlob(inbox[0].MessageID)
	s.Assert().Contains(bounce, "carol@remote.example\r\n        Could not connect to any SMTP servers")
	s.Assert().NotContains(bounce, "However")
}

func (s *SenderTestSuite) TestRunStopsOnCancel() {
	s.enqueue("alice@local.example", "carol@remote.example")

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error)

	go func() { done <- s.sender.Run(ctx) }()

	s.Require().Eventually(func() bool {
		return len(s.server.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		s.Assert().NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("sender did not stop")
	}
}

func (s *SenderTestSuite) TestConcurrentFlushDeliversOnce() {
	for i := 0; i < 5; i++ {
		s.enqueue("alice@local.example", "carol@remote.example")
	}

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.Assert().NoError(s.sender.Flush(s.ctx))
		}()
	}

	wg.Wait()

	s.Assert().Len(s.server.received(), 5)
	s.Assert().Empty(s.groups())
	s.Assert().Equal(5, s.count("outbox"))
	s.Assert().Equal(0, s.sender.inflight.len())
}

func (s *SenderTestSuite) TestFlushUnreadableMessage() {
	id := s.enqueue("alice@local.example", "carol@remote.example")
	s.Require().NoError(s.blobs.Delete(s.ctx, id))

	s.Require().NoError(s.sender.Flush(s.ctx))

	groups := s.groups()
	s.Require().Len(groups, 1)
	s.Assert().Equal(1, groups[0].Attempts)
	s.Require().Len(groups[0].Failures, 1)
	s.Assert().Contains(groups[0].Failures[0], "could not open message")
	s.Assert().Empty(s.server.received())

	s.now = s.now.Add(121 * time.Hour)
	s.Require().NoError(s.sender.Flush(s.ctx))

	s.Assert().Empty(s.groups())

	inbox := s.inbox("alice")
	s.Require().Len(inbox, 1)

	bounce := s.readBlob(inbox[0].MessageID)
	s.Assert().Contains(bounce, "carol@remote.example\r\n        local error: could not open message")
	s.Assert().Contains(bounce, "The original message is not available.")
}

func (s *SenderTestSuite) TestFlushNullMX() {
	s.resolver.
		On("LookupMX", mock.Anything, "null.example").
		Return([]string{})

	s.enqueue("alice@local.example", "carol@null.example")
	s.Require().NoError(s.sender.Flush(s.ctx))

	s.Assert().Empty(s.groups())
	s.Assert().Empty(s.server.received())

	inbox := s.inbox("alice")
	s.Require().Len(inbox, 1)
	s.Assert().Contains(s.readBlob(inbox[0].MessageID), "carol@null.example\r\n        domain does not accept mail (null MX)")
}
