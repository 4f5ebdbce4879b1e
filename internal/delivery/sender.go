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
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/database"
	"github.com/lukasdietrich/sleet/internal/dns"
	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/mails"
	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/storage"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

const senderOrigin = "sender"

func init() {
	viper.SetDefault("delivery.errorsender", "")
	viper.SetDefault("delivery.heartbeat", "10s")
	viper.SetDefault("delivery.transient", "30m")
	viper.SetDefault("delivery.retry", "60m")
	viper.SetDefault("delivery.giveup", "120h")
	viper.SetDefault("delivery.port", 25)
	viper.SetDefault("delivery.timeout", "5m")
}

// SenderOptions configure the outbound delivery.
type SenderOptions struct {
	// Hostname is used to greet remote servers and for generated message ids.
	Hostname string
	// ErrorSender is the From address of bounces.
	ErrorSender models.Address
	// Heartbeat is the interval between two scans for due groups.
	Heartbeat time.Duration
	// Transient is the wait time after one of the first failed attempts.
	Transient time.Duration
	// Retry is the wait time after later failed attempts.
	Retry time.Duration
	// GiveUp is the time since the first attempt, after which a failing group is bounced.
	GiveUp time.Duration
	// Port is the port of remote smtp servers.
	Port int
	// Timeout applies to connecting as well as to every read and write.
	Timeout time.Duration
}

// SenderOptionsFromViper reads the sender options from viper. If no error sender is configured,
// the postmaster of the local host is used.
func SenderOptionsFromViper() (SenderOptions, error) {
	hostname := viper.GetString("general.hostname")

	errorSender := viper.GetString("delivery.errorsender")
	if errorSender == "" {
		errorSender = postmasterLocalPart + "@" + hostname
	}

	addr, err := models.Parse(errorSender)
	if err != nil {
		return SenderOptions{}, fmt.Errorf("invalid error sender %q: %w", errorSender, err)
	}

	return SenderOptions{
		Hostname:    hostname,
		ErrorSender: addr,
		Heartbeat:   viper.GetDuration("delivery.heartbeat"),
		Transient:   viper.GetDuration("delivery.transient"),
		Retry:       viper.GetDuration("delivery.retry"),
		GiveUp:      viper.GetDuration("delivery.giveup"),
		Port:        viper.GetInt("delivery.port"),
		Timeout:     viper.GetDuration("delivery.timeout"),
	}, nil
}

type dialFunc func(
	ctx context.Context,
	addr string,
	timeout time.Duration,
	transcript *textproto.Transcript,
) (textproto.Conn, error)

// errNoMailServer is recorded for domains with a null mx record. Such domains do not accept
// mail at all, so delivery is given up immediately.
var errNoMailServer = errors.New("domain does not accept mail (null MX)")

// Sender delivers queued groups to remote servers. Every heartbeat all due groups are picked up
// and delivered by one worker per host. Failed groups are retried until they are given up and
// bounced.
type Sender struct {
	conn        database.Conn
	messageDao  database.MessageDao
	outboxDao   database.OutboxDao
	groupDao    database.GroupDao
	blobs       storage.Blobs
	resolver    dns.Resolver
	mailman     Mailman
	cleaner     Cleaner
	transcripts textproto.TranscriptStore
	opts        SenderOptions

	inflight *inflightSet
	workers  sync.WaitGroup
	now      func() time.Time
	dial     dialFunc
}

// NewSender creates a new Sender. transcripts may be nil.
func NewSender(
	conn database.Conn,
	messageDao database.MessageDao,
	outboxDao database.OutboxDao,
	groupDao database.GroupDao,
	blobs storage.Blobs,
	resolver dns.Resolver,
	mailman Mailman,
	cleaner Cleaner,
	transcripts textproto.TranscriptStore,
	opts SenderOptions,
) *Sender {
	return &Sender{
		conn:        conn,
		messageDao:  messageDao,
		outboxDao:   outboxDao,
		groupDao:    groupDao,
		blobs:       blobs,
		resolver:    resolver,
		mailman:     mailman,
		cleaner:     cleaner,
		transcripts: transcripts,
		opts:        opts,

		inflight: newInflightSet(),
		now:      time.Now,
		dial:     textproto.Dial,
	}
}

// Enqueue submits a locally generated message. Missing Date and Message-ID fields are added.
func (s *Sender) Enqueue(
	ctx context.Context,
	from models.Address,
	to []models.Address,
	msg *mails.Message,
) (string, error) {
	now := s.now()
	msg.EnsureDefaults(s.opts.Hostname, now)

	envelope := models.Envelope{
		Helo:  s.opts.Hostname,
		Relay: true,
		Date:  now,
		From:  from,
		To:    to,
	}

	return s.mailman.Deliver(ctx, envelope, msg)
}

// Run starts the heartbeat and blocks until the context is cancelled. Workers still running
// at that point are awaited before Run returns.
func (s *Sender) Run(ctx context.Context) error {
	ctx = log.WithOrigin(ctx, senderOrigin)

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	log.InfoContext(ctx).
		Dur("heartbeat", s.opts.Heartbeat).
		Msg("starting outbound delivery")

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			log.InfoContext(ctx).Msg("waiting for outbound deliveries to finish")
			s.workers.Wait()
			return nil

		case <-ticker.C:
		}
	}
}

func (s *Sender) tick(ctx context.Context) {
	cycle, err := s.dispatch(ctx)
	if err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Msg("could not dispatch due groups")

		return
	}

	s.workers.Add(1)

	go func() {
		defer s.workers.Done()

		cycle.Wait()
		s.clean(context.WithoutCancel(ctx))
	}()
}

// Flush delivers all due groups and blocks until every attempt is finished.
func (s *Sender) Flush(ctx context.Context) error {
	cycle, err := s.dispatch(ctx)
	if err != nil {
		return err
	}

	cycle.Wait()
	s.clean(context.WithoutCancel(ctx))

	return nil
}

func (s *Sender) clean(ctx context.Context) {
	if err := s.cleaner.Clean(ctx); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not clean orphaned messages")
	}
}

// dispatch starts one worker per host for all due groups, which are not already in flight.
func (s *Sender) dispatch(ctx context.Context) (*sync.WaitGroup, error) {
	claimed, err := s.inflight.claimDue(func() ([]models.OutboundGroupEntity, error) {
		return s.groupDao.FindDue(ctx, s.conn, database.DueOptions{
			Now:       s.now(),
			Transient: s.opts.Transient,
			Retry:     s.opts.Retry,
		})
	})
	if err != nil {
		return nil, err
	}

	var cycle sync.WaitGroup

	for _, hostGroups := range groupByHost(claimed) {
		cycle.Add(1)

		go func(groups []models.OutboundGroupEntity) {
			defer cycle.Done()
			s.deliverHost(ctx, groups)
		}(hostGroups)
	}

	return &cycle, nil
}

// groupByHost splits groups sorted by host into runs of the same host.
func groupByHost(groups []models.OutboundGroupEntity) [][]models.OutboundGroupEntity {
	var runs [][]models.OutboundGroupEntity

	for start, end := 0, 0; start < len(groups); start = end {
		for end = start; end < len(groups) && groups[end].Host == groups[start].Host; end++ {
		}

		runs = append(runs, groups[start:end])
	}

	return runs
}

// deliverHost attempts every group of a single host using one connection as long as the
// connection stays usable.
func (s *Sender) deliverHost(ctx context.Context, groups []models.OutboundGroupEntity) {
	host := groups[0].Host
	ctx = log.WithHost(ctx, host)

	defer func() {
		for _, group := range groups {
			s.inflight.release(group.ID)
		}
	}()

	var client *Client
	defer func() { s.closeClient(ctx, client, true) }()

	for i := range groups {
		group := &groups[i]

		if client == nil {
			var mxHosts []string
			client, mxHosts = s.connect(ctx, host)

			if client == nil {
				if ctx.Err() != nil {
					return
				}

				reason := errors.New(fmt.Sprintf("Could not connect to any SMTP servers: %v", mxHosts))
				if len(mxHosts) == 0 {
					reason = errNoMailServer
				}

				for j := i; j < len(groups); j++ {
					s.record(ctx, &groups[j], nil, reason)
				}

				return
			}
		}

		if !s.attempt(ctx, client, group) {
			s.closeClient(ctx, client, false)
			client = nil
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// connect tries every mx host of a domain and every address of each host until a server
// greets back. No hosts are returned for domains with a null mx record.
func (s *Sender) connect(ctx context.Context, domain string) (*Client, []string) {
	mxHosts := s.resolver.LookupMX(ctx, domain)

	for _, mxHost := range mxHosts {
		ips, err := s.resolver.LookupIP(ctx, mxHost)
		if err != nil {
			log.WarnContext(ctx).
				Err(err).
				Str("mx", mxHost).
				Msg("could not resolve mx host")

			continue
		}

		for _, ip := range ips {
			addr := net.JoinHostPort(ip.String(), strconv.Itoa(s.opts.Port))

			conn, err := s.dial(ctx, addr, s.opts.Timeout, s.newTranscript())
			if err != nil {
				log.DebugContext(ctx).
					Err(err).
					Str("addr", addr).
					Msg("could not connect")

				continue
			}

			client, err := NewClient(conn, s.opts.Hostname, s.opts.Timeout)
			if err != nil {
				log.DebugContext(ctx).
					Err(err).
					Str("addr", addr).
					Msg("could not greet server")

				s.saveTranscript(ctx, conn.Transcript())
				conn.Close()
				continue
			}

			log.DebugContext(ctx).
				Str("addr", addr).
				Msg("connected")

			return client, mxHosts
		}
	}

	return nil, mxHosts
}

func (s *Sender) closeClient(ctx context.Context, client *Client, quit bool) {
	if client == nil {
		return
	}

	if quit {
		if err := client.Quit(); err != nil {
			log.DebugContext(ctx).
				Err(err).
				Msg("could not quit session")
		}
	}

	client.Close()
	s.saveTranscript(ctx, client.Transcript())
}

// newTranscript returns nil, if transcripts are not stored.
func (s *Sender) newTranscript() *textproto.Transcript {
	if s.transcripts == nil || !s.transcripts.Enabled() {
		return nil
	}

	return textproto.NewTranscript()
}

func (s *Sender) saveTranscript(ctx context.Context, transcript *textproto.Transcript) {
	if transcript == nil {
		return
	}

	if err := s.transcripts.Save(ctx, senderOrigin, transcript); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not save transcript")
	}
}

// attempt sends the message of a group and records the result. The returned bool reports
// whether the client is still usable for the next group. A message, that cannot be read, counts
// as failed attempt, so that it is eventually given up.
func (s *Sender) attempt(ctx context.Context, client *Client, group *models.OutboundGroupEntity) bool {
	message, err := s.messageDao.FindByID(ctx, s.conn, group.MessageID)
	if err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Str("message", group.MessageID).
			Msg("could not load message")

		s.record(ctx, group, nil, fmt.Errorf("local error: could not load message: %w", err))
		return true
	}

	body, err := s.blobs.Reader(message.ID)
	if err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Str("message", group.MessageID).
			Msg("could not open message")

		s.record(ctx, group, nil, fmt.Errorf("local error: could not open message: %w", err))
		return true
	}

	outcome, sendErr := client.Send(message.Sender, group.Recipients, body, message.Size)
	body.Close()

	if sendErr != nil && ctx.Err() != nil {
		return false
	}

	s.record(ctx, group, outcome, sendErr)

	if sendErr != nil {
		return client.Reset() == nil
	}

	return true
}

// record updates the database with the result of an attempt in a single transaction.
// Recipients rejected by the server are bounced immediately. Failed groups are either updated
// for a later retry or bounced, once they are older than the give up duration.
func (s *Sender) record(
	ctx context.Context,
	group *models.OutboundGroupEntity,
	outcome *models.SendOutcome,
	sendErr error,
) {
	ctx = context.WithoutCancel(ctx)

	if err := s.recordTx(ctx, group, outcome, sendErr); err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Int64("group", group.ID).
			Msg("could not record delivery attempt")
	}
}

func (s *Sender) recordTx(
	ctx context.Context,
	group *models.OutboundGroupEntity,
	outcome *models.SendOutcome,
	sendErr error,
) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}

	var bounces []string
	defer tx.RollbackWith(func() {
		for _, id := range bounces {
			if err := s.blobs.Delete(ctx, id); err != nil {
				log.WarnContext(ctx).
					Err(err).
					Str("bounce", id).
					Msg("could not delete blob")
			}
		}
	})

	message, err := s.messageDao.FindByID(ctx, tx, group.MessageID)
	if err != nil {
		return err
	}

	now := s.now()
	group.RecordAttempt(now)

	var (
		bounceID string
		result   string
	)

	switch {
	case sendErr == nil:
		result, bounceID, err = s.recordOutcome(ctx, tx, group, message, outcome, now)

	case errors.Is(sendErr, errNoMailServer), group.SinceFirstAttempt(now) >= s.opts.GiveUp:
		group.AddFailure(sendErr.Error())
		result, bounceID, err = s.giveUp(ctx, tx, group, message)

	default:
		group.AddFailure(sendErr.Error())
		result, err = "failure", s.groupDao.Update(ctx, tx, group)

		log.WarnContext(ctx).
			Err(sendErr).
			Str("message", message.ID).
			Int("attempts", group.Attempts).
			Msg("delivery failed")
	}

	if bounceID != "" {
		bounces = append(bounces, bounceID)
	}

	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues(result).Inc()
	return nil
}

func (s *Sender) recordOutcome(
	ctx context.Context,
	tx database.Tx,
	group *models.OutboundGroupEntity,
	message *models.MessageEntity,
	outcome *models.SendOutcome,
	now time.Time,
) (string, string, error) {
	result := "success"

	if len(outcome.Accepted) > 0 {
		entry := models.OutboxEntity{
			MessageID:  message.ID,
			Host:       group.Host,
			Recipients: outcome.Accepted,
			SentAt:     now.Unix(),
		}

		if err := s.outboxDao.Insert(ctx, tx, &entry); err != nil {
			return "", "", err
		}
	}

	if err := s.groupDao.Delete(ctx, tx, group); err != nil {
		return "", "", err
	}

	log.InfoContext(ctx).
		Str("message", message.ID).
		Int("accepted", len(outcome.Accepted)).
		Int("rejected", len(outcome.Rejected)).
		Msg("delivered")

	if len(outcome.Rejected) == 0 {
		return result, "", nil
	}

	if outcome.AllRejected() {
		result = "failure"
	} else {
		result = "partial"
	}

	bounceID, err := s.bounce(ctx, tx, message, outcome.Rejected, outcome.Accepted)
	return result, bounceID, err
}

func (s *Sender) giveUp(
	ctx context.Context,
	tx database.Tx,
	group *models.OutboundGroupEntity,
	message *models.MessageEntity,
) (string, string, error) {
	log.WarnContext(ctx).
		Str("message", message.ID).
		Int("attempts", group.Attempts).
		Msg("giving up delivery")

	reason := group.Failures[len(group.Failures)-1]
	failed := make([]models.Rejection, len(group.Recipients))

	for i, addr := range group.Recipients {
		failed[i] = models.Rejection{Address: addr, Reason: reason}
	}

	if err := s.groupDao.Delete(ctx, tx, group); err != nil {
		return "", "", err
	}

	bounceID, err := s.bounce(ctx, tx, message, failed, nil)
	return "giveup", bounceID, err
}
