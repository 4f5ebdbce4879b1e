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

package textproto

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/lukasdietrich/sleet/internal/log"
)

// Protocol is an interface for text based protocol implementations.
type Protocol interface {
	// Handle is supposed to consume a connection and manage all traffic
	// over it. Once Handle returns, the underlying network connection is
	// automatically closed by the server.
	Handle(Conn)
}

// TranscriptStore persists the transcript of a connection once it is closed.
type TranscriptStore interface {
	// Enabled reports whether transcripts are stored at all. Connections are only recorded, if
	// they are.
	Enabled() bool
	Save(ctx context.Context, origin string, transcript *Transcript) error
}

// connectionCounter is shared by all servers, so that connection ids are unique per process.
var connectionCounter int32

// Server is a general purpose tcp server for text based protocols like SMTP or POP3. Every
// accepted connection is handled in its own goroutine.
type Server struct {
	name        string
	proto       Protocol
	transcripts TranscriptStore
}

// NewServer returns a Server using a specified protocol implementation. The name is used as
// log origin and transcript name. transcripts may be nil.
func NewServer(name string, proto Protocol, transcripts TranscriptStore) *Server {
	return &Server{
		name:        name,
		proto:       proto,
		transcripts: transcripts,
	}
}

// ListenAndServe opens a new tcp listener and blocks until the context is cancelled or
// accepting a connection fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	log.InfoContext(log.WithOrigin(ctx, s.name)).
		Stringer("addr", l.Addr()).
		Msg("listening")

	return s.Serve(ctx, l)
}

// Serve accepts connections on l until the context is cancelled, in which case nil is returned.
// The listener is closed in any case.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}

		l.Close()
	}()

	for {
		netConn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		go s.handle(ctx, netConn)
	}
}

func (s *Server) handle(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	ctx = log.WithOrigin(ctx, s.name)
	ctx = log.WithConnection(ctx, atomic.AddInt32(&connectionCounter, 1))

	log.DebugContext(ctx).
		Stringer("remote", netConn.RemoteAddr()).
		Msg("accepted connection")

	var transcript *Transcript
	if s.transcripts != nil && s.transcripts.Enabled() {
		transcript = NewTranscript()
	}

	s.proto.Handle(NewConn(ctx, netConn, PartyServer, transcript))

	if transcript != nil {
		if err := s.transcripts.Save(ctx, s.name, transcript); err != nil {
			log.WarnContext(ctx).
				Err(err).
				Msg("could not save transcript")
		}
	}
}
