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
	"io"
	"net"
	"time"
)

// Conn is a wrapper around a network connection to enable line based reading and buffered
// writing. Lines passing through a Conn may be recorded in a Transcript.
type Conn interface {
	Reader
	Writer

	// Context returns the context of the connection, which carries its log fields.
	Context() context.Context

	// RemoteAddr returns the network address of the peer.
	RemoteAddr() net.Addr

	// SetReadTimeout sets the deadline for read calls to a time now + x
	SetReadTimeout(time.Duration) error

	// SetWriteTimeout sets the deadline for write calls to a time now + x
	SetWriteTimeout(time.Duration) error

	// Transcript returns the lines exchanged so far. It is nil, if the connection is not
	// recorded.
	Transcript() *Transcript

	// Close closes the underlying network connection.
	Close() error
}

type conn struct {
	Reader
	Writer

	raw        net.Conn
	ctx        context.Context
	transcript *Transcript
}

// NewConn wraps a network connection. local is the party of this end of the connection: lines
// written are recorded as local, lines read are recorded as coming from the other party. If
// transcript is nil, nothing is recorded.
func NewConn(ctx context.Context, netConn net.Conn, local Party, transcript *Transcript) Conn {
	var (
		r io.Reader = netConn
		w io.Writer = netConn
	)

	if transcript != nil {
		r = io.TeeReader(netConn, transcript.recorder(local.other()))
		w = io.MultiWriter(netConn, transcript.recorder(local))
	}

	return &conn{
		Reader: newReader(r),
		Writer: newWriter(w),

		raw:        netConn,
		ctx:        ctx,
		transcript: transcript,
	}
}

func (c *conn) Context() context.Context {
	return c.ctx
}

func (c *conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *conn) SetReadTimeout(d time.Duration) error {
	return c.raw.SetReadDeadline(time.Now().Add(d))
}

func (c *conn) SetWriteTimeout(d time.Duration) error {
	return c.raw.SetWriteDeadline(time.Now().Add(d))
}

func (c *conn) Transcript() *Transcript {
	return c.transcript
}

func (c *conn) Close() error {
	return c.raw.Close()
}

// RemoteIP returns the ip address of the peer or nil, if the connection is not a tcp connection.
func RemoteIP(c Conn) net.IP {
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}

	return nil
}

// Dial opens a tcp connection to a remote server and wraps it as the client side of a Conn.
func Dial(ctx context.Context, addr string, timeout time.Duration, transcript *Transcript) (Conn, error) {
	dialer := net.Dialer{Timeout: timeout}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	return NewConn(ctx, netConn, PartyClient, transcript), nil
}
