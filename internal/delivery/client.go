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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lukasdietrich/sleet/internal/models"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

// Client is an smtp client for a single connection to a remote server. It is not safe for
// concurrent use.
type Client struct {
	conn       textproto.Conn
	timeout    time.Duration
	extensions map[string]string
}

// NewClient reads the greeting of the server and introduces itself using EHLO. Servers, that
// do not understand EHLO, are greeted using HELO instead.
func NewClient(conn textproto.Conn, hostname string, timeout time.Duration) (*Client, error) {
	c := Client{
		conn:       conn,
		timeout:    timeout,
		extensions: make(map[string]string),
	}

	greeting, err := readReply(conn, timeout)
	if err != nil {
		return nil, err
	}

	if greeting.Code != 220 {
		return nil, &ReplyError{Step: "greeting", Reply: greeting}
	}

	if err := c.hello(hostname); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Client) hello(hostname string) error {
	reply, err := c.cmd("EHLO " + hostname)
	if err != nil {
		return err
	}

	switch reply.Code {
	case 250:
		for _, line := range reply.Lines[1:] {
			keyword, params, _ := strings.Cut(line, " ")
			c.extensions[strings.ToUpper(keyword)] = params
		}

		return nil

	case 500, 502:
		return c.expect("HELO "+hostname, "HELO", 250)

	default:
		return &ReplyError{Step: "EHLO", Reply: reply}
	}
}

// Extension reports whether the server advertised an extension and returns its parameters.
func (c *Client) Extension(keyword string) (string, bool) {
	params, ok := c.extensions[strings.ToUpper(keyword)]
	return params, ok
}

// Send transmits a message to all recipients, that are accepted by the server. Rejected
// recipients are part of the outcome and not an error. If every recipient is rejected, the
// transaction is reset and no data is sent. An error means, that the state of the transaction
// is unknown.
func (c *Client) Send(
	from models.Address,
	to []models.Address,
	body io.Reader,
	size int64,
) (*models.SendOutcome, error) {
	mailCmd := "MAIL FROM:" + from.Path()
	if _, ok := c.Extension("SIZE"); ok && size > 0 {
		mailCmd += fmt.Sprintf(" SIZE=%d", size)
	}

	if err := c.expect(mailCmd, "MAIL", 250, 251, 252); err != nil {
		return nil, err
	}

	var outcome models.SendOutcome

	for _, addr := range to {
		reply, err := c.cmd("RCPT TO:" + addr.Path())
		if err != nil {
			return nil, err
		}

		switch {
		case reply.Code == 250 || reply.Code == 251:
			outcome.Accepted = append(outcome.Accepted, addr)

		case reply.Code >= 550 && reply.Code <= 559:
			outcome.Rejected = append(outcome.Rejected, models.Rejection{
				Address: addr,
				Reason:  reply.String(),
			})

		default:
			return nil, &ReplyError{Step: "RCPT", Reply: reply}
		}
	}

	if outcome.AllRejected() {
		return &outcome, c.Reset()
	}

	if err := c.expect("DATA", "DATA", 354); err != nil {
		return nil, err
	}

	if err := c.data(body); err != nil {
		return nil, err
	}

	reply, err := readReply(c.conn, c.timeout)
	if err != nil {
		return nil, err
	}

	if reply.Code != 250 {
		return nil, &ReplyError{Step: "DATA", Reply: reply}
	}

	return &outcome, nil
}

func (c *Client) data(body io.Reader) error {
	if err := c.conn.SetWriteTimeout(c.timeout); err != nil {
		return err
	}

	w := c.conn.DotWriter()

	if _, err := io.Copy(w, body); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return c.conn.Flush()
}

// Reset aborts the current transaction.
func (c *Client) Reset() error {
	return c.expect("RSET", "RSET", 250)
}

// Quit ends the session politely.
func (c *Client) Quit() error {
	return c.expect("QUIT", "QUIT", 221)
}

// Close closes the connection without saying goodbye.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Transcript returns the lines exchanged with the server.
func (c *Client) Transcript() *textproto.Transcript {
	return c.conn.Transcript()
}

func (c *Client) expect(line, step string, codes ...int) error {
	reply, err := c.cmd(line)
	if err != nil {
		return err
	}

	for _, code := range codes {
		if reply.Code == code {
			return nil
		}
	}

	return &ReplyError{Step: step, Reply: reply}
}

func (c *Client) cmd(line string) (*Reply, error) {
	if err := c.conn.SetWriteTimeout(c.timeout); err != nil {
		return nil, err
	}

	if err := c.conn.WriteLine(line); err != nil {
		return nil, err
	}

	if err := c.conn.Flush(); err != nil {
		return nil, err
	}

	return readReply(c.conn, c.timeout)
}
