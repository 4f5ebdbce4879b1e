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

// Package mails is the message codec. It reads and writes the header section of messages and
// leaves the body untouched.
package mails

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

// Message is a parsed message. The body is streamed, so a message can only be written once.
type Message struct {
	Header mail.Header
	Body   io.Reader
}

// NewMessage creates a message with an empty header.
func NewMessage(body io.Reader) *Message {
	return &Message{
		Header: mail.Header{Header: message.Header{Header: textproto.Header{}}},
		Body:   body,
	}
}

// Parse reads the header section of r. If the header is malformed and r is an io.Seeker, the
// complete input is treated as body of a message with an empty header.
func Parse(r io.Reader) (*Message, error) {
	br := bufio.NewReader(r)

	header, err := textproto.ReadHeader(br)
	if err == nil {
		return &Message{
			Header: mail.Header{Header: message.Header{Header: header}},
			Body:   br,
		}, nil
	}

	if seeker, ok := r.(io.Seeker); ok {
		if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr == nil {
			return NewMessage(r), nil
		}
	}

	return nil, fmt.Errorf("mails: could not parse header: %w", err)
}

// Prepend adds a header field on top of all existing fields. The value is folded at 78
// columns.
func (m *Message) Prepend(key, value string) {
	m.Header.AddRaw(fold(key, value))
}

// EnsureDefaults sets the Date and Message-ID fields, if they are missing.
func (m *Message) EnsureDefaults(hostname string, now time.Time) {
	if !m.Header.Has("Date") {
		m.Header.SetDate(now)
	}

	if !m.Header.Has("Message-Id") {
		m.Header.SetMessageID(uuid.New().String() + "@" + hostname)
	}
}

// WriteTo writes the header section followed by the body.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	cw := countingWriter{w: w}

	if err := textproto.WriteHeader(&cw, m.Header.Header.Header); err != nil {
		return cw.n, err
	}

	if m.Body != nil {
		if _, err := io.Copy(&cw, m.Body); err != nil {
			return cw.n, err
		}
	}

	return cw.n, nil
}

// Reader returns the serialized message. Closing the reader early stops the serialization.
func (m *Message) Reader() io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		_, err := m.WriteTo(pw)
		pw.CloseWithError(err)
	}()

	return pr
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
