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
	"bytes"
	"fmt"
	"io"
	"time"
)

const (
	// maxTranscriptLines is the number of lines kept per transcript. Later lines are only
	// counted.
	maxTranscriptLines = 1000
	// maxTranscriptLineLength is the number of bytes kept per line.
	maxTranscriptLineLength = 1000
)

// Party is one side of a text protocol conversation.
type Party byte

const (
	// PartyClient is the party initiating the connection.
	PartyClient Party = 'C'
	// PartyServer is the party accepting the connection.
	PartyServer Party = 'S'
)

func (p Party) other() Party {
	if p == PartyClient {
		return PartyServer
	}

	return PartyClient
}

// Line is a single recorded line of a conversation.
type Line struct {
	Time  time.Time
	Party Party
	Text  string
}

// Transcript is a bounded log of the lines exchanged over a single connection. A Transcript
// belongs to the goroutine handling the connection and is not safe for concurrent use.
type Transcript struct {
	lines   []Line
	omitted int
	now     func() time.Time
}

// NewTranscript creates an empty Transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Record appends a line to the transcript. Long lines are truncated and once the transcript is
// full, lines are dropped.
func (t *Transcript) Record(party Party, text string) {
	if len(t.lines) >= maxTranscriptLines {
		t.omitted++
		return
	}

	if len(text) > maxTranscriptLineLength {
		text = text[:maxTranscriptLineLength] + "..."
	}

	t.lines = append(t.lines, Line{
		Time:  t.now(),
		Party: party,
		Text:  text,
	})
}

// Lines returns all recorded lines in order.
func (t *Transcript) Lines() []Line {
	return t.lines
}

// Len returns the number of recorded lines. A nil Transcript is empty.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}

	return len(t.lines)
}

// Omitted returns the number of lines dropped, because the transcript was full.
func (t *Transcript) Omitted() int {
	return t.omitted
}

// WriteTo writes one line per recorded line in the form "<time> <party>: <text>".
func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, line := range t.lines {
		n, err := fmt.Fprintf(w, "%s %c: %s\n", line.Time.Format(time.RFC3339), line.Party, line.Text)
		total += int64(n)

		if err != nil {
			return total, err
		}
	}

	if t.omitted > 0 {
		n, err := fmt.Fprintf(w, "%s %d lines omitted\n", t.now().Format(time.RFC3339), t.omitted)
		total += int64(n)

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (t *Transcript) recorder(party Party) io.Writer {
	return &recorder{t: t, party: party}
}

// recorder splits a stream of bytes into lines and records them. Incomplete lines are kept until
// their line ending arrives, but only up to the length kept per line.
type recorder struct {
	t       *Transcript
	party   Party
	partial []byte
}

func (r *recorder) Write(b []byte) (int, error) {
	rest := b

	for {
		end := bytes.IndexByte(rest, '\n')
		if end < 0 {
			r.keep(rest)
			break
		}

		r.keep(rest[:end])
		r.t.Record(r.party, string(bytes.TrimSuffix(r.partial, []byte{'\r'})))

		r.partial = r.partial[:0]
		rest = rest[end+1:]
	}

	return len(b), nil
}

func (r *recorder) keep(b []byte) {
	// one byte more than kept, so that Record notices the truncation
	if free := maxTranscriptLineLength + 1 - len(r.partial); free < len(b) {
		if free <= 0 {
			return
		}

		b = b[:free]
	}

	r.partial = append(r.partial, b...)
}
