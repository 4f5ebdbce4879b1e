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

package storage

import (
	"context"
	"path"
	"os"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/log"
	"github.com/lukasdietrich/sleet/internal/textproto"
)

const flagAppend = os.O_WRONLY | os.O_CREATE | os.O_APPEND

func init() {
	viper.SetDefault("storage.transcripts.foldername", "")
}

// TranscriptsOptions configure the location of transcript files.
type TranscriptsOptions struct {
	Foldername string
}

// TranscriptsOptionsFromViper reads the transcript options from viper.
//
// `storage.transcripts.foldername` is the foldername for transcript files. An empty
// foldername disables transcripts.
func TranscriptsOptionsFromViper() TranscriptsOptions {
	return TranscriptsOptions{
		Foldername: viper.GetString("storage.transcripts.foldername"),
	}
}

// Transcripts appends the transcripts of connections to one file per origin.
type Transcripts struct {
	fs      afero.Fs
	enabled bool
	mu      sync.Mutex
}

// NewTranscripts creates a transcript store inside the configured folder of fs.
func NewTranscripts(fs afero.Fs, opts TranscriptsOptions) (*Transcripts, error) {
	if opts.Foldername == "" {
		return &Transcripts{}, nil
	}

	if err := fs.MkdirAll(opts.Foldername, 0700); err != nil {
		return nil, err
	}

	return &Transcripts{
		fs:      afero.NewBasePathFs(fs, opts.Foldername),
		enabled: true,
	}, nil
}

// Enabled reports whether a folder is configured.
func (t *Transcripts) Enabled() bool {
	return t.enabled
}

// Save appends the transcript to "<origin>.log". Empty transcripts are skipped.
func (t *Transcripts) Save(ctx context.Context, origin string, transcript *textproto.Transcript) error {
	if !t.enabled || transcript.Len() == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	filename := path.Clean("/" + origin + ".log")

	f, err := t.fs.OpenFile(filename, flagAppend, 0600)
	if err != nil {
		return err
	}

	if _, err := transcript.WriteTo(f); err != nil {
		f.Close()
		return err
	}

	log.TraceContext(ctx).
		Str("filename", filename).
		Int("lines", transcript.Len()).
		Msg("saved transcript")

	return f.Close()
}
