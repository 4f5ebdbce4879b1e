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
	"errors"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/log"
)

// ErrInvalidID is returned when a blob is requested with an empty id.
var ErrInvalidID = errors.New("storage: invalid blob id")

func init() {
	viper.SetDefault("storage.blobs.foldername", "data/blobs")
}

// BlobsOptions configure the location of blob files.
type BlobsOptions struct {
	Foldername string
}

// BlobsOptionsFromViper reads the blob options from viper.
//
// `storage.blobs.foldername` is the foldername for blob files.
func BlobsOptionsFromViper() BlobsOptions {
	return BlobsOptions{
		Foldername: viper.GetString("storage.blobs.foldername"),
	}
}

// Blobs is a permanent storage for the raw data of messages.
type Blobs interface {
	// Write copies all the data from r to a new blob, that is addressable by the returned id.
	Write(context.Context, io.Reader) (string, int64, error)
	// OffsetReader returns a reader to a blob with an initial offset to be skipped.
	// The responsibility to close the reader is on the caller.
	OffsetReader(string, int64) (io.ReadCloser, error)
	// Reader is a shorthand for OffsetReader(id, 0).
	Reader(string) (io.ReadCloser, error)
	// Delete removes a blob by id.
	Delete(context.Context, string) error
}

type fsBlobs struct {
	fs    afero.Fs
	idGen crypto.IDGenerator
}

// NewBlobs creates a new blob store inside the configured folder of fs.
func NewBlobs(fs afero.Fs, idGen crypto.IDGenerator, opts BlobsOptions) (Blobs, error) {
	if err := fs.MkdirAll(opts.Foldername, 0700); err != nil {
		return nil, err
	}

	return &fsBlobs{
		fs:    afero.NewBasePathFs(fs, opts.Foldername),
		idGen: idGen,
	}, nil
}

func (b *fsBlobs) Write(ctx context.Context, r io.Reader) (string, int64, error) {
	id, err := b.idGen.GenerateID()
	if err != nil {
		return "", -1, err
	}

	f, err := b.fs.Create(id)
	if err != nil {
		return "", -1, err
	}

	log.DebugContext(ctx).
		Str("blob", id).
		Msg("writing blob")

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()

		if err := b.Delete(ctx, id); err != nil {
			log.WarnContext(ctx).
				Str("blob", id).
				Err(err).
				Msg("could not remove partial blob")
		}

		return "", -1, err
	}

	return id, size, f.Close()
}

func (b *fsBlobs) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	log.DebugContext(ctx).
		Str("blob", id).
		Msg("removing blob")

	return b.fs.Remove(id)
}

func (b *fsBlobs) OffsetReader(id string, offset int64) (io.ReadCloser, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	f, err := b.fs.Open(id)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}

func (b *fsBlobs) Reader(id string) (io.ReadCloser, error) {
	return b.OffsetReader(id, 0)
}
