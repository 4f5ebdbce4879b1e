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
	"bytes"
	"context"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/crypto"
	"github.com/lukasdietrich/sleet/internal/log"
)

func init() {
	viper.SetDefault("storage.cache.foldername", "data/cache")
	viper.SetDefault("storage.cache.memorylimit", "1mb")
}

// CacheOptions configure the temporary storage of incoming messages.
type CacheOptions struct {
	Foldername  string
	MemoryLimit int64
}

// CacheOptionsFromViper reads the cache options from viper.
//
// `storage.cache.memorylimit` is the maximum size of data kept in memory.
// `storage.cache.foldername` is the foldername of temporary files.
func CacheOptionsFromViper() CacheOptions {
	return CacheOptions{
		Foldername:  viper.GetString("storage.cache.foldername"),
		MemoryLimit: int64(viper.GetSizeInBytes("storage.cache.memorylimit")),
	}
}

// Cache is a temporary storage for messages, that are read from a client before they are
// stored permanently.
type Cache interface {
	// Write copies all the data from r into temporary storage. If the total size exceeds the
	// memory limit, the data is written to disk.
	Write(context.Context, io.Reader) (CacheEntry, error)
}

// CacheEntry is a single blob of data kept in temporary storage.
type CacheEntry interface {
	// Reader returns a new reader to the full blob of data. Calling Reader invalidates all
	// readers returned before, so an entry is not safe for concurrent use.
	Reader() (io.Reader, error)
	// Size returns the number of bytes in the entry.
	Size() int64
	// Release deletes data on disk, that may have been written.
	Release(context.Context) error
}

type fsCache struct {
	fs          afero.Fs
	idGen       crypto.IDGenerator
	memoryLimit int64
}

// NewCache creates a new cache inside the configured folder of fs.
func NewCache(fs afero.Fs, idGen crypto.IDGenerator, opts CacheOptions) (Cache, error) {
	if err := fs.MkdirAll(opts.Foldername, 0700); err != nil {
		return nil, err
	}

	return &fsCache{
		fs:          afero.NewBasePathFs(fs, opts.Foldername),
		idGen:       idGen,
		memoryLimit: opts.MemoryLimit,
	}, nil
}

func (c *fsCache) Write(ctx context.Context, r io.Reader) (CacheEntry, error) {
	memory := bytes.NewBuffer(nil)

	n, err := io.Copy(memory, io.LimitReader(r, c.memoryLimit))
	if err != nil {
		return nil, err
	}

	if n < c.memoryLimit {
		return memoryEntry{data: memory.Bytes()}, nil
	}

	id, err := c.idGen.GenerateID()
	if err != nil {
		return nil, err
	}

	file, err := c.fs.Create(id)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx).
		Str("filename", id).
		Int64("memoryLimit", c.memoryLimit).
		Msg("cache entry exceeding size limit, evading to file")

	size, err := io.Copy(file, io.MultiReader(memory, r))
	if err != nil {
		log.WarnContext(ctx).
			Str("filename", id).
			Msg("could not write to cache file")

		entry := fileEntry{id: id, file: file, fs: c.fs}
		if err := entry.Release(ctx); err != nil {
			log.WarnContext(ctx).
				Str("filename", id).
				Err(err).
				Msg("could not remove partial cache file")
		}

		return nil, err
	}

	return fileEntry{id: id, file: file, fs: c.fs, size: size}, nil
}

type memoryEntry struct {
	data []byte
}

func (e memoryEntry) Reader() (io.Reader, error) {
	return bytes.NewReader(e.data), nil
}

func (e memoryEntry) Size() int64 {
	return int64(len(e.data))
}

func (memoryEntry) Release(context.Context) error {
	return nil
}

type fileEntry struct {
	id   string
	file afero.File
	fs   afero.Fs
	size int64
}

func (e fileEntry) Reader() (io.Reader, error) {
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	return e.file, nil
}

func (e fileEntry) Size() int64 {
	return e.size
}

func (e fileEntry) Release(ctx context.Context) error {
	log.DebugContext(ctx).
		Str("filename", e.id).
		Msg("removing cache file")

	if err := e.file.Close(); err != nil {
		return err
	}

	return e.fs.Remove(e.id)
}
