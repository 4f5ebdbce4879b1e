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

package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/url"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/log"
)

const (
	driverName     = "sqlite3"
	changelogTable = "database_changelog"
	memoryFilename = ":memory:"
)

//go:embed migrations/*.sql
var migrationFolder embed.FS

func init() {
	viper.SetDefault("storage.database.filename", "data/sleet.sqlite")
	viper.SetDefault("storage.database.journalmode", "wal")
}

// ConnOptions configure the database file.
type ConnOptions struct {
	Filename    string
	JournalMode string
}

// ConnOptionsFromViper reads the database options from viper.
func ConnOptionsFromViper() ConnOptions {
	return ConnOptions{
		Filename:    viper.GetString("storage.database.filename"),
		JournalMode: viper.GetString("storage.database.journalmode"),
	}
}

// Queryer is an interface for both transactions and the database connection itself.
type Queryer interface {
	sqlx.ExtContext
}

// Tx is a database transaction, which can be rolled back or committed. Only one transaction
// exists at any time, so a transaction must always be finished using either Commit or
// Rollback.
type Tx interface {
	Queryer
	Commit() error
	Rollback() error
	RollbackWith(func()) error
}

type tx struct {
	*sqlx.Tx
	release func()
}

func (t tx) Commit() error {
	defer t.release()
	return t.Tx.Commit()
}

func (t tx) Rollback() error {
	defer t.release()
	return t.Tx.Rollback()
}

func (t tx) RollbackWith(callback func()) error {
	err := t.Rollback()

	if !errors.Is(err, sql.ErrTxDone) {
		callback()
	}

	return err
}

// Conn is a connection to the sql database.
type Conn interface {
	Queryer
	// Begin starts a new transaction. It blocks until every other transaction is finished.
	Begin(context.Context) (Tx, error)
	Close() error
}

type conn struct {
	*sqlx.DB
	mu sync.Mutex
}

func (c *conn) Begin(ctx context.Context) (Tx, error) {
	c.mu.Lock()

	rawTx, err := c.BeginTxx(ctx, nil)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return tx{Tx: rawTx, release: func() { once.Do(c.mu.Unlock) }}, nil
}

// OpenConnection opens an sqlite3 database connection and applies all pending migrations.
func OpenConnection(opts ConnOptions) (Conn, error) {
	sqliteVersion, _, _ := sqlite3.Version()

	dsn := createDataSourceName(opts)
	log.Info().
		Str("driver", driverName).
		Str("version", sqliteVersion).
		Str("dataSourceName", dsn).
		Msg("connecting to database")

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if opts.Filename == memoryFilename {
		// Every connection to an in-memory database opens a database of its own.
		db.SetMaxOpenConns(1)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &conn{DB: db}, nil
}

func createDataSourceName(opts ConnOptions) string {
	params := make(url.Values)
	params.Add("_foreign_keys", "true")
	params.Add("_journal_mode", opts.JournalMode)

	dsn := url.URL{
		Scheme:   "file",
		Opaque:   opts.Filename,
		RawQuery: params.Encode(),
	}

	return dsn.String()
}

func applyMigrations(db *sqlx.DB) error {
	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFolder,
		Root:       "migrations",
	}

	migrations := migrate.MigrationSet{TableName: changelogTable}

	n, err := migrations.Exec(db.DB, driverName, source, migrate.Up)
	if err != nil {
		return err
	}

	log.Debug().Int("migrations", n).Msg("database schema is up to date")
	return nil
}
