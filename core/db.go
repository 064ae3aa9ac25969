package core

import (
	"database/sql"
	"io/fs"
	"net/url"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeout is the number of milliseconds a connection waits on a locked database.
	BusyTimeout int
	// MaxOpenConns is passed to sql.DB. Zero leaves the default.
	MaxOpenConns int
}

// DSN encodes the options as SQLite URI parameters. Foreign keys are always enabled.
func (config *SQLiteDBOption) DSN() string {
	q := url.Values{}
	q.Set("_foreign_keys", "1")
	if config == nil {
		return q.Encode()
	}
	if config.Mode != "" {
		q.Set("mode", config.Mode)
	}
	if config.Cache != "" {
		q.Set("cache", config.Cache)
	}
	if config.JournalMode != "" {
		q.Set("_journal_mode", config.JournalMode)
	}
	if config.BusyTimeout > 0 {
		q.Set("_busy_timeout", strconv.Itoa(config.BusyTimeout))
	}
	return q.Encode()
}

type SQLiteDB struct {
	*sql.DB
	config     *SQLiteDBOption
	file       string
	migrations fs.FS
}

func NewSQLiteDB(file string, migrations fs.FS, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, migrations: migrations, file: file}

	d, err := sql.Open("sqlite3", "file:"+db.file+"?"+config.DSN())
	if err != nil {
		return nil, err
	}
	if config != nil && config.MaxOpenConns > 0 {
		d.SetMaxOpenConns(config.MaxOpenConns)
	}

	db.DB = d
	return db, nil
}

func (db *SQLiteDB) Migrate() error {
	return Migrate(db.DB, db.migrations)
}

// Migrate applies every pending goose migration found at the root of migrations.
func Migrate(db *sql.DB, migrations fs.FS) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db, "."); err != nil {
		return err
	}
	return nil
}
