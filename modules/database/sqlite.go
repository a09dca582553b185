package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Deepreo/jobscheduler/errors"
	_ "modernc.org/sqlite"
)

const MemoryPath = ":memory:"

type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

func (c SQLiteConfig) dsn() string {
	path := c.Path
	if path == "" {
		path = MemoryPath
	}
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, timeout.Milliseconds())
}

// OpenSQLite opens an embedded database. An in-memory database is limited to
// one connection, since every connection would otherwise see its own empty
// database.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, errors.InfraError(errors.Wrap(err, "failed to open sqlite database"))
	}
	if cfg.Path == "" || cfg.Path == MemoryPath {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.InfraError(errors.Wrap(err, "failed to ping sqlite database"))
	}
	return db, nil
}
