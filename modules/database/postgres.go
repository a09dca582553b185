package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

type Config struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConnString returns DSN when set, otherwise a keyword/value string built from
// the individual fields.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Database is a pgx pool plus a database/sql view of the same pool for code
// written against database/sql.
type Database struct {
	Pool *pgxpool.Pool
	db   *sql.DB
}

func New(ctx context.Context, cfg *Config) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, errors.InfraError(errors.Wrap(err, "failed to parse database config"))
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.InfraError(errors.Wrap(err, "failed to create database pool"))
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.InfraError(errors.Wrap(err, "failed to ping database"))
	}

	return &Database{Pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// SQL returns the pool as a *sql.DB. Closing the Database closes it.
func (db *Database) SQL() *sql.DB {
	return db.db
}

func (db *Database) Close() {
	_ = db.db.Close()
	db.Pool.Close()
}

// HealthCheck returns nil if the database is reachable
func (db *Database) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}
