package store

import (
	"context"
	"strings"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/cache"
	"github.com/Deepreo/jobscheduler/modules/database"
	"github.com/Deepreo/jobscheduler/modules/store/memory"
	"github.com/Deepreo/jobscheduler/modules/store/redisstore"
	"github.com/Deepreo/jobscheduler/modules/store/sqlstore"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

type Config struct {
	Driver   string                `mapstructure:"driver"`
	Init     bool                  `mapstructure:"init"`
	Tables   sqlstore.Tables       `mapstructure:"tables"`
	Postgres database.Config       `mapstructure:"postgres"`
	SQLite   database.SQLiteConfig `mapstructure:"sqlite"`
	Redis    cache.Config          `mapstructure:"redis"`
}

func DefaultConfig() Config {
	return Config{
		Driver: DriverMemory,
		Init:   true,
		Tables: sqlstore.DefaultTables(),
		Redis:  cache.Config{Host: "localhost", Port: "6379", Prefix: "jobscheduler:"},
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case DriverMemory, DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return errors.ValidationError(errors.New("storage.postgres needs a dsn or a host"))
		}
		return nil
	case DriverRedis:
		if len(c.Redis.Addrs) == 0 && c.Redis.Host == "" {
			return errors.ValidationError(errors.New("storage.redis needs addrs or a host"))
		}
		return nil
	default:
		return errors.ValidationError(errors.Newf("unknown storage driver %q", c.Driver))
	}
}

// Backend is an opened pair of stores and whatever connection backs them.
type Backend struct {
	Metadata      core.MetadataStore
	Notifications core.NotificationStore
	close         func() error
}

// Close releases the connection behind the stores.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects the configured backend. The stores are not initialised; the
// scheduler does that in Init.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres:
		db, err := database.New(ctx, &cfg.Postgres)
		if err != nil {
			return nil, err
		}
		opts := sqlOptions(cfg)
		return &Backend{
			Metadata:      sqlstore.NewMetadataStore(db.SQL(), sqlstore.Postgres, opts...),
			Notifications: sqlstore.NewNotificationStore(db.SQL(), sqlstore.Postgres, opts...),
			close:         func() error { db.Close(); return nil },
		}, nil

	case DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite)
		if err != nil {
			return nil, err
		}
		opts := sqlOptions(cfg)
		return &Backend{
			Metadata:      sqlstore.NewMetadataStore(db, sqlstore.SQLite, opts...),
			Notifications: sqlstore.NewNotificationStore(db, sqlstore.SQLite, opts...),
			close:         db.Close,
		}, nil

	case DriverRedis:
		r, err := cache.New(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Metadata:      redisstore.NewMetadataStore(r.Client, string(r.Keys)),
			Notifications: redisstore.NewNotificationStore(r.Client, string(r.Keys)),
			close:         r.Close,
		}, nil

	default:
		return &Backend{
			Metadata:      memory.NewMetadataStore(),
			Notifications: memory.NewNotificationStore(),
		}, nil
	}
}

func sqlOptions(cfg Config) []sqlstore.Option {
	return []sqlstore.Option{
		sqlstore.WithTables(cfg.Tables),
		sqlstore.WithCreateOnInit(cfg.Init),
	}
}
