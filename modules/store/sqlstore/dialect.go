package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect holds what differs between the supported SQL engines: placeholder
// syntax and column types.
type Dialect struct {
	Name     string
	numbered bool
	UUIDType string
	BlobType string
	BoolType string
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true, UUIDType: "UUID", BlobType: "BYTEA", BoolType: "BOOLEAN"}
	SQLite   = Dialect{Name: "sqlite", UUIDType: "TEXT", BlobType: "BLOB", BoolType: "INTEGER"}
)

// DialectByName returns the dialect for a driver name.
func DialectByName(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	default:
		return Dialect{}, false
	}
}

// Rebind rewrites ? placeholders into the dialect's syntax. Queries here never
// contain a literal question mark.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tables names the three tables of the relational backend.
type Tables struct {
	Job               string `mapstructure:"job"`
	Notification      string `mapstructure:"notification"`
	NotificationState string `mapstructure:"notification_state"`
}

func DefaultTables() Tables {
	return Tables{Job: "job", Notification: "notification", NotificationState: "notification_state"}
}

func (t Tables) withDefaults() Tables {
	d := DefaultTables()
	if t.Job == "" {
		t.Job = d.Job
	}
	if t.Notification == "" {
		t.Notification = d.Notification
	}
	if t.NotificationState == "" {
		t.NotificationState = d.NotificationState
	}
	return t
}

type options struct {
	tables       Tables
	createOnInit bool
}

type Option func(*options)

func WithTables(t Tables) Option {
	return func(o *options) {
		o.tables = t.withDefaults()
	}
}

// WithCreateOnInit controls whether Init creates the tables. It defaults to
// true.
func WithCreateOnInit(create bool) Option {
	return func(o *options) {
		o.createOnInit = create
	}
}

func newOptions(opts []Option) options {
	o := options{tables: DefaultTables(), createOnInit: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execAll(ctx context.Context, db execer, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
