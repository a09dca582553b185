package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	cfg := Config{Host: "localhost", Port: "5432", User: "u", Password: "p", DBName: "jobs", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=jobs sslmode=disable", cfg.ConnString())

	cfg.DSN = "postgres://u:p@db/jobs"
	assert.Equal(t, "postgres://u:p@db/jobs", cfg.ConnString())
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{DSN: "postgres://%zz"})
	require.Error(t, err)
}

func TestOpenSQLiteInMemory(t *testing.T) {
	db, err := OpenSQLite(context.Background(), SQLiteConfig{})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE probe (v INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO probe (v) VALUES (?)`, 7)
	require.NoError(t, err)

	var v int
	require.NoError(t, db.QueryRow(`SELECT v FROM probe`).Scan(&v))
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}
