package postgres

import (
	"strings"

	"sigfit/internal/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLitePrefix selects the SQLite development database instead of Postgres,
// e.g. sqlite://./fit/ledger.db.
const SQLitePrefix = "sqlite://"

// Connect opens the ledger database named by url.
func Connect(url string) (*sqlx.DB, error) {
	driver, dsn := "postgres", url
	if strings.HasPrefix(url, SQLitePrefix) {
		driver, dsn = "sqlite3", strings.TrimPrefix(url, SQLitePrefix)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to "+driver+" database", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
