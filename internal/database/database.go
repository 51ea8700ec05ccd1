package database

import (
	"database/sql"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Opens a database with the matching bun dialect.
func Open(driver string, uri string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite:
		sqldb, err := sql.Open(DriverSQLite, uri)
		if err != nil {
			return nil, errors.Wrap(err, "could not open sqlite database")
		}

		// sqlite allows a single writer, so everything, including the
		// nested savepoints the storage allocator takes, shares one connection.
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil

	case DriverPostgres:
		sqldb, err := sql.Open(DriverPostgres, uri)
		if err != nil {
			return nil, errors.Wrap(err, "could not open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	return nil, errors.Errorf("unsupported database driver %q", driver)
}
