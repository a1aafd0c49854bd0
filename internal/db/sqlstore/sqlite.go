//go:build cgo

package sqlstore

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteAvailable = true

var errSQLiteUnavailable error
