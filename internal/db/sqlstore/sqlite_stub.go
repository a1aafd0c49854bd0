//go:build !cgo

package sqlstore

import "errors"

const sqliteAvailable = false

var errSQLiteUnavailable = errors.New("SQLite backend is not available in non-CGO builds, rebuild with CGO_ENABLED=1 or use another store backend")
