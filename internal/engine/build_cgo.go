//go:build sqlite_cgo
// +build sqlite_cgo

package engine

// This file is compiled when building with CGO and the sqlite_cgo tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_cgo,sqlite_fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3, registered under its own name so
// that every connection gets the engine functions.

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "pgrn_sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, fn := range scalarFunctions {
				impl := fn.impl
				wrapped := func(args ...interface{}) (int64, error) {
					ok, err := impl(args)
					return boolToInt(ok), err
				}
				if err := conn.RegisterFunc(fn.name, wrapped, true); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
