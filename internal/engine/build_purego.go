//go:build purego || !sqlite_cgo
// +build purego !sqlite_cgo

package engine

// This file is compiled when building without the sqlite_cgo tag.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Driver used: modernc.org/sqlite. FTS5, the trigram tokenizer and the JSON
// functions are compiled in.

import (
	"database/sql/driver"

	"modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func init() {
	for _, fn := range scalarFunctions {
		impl := fn.impl
		err := sqlite.RegisterDeterministicScalarFunction(fn.name, fn.nArgs,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				values := make([]any, len(args))
				for i, a := range args {
					values[i] = a
				}
				ok, err := impl(values)
				if err != nil {
					return nil, err
				}
				return boolToInt(ok), nil
			})
		if err != nil {
			panic("failed to register sqlite function " + fn.name + ": " + err.Error())
		}
	}
}
