package types

import "errors"

// Domain errors shared by the engine packages
var (
	// Usage errors
	ErrNotWritable     = errors.New("engine is not writable")
	ErrUniqueIndex     = errors.New("unique index isn't supported")
	ErrNotImplemented  = errors.New("not implemented")
	ErrInvalidStrategy = errors.New("unexpected strategy number")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSyntax          = errors.New("syntax error")

	// Engine object errors
	ErrObjectCorrupt   = errors.New("object corrupt")
	ErrSourcesNotFound = errors.New("sources table not found")
	ErrColumnNotFound  = errors.New("column not found")

	// Lifecycle errors
	ErrNotReady       = errors.New("crash safer is not ready")
	ErrEngineFinished = errors.New("engine is already finalized")
	ErrScanClosed     = errors.New("scan is already closed")
)
