package errors

import "errors"

// Indexing errors. Any of these aborts the run before a single note is
// reconciled.
var (
	ErrIndexing          = errors.New("remote indexing failed")
	ErrIncompleteListing = errors.New("remote listing incomplete")
)

// Per-record errors. The affected note is skipped or counted, the run
// continues.
var (
	ErrParse              = errors.New("malformed note header")
	ErrDuplicateIdentity  = errors.New("note id claimed by more than one file")
	ErrExecution          = errors.New("note mutation failed")
	ErrListRewriteTimeout = errors.New("list rewrite timed out")
)

// Policy outcomes.
var (
	ErrConflict = errors.New("unresolved material conflict")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
