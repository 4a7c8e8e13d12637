package db

import "errors"

// Sentinel errors for storage operations.
var (
	ErrKeyNotFound = errors.New("db: key not found")
	ErrNoRows      = errors.New("db: no rows")
	ErrConflict    = errors.New("db: unique constraint violation")
)

// Op names annotate storage errors.
const (
	OpGet     = "GET"
	OpSet     = "SET"
	OpConnect = "CONNECT"
	OpAcquire = "ACQUIRE"
	OpBegin   = "BEGIN"
	OpCommit  = "COMMIT"
	OpExec    = "EXEC"
	OpQuery   = "QUERY"
	OpMigrate = "MIGRATE"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
