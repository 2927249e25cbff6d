package model

import "errors"

// Structural errors abort the current step but leave the session in place.
var (
	ErrUnreadableFile         = errors.New("file cannot be parsed as the declared type")
	ErrEmptyFile              = errors.New("file has no data rows")
	ErrTooManyRows            = errors.New("file exceeds the maximum number of rows")
	ErrUnsupportedFileType    = errors.New("unsupported file type")
	ErrUnknownColumn          = errors.New("mapping references a column not present in the file")
	ErrUnknownField           = errors.New("unknown mapping field")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
)

// Session guard errors
var (
	ErrIllegalTransition = errors.New("illegal import step transition")
	ErrNoTable           = errors.New("no file has been uploaded")
	ErrIncompleteMapping = errors.New("date, amount and description must be mapped")
	ErrNoAccount         = errors.New("no target account selected")
	ErrNothingToImport   = errors.New("no valid rows to import")
	ErrMappingFrozen     = errors.New("mapping cannot change after commit started")
	ErrSessionNotFound   = errors.New("import session not found")
	ErrStaleCommit       = errors.New("commit no longer owns the session")
	ErrFileNotArchived   = errors.New("uploaded file is not archived")
)

// ErrResourceUnavailable marks failures that abort a commit before any row is written.
var ErrResourceUnavailable = errors.New("persistence unavailable")
