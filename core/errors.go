package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when an input file is missing or unreadable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord is returned for a record with the wrong field count or an unparsable field.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrInvalidWindow is returned when a window's min corner exceeds its max corner on some axis.
	ErrInvalidWindow = errors.New("invalid window")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrIndexOperation wraps failures reported by the index under test.
	ErrIndexOperation = errors.New("index operation failed")
)

// SourceError describes an input that could not be opened or read.
//
// It matches ErrSourceUnavailable with errors.Is; the underlying
// error can be accessed via errors.Unwrap.
type SourceError struct {
	Path  string
	cause error
}

// NewSourceError wraps cause for the given path.
func NewSourceError(path string, cause error) *SourceError {
	return &SourceError{Path: path, cause: cause}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceUnavailable, e.Path, e.cause)
}

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

func (e *SourceError) Unwrap() error { return e.cause }

// RecordError locates a bad record inside an input file.
//
// Kind is one of ErrMalformedRecord, ErrInvalidWindow or ErrInvalidK and is
// what errors.Is matches against. Column is -1 when the whole record is at fault.
type RecordError struct {
	Path   string
	Line   int
	Column int
	Kind   error
	cause  error
}

// NewRecordError builds a RecordError of the given kind.
func NewRecordError(path string, line, column int, kind, cause error) *RecordError {
	return &RecordError{Path: path, Line: line, Column: column, Kind: kind, cause: cause}
}

func (e *RecordError) Error() string {
	if e.Column >= 0 {
		return fmt.Sprintf("%s: %s line %d col %d: %v", e.Kind, e.Path, e.Line, e.Column, e.cause)
	}
	return fmt.Sprintf("%s: %s line %d: %v", e.Kind, e.Path, e.Line, e.cause)
}

func (e *RecordError) Is(target error) bool { return target == e.Kind }

func (e *RecordError) Unwrap() error { return e.cause }
