// Package errs defines the error kinds shared by the pattern packages.
//
// Every error produced while building or transforming a pattern table wraps
// exactly one of the sentinels below, so callers can match with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.
var (
	// ErrParsing marks malformed source metadata: missing or duplicate taxa,
	// bad labels, mixed or absent datatypes, ploidy that disagrees with the
	// highest state code.
	ErrParsing = errors.New("parsing error")

	// ErrInvalidCharacter marks a single cell that breaks the encoding rules.
	ErrInvalidCharacter = errors.New("invalid character")

	// ErrData marks an invariant violation after construction or a transform.
	ErrData = errors.New("data error")

	// ErrOutOfRange marks an unknown population, pattern or label lookup.
	ErrOutOfRange = errors.New("out of range")
)

// noSite is the Site value of errors that are not tied to a column.
const noSite = -1

// Error carries an error kind plus where it was detected.
type Error struct {
	Kind  error
	Path  string
	Taxon string
	Site  int // zero-based column, or -1
	Msg   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Taxon != "" {
		fmt.Fprintf(&b, ": taxon %q", e.Taxon)
	}
	if e.Site >= 0 {
		fmt.Fprintf(&b, ": site %d", e.Site+1)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// Unwrap returns the error kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// At attaches the offending cell to e and returns it.
func (e *Error) At(taxon string, site int) *Error {
	e.Taxon = taxon
	e.Site = site
	return e
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Site: noSite, Msg: fmt.Sprintf(format, args...)}
}

// Parsing returns an ErrParsing error.
func Parsing(format string, args ...any) *Error {
	return newf(ErrParsing, format, args...)
}

// InvalidCharacter returns an ErrInvalidCharacter error.
func InvalidCharacter(format string, args ...any) *Error {
	return newf(ErrInvalidCharacter, format, args...)
}

// Data returns an ErrData error.
func Data(format string, args ...any) *Error {
	return newf(ErrData, format, args...)
}

// OutOfRange returns an ErrOutOfRange error.
func OutOfRange(format string, args ...any) *Error {
	return newf(ErrOutOfRange, format, args...)
}

// WithPath records the source path on err if it is an *Error without one.
// Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		e.Path = path
	}
	return err
}
