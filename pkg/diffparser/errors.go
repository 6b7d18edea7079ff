package diffparser

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

// ErrNoSeparator is returned when a filename header has no separator between
// the filename and its revision info.
var ErrNoSeparator = errors.New("no valid separator after the filename was found in the diff header")

// ParseError reports malformed diff input at a zero-based line number.
type ParseError struct {
	Line int
	Msg  string
}

func newParseError(line int, msg string) *ParseError {
	return &ParseError{Line: line, Msg: msg}
}

// NewParseError returns a ParseError for header parsers outside this package.
func NewParseError(line int, format string, args ...any) *ParseError {
	return newParseError(line, fmt.Sprintf(format, args...))
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diff parse error on line %d: %s", e.Line+1, e.Msg)
}

// Is matches scm.ErrDiffParse.
func (e *ParseError) Is(target error) bool { return target == scm.ErrDiffParse }
