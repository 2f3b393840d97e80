package reference

import (
	"errors"
	"fmt"
)

var (
	// ErrParse matches every *ParseError via errors.Is.
	ErrParse = errors.New("reference schema parse error")

	ErrNoObjects    = errors.New("no recognizable schema objects")
	errUnterminated = errors.New("unterminated quoted text")
)

// ParseError reports a reference statement that could not be decomposed.
// Parsing stops at the first one; no partial reference is returned.
type ParseError struct {
	Statement string
	Line      int
	Reason    string
}

func (e *ParseError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("reference schema line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("reference schema line %d: %s: %q", e.Line, e.Reason, e.Statement)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
