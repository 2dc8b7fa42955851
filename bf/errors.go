package bf

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedProgram is matched by every *SyntaxError.
	ErrMalformedProgram = errors.New("malformed program")
	// ErrTapeUnderflow is returned when the cursor is moved left of cell 0.
	ErrTapeUnderflow = errors.New("tape underflow")
	// ErrEncoding is returned when a cell cannot be written in the output
	// encoding.
	ErrEncoding = errors.New("unencodable cell value")
	// ErrInput is returned when the input source fails.
	ErrInput = errors.New("input failed")
)

// SyntaxError reports an unmatched bracket. Offset is the byte offset into the
// source, Line and Column are 1-based.
type SyntaxError struct {
	Bracket Command
	Offset  int
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	what := "unmatched ']'"
	if e.Bracket == LoopStart {
		what = "unmatched '[' (program ended inside a loop)"
	}
	return fmt.Sprintf("%s: %s at line %d, column %d", ErrMalformedProgram, what, e.Line, e.Column)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrMalformedProgram
}

// RuntimeError is a fatal error raised while executing a program.
type RuntimeError struct {
	PC      int
	Command Command
	Cursor  int
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%v at pc %d (%q), cursor %d", e.Err, e.PC, rune(e.Command), e.Cursor)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
