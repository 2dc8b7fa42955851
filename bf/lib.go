package bf

import (
	"context"
	_ "embed"
	"io"
)

// Pi prints the first digits of pi. It is what the CLI runs when no program
// file is given.
//
//go:embed programs/pi.bf
var Pi string

// RunContext parses source and runs it to completion.
func RunContext(ctx context.Context, source string, input InputSource, output io.Writer, encoding Encoding) error {
	program, err := Parse(source)
	if err != nil {
		return err
	}
	interpreter := NewInterpreter(program, input, output)
	interpreter.Encoding = encoding
	return interpreter.RunContext(ctx)
}

func Run(source string, input InputSource, output io.Writer) error {
	return RunContext(context.Background(), source, input, output, Latin1)
}
