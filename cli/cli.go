// Package cli holds the flag set and run loop shared by the tapebf binaries.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/tapebf/bf"
)

// Exit statuses.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128

// SignalError is the cancellation cause of a context stopped by a signal. It
// matches context.Canceled.
type SignalError struct {
	Signal os.Signal
}

func (e SignalError) Error() string {
	return "received " + e.Signal.String()
}

func (e SignalError) Is(target error) bool {
	return target == context.Canceled
}

// WithSignals returns a context cancelled with a SignalError on the first
// SIGINT or SIGTERM. Later signals get their default behaviour, so a second
// Ctrl-C kills a process stuck in blocking I/O.
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			cancel(SignalError{Signal: sig})
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

type Options struct {
	File     string
	Input    string
	Encoding string
	Newline  bool
	Debug    bool
}

// Flags registers the options on fs.
func (o *Options) Flags(fs *flag.FlagSet) {
	fs.StringVar(&o.File, "file", "", "brainfuck source file (default: the built-in pi program)")
	fs.StringVar(&o.Input, "input", "zero", "input source for ',': zero or stdin")
	fs.StringVar(&o.Encoding, "encoding", "latin1", "output encoding: latin1, raw or ascii")
	fs.BoolVar(&o.Newline, "newline", true, "print a newline when the program halts")
	fs.BoolVar(&o.Debug, "debug", false, "enable debug logging")
}

// Parse parses args into fresh options.
func Parse(name string, args []string) (*Options, error) {
	o := &Options{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	o.Flags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, usageError{err}
	}
	if fs.NArg() > 0 {
		return nil, usageError{fmt.Errorf("unexpected arguments: %v", fs.Args())}
	}
	return o, nil
}

func (o *Options) source() (string, error) {
	if o.File == "" {
		return bf.Pi, nil
	}
	source, err := os.ReadFile(o.File)
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}
	return string(source), nil
}

func (o *Options) input(stdin io.Reader) (bf.InputSource, error) {
	switch o.Input {
	case "", "zero":
		return bf.ZeroInput{}, nil
	case "stdin", "-":
		return bf.NewReaderInput(stdin), nil
	}
	return nil, fmt.Errorf("unknown input source %q", o.Input)
}

// Run loads and runs the program.
func (o *Options) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if o.Debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	encoding, err := bf.ParseEncoding(o.Encoding)
	if err != nil {
		return err
	}
	input, err := o.input(stdin)
	if err != nil {
		return err
	}
	source, err := o.source()
	if err != nil {
		return err
	}

	log.G(ctx).WithField("file", o.File).WithField("encoding", encoding).Debug("running program")
	if err := bf.RunContext(ctx, source, input, stdout, encoding); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	if o.Newline {
		_, err = io.WriteString(stdout, "\n")
	}
	return err
}

// ExitStatus maps the error returned by Parse or Run to a process exit
// status. A run stopped by a signal exits with 128 plus the signal number.
func ExitStatus(err error) int {
	var serr SignalError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return ExitOK
	case errors.As(err, &serr):
		if sig, ok := serr.Signal.(syscall.Signal); ok {
			return exitCodeSignal + int(sig)
		}
		return ExitInterrupted
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, new(usageError)):
		return ExitUsage
	default:
		return ExitError
	}
}

// usageError is a bad command line.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }
