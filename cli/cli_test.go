package cli_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MarcinKonowalczyk/tapebf/bf"
	"github.com/MarcinKonowalczyk/tapebf/cli"
	"github.com/MarcinKonowalczyk/tapebf/utils"
)

func TestParse_Defaults(t *testing.T) {
	opts, err := cli.Parse("test", nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, opts.File, "")
	utils.AssertEqual(t, opts.Input, "zero")
	utils.AssertEqual(t, opts.Encoding, "latin1")
	utils.Assert(t, opts.Newline, "newline off by default")
	utils.Assert(t, !opts.Debug, "debug on by default")
}

func TestParse_Errors(t *testing.T) {
	_, err := cli.Parse("test", []string{"-nope"})
	utils.AssertError(t, err)
	utils.AssertEqual(t, cli.ExitStatus(err), cli.ExitUsage)
	_, err = cli.Parse("test", []string{"stray"})
	utils.AssertError(t, err)
	utils.AssertEqual(t, cli.ExitStatus(err), cli.ExitUsage)
}

func TestParse_Help(t *testing.T) {
	_, err := cli.Parse("test", []string{"-h"})
	utils.AssertErrorIs(t, err, flag.ErrHelp)
	utils.AssertEqual(t, cli.ExitStatus(err), cli.ExitOK)
}

func TestRun_BuiltinProgram(t *testing.T) {
	opts, err := cli.Parse("test", nil)
	utils.AssertNoError(t, err)
	var out bytes.Buffer
	utils.AssertNoError(t, opts.Run(context.Background(), nil, &out))
	utils.AssertEqual(t, out.String(), "3.141\n\n")
}

func TestRun_FileWithStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.bf")
	utils.AssertNoError(t, os.WriteFile(path, []byte("echo: ,[.,]"), 0644))

	opts, err := cli.Parse("test", []string{"-file", path, "-input", "stdin", "-newline=false"})
	utils.AssertNoError(t, err)
	var out bytes.Buffer
	utils.AssertNoError(t, opts.Run(context.Background(), strings.NewReader("yes"), &out))
	utils.AssertEqual(t, out.String(), "yes")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bf")
	utils.AssertNoError(t, os.WriteFile(bad, []byte("[["), 0644))
	high := filepath.Join(dir, "high.bf")
	utils.AssertNoError(t, os.WriteFile(high, []byte("-."), 0644))

	cases := []struct {
		name   string
		args   []string
		target error
	}{
		{"malformed", []string{"-file", bad}, bf.ErrMalformedProgram},
		{"ascii", []string{"-file", high, "-encoding", "ascii"}, bf.ErrEncoding},
		{"missing", []string{"-file", filepath.Join(dir, "missing.bf")}, os.ErrNotExist},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			opts, err := cli.Parse("test", c.args)
			utils.AssertNoError(t, err)
			err = opts.Run(context.Background(), nil, &bytes.Buffer{})
			utils.AssertErrorIs(t, err, c.target)
			utils.AssertEqual(t, cli.ExitStatus(err), cli.ExitError)
		})
	}
}

func TestRun_BadOptions(t *testing.T) {
	opts, err := cli.Parse("test", []string{"-encoding", "utf-16"})
	utils.AssertNoError(t, err)
	utils.AssertError(t, opts.Run(context.Background(), nil, &bytes.Buffer{}))

	opts, err = cli.Parse("test", []string{"-input", "mouse"})
	utils.AssertNoError(t, err)
	utils.AssertError(t, opts.Run(context.Background(), nil, &bytes.Buffer{}))
}

func TestExitStatus(t *testing.T) {
	utils.AssertEqual(t, cli.ExitStatus(nil), cli.ExitOK)
	utils.AssertEqual(t, cli.ExitStatus(context.Canceled), cli.ExitInterrupted)
	utils.AssertEqual(t, cli.ExitStatus(errors.New("boom")), cli.ExitError)
	utils.AssertEqual(t, cli.ExitStatus(cli.SignalError{Signal: syscall.SIGINT}), 130)
	utils.AssertEqual(t, cli.ExitStatus(cli.SignalError{Signal: syscall.SIGTERM}), 143)
}

func TestRun_CancelledWhileWaitingForInput(t *testing.T) {
	opts, err := cli.Parse("test", []string{"-file", writeProgram(t, ",."), "-input", "stdin"})
	utils.AssertNoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancelCause(context.Background())
	result := make(chan error, 1)
	go func() { result <- opts.Run(ctx, pr, &bytes.Buffer{}) }()
	time.Sleep(10 * time.Millisecond)
	cancel(cli.SignalError{Signal: syscall.SIGTERM})

	select {
	case err := <-result:
		utils.AssertErrorIs(t, err, context.Canceled)
		utils.AssertEqual(t, cli.ExitStatus(err), 143)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation ignored while waiting for input")
	}
}

func TestWithSignals(t *testing.T) {
	ctx, cancel := cli.WithSignals(context.Background())
	defer cancel()
	utils.AssertNoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not cancel the context")
	}
	serr := utils.AssertErrorAs[cli.SignalError](t, context.Cause(ctx))
	utils.AssertEqual(t, serr.Signal, os.Signal(syscall.SIGTERM))
}

func writeProgram(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.bf")
	utils.AssertNoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}
