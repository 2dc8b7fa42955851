package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/tapebf/cli"
	bfshim "github.com/MarcinKonowalczyk/tapebf/shim"
)

const runtimeName = "io.containerd.tapebf.v1"

func main() {
	// `run` turns the shim into a plain interpreter, handy for trying out a
	// program without containerd
	if run, args := isRunArg(os.Args[1:]); run {
		os.Exit(runProgram(args))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shim.Run(ctx, bfshim.NewManager(runtimeName))
}

func isRunArg(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == "run" {
		return true, args[1:]
	}
	return false, args
}

func runProgram(args []string) int {
	ctx, cancel := cli.WithSignals(context.Background())
	defer cancel()

	opts, err := cli.Parse("run", args)
	if err != nil {
		return cli.ExitStatus(err)
	}
	err = opts.Run(ctx, os.Stdin, os.Stdout)
	if err != nil {
		log.G(ctx).WithError(err).Error("run")
	}
	return cli.ExitStatus(err)
}
