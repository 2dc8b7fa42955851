package main

import (
	"context"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/tapebf/cli"
)

// comptime override for debug flag
// set with `-ldflags="-X 'main.debug=true'"`
var debug string

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := cli.WithSignals(context.Background())
	defer cancel()

	opts, err := cli.Parse("tapebf", os.Args[1:])
	if err != nil {
		return cli.ExitStatus(err)
	}
	opts.Debug = opts.Debug || debug != ""

	err = opts.Run(ctx, os.Stdin, os.Stdout)
	if err != nil {
		log.G(ctx).WithError(err).Error("tapebf")
	}
	return cli.ExitStatus(err)
}
