package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmd "brachyeval/cmd/brachyeval/cmd"
	"brachyeval/pkg/config"
)

var (
	GitSHA string = "NA"
)

func main() {
	// register sigterm for graceful shutdown
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc() // removes the signal handler so a second ctrl-c kills the process
		<-ctx.Done()
	}()

	config.LoadEnv()
	if err := cmd.NewRoot(ctx, GitSHA).Execute(); err != nil {
		os.Exit(1)
	}
}
