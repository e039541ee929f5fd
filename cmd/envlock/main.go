package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/awnumar/memguard"

	"github.com/systmms/envlock/cmd/envlock/commands"
	"github.com/systmms/envlock/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := commands.NewApp(&config.Config{})
	return commands.Execute(ctx, app, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date), os.Args[1:])
}
