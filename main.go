package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	lobby "github.com/putto11262002/lobby/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	config, err := lobby.LoadConfig()
	if err != nil {
		failed(1, "failed to load config: %v\n", err)
	}

	app, err := lobby.New(ctx, config)
	if err != nil {
		failed(1, "failed to start: %v\n", err)
	}

	if err := app.Start(); err != nil {
		failed(1, "app exit: %v\n", err)
	}
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
