package main

import (
	"context"
	"os/signal"
	"syscall"

	workerconsumer "github.com/statelens/statelens/app/consumer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := workerconsumer.Initialize(ctx)

	app.Start(ctx)
}
