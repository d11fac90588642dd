// Command devsync-peer joins devsync rooms from a terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/devsync/internal/client/cli"
	"github.com/dmitrijs2005/devsync/internal/client/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.NewApp(config.LoadConfig()).Run(ctx)
}
