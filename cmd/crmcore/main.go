// Command crmcore runs the CRM lifecycle engine against the configured
// snapshot, blob and remote stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crmcore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
