// Command uprpc runs the query router and simple RPC endpoints on top of it.
//
//	uprpc router --listen :7447 --metrics :9090
//	uprpc echo   --router 127.0.0.1:7447 --method up://vehicle/2002/2/7
//	uprpc invoke --router 127.0.0.1:7447 --method up://vehicle/2002/2/7 --data hello
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "uprpc",
		Short:         "RPC over query/reply sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(root)
	root.AddCommand(newRouterCmd(opts), newEchoCmd(opts), newInvokeCmd(opts))
	return root
}
