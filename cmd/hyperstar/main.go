package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperstar-dev/hyperstar/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hyperstar",
		Short: "Server-authoritative live-UI synchronization",
		Long: `Hyperstar keeps application state on the server and pushes every
change to every connected browser over server-sent events.

This binary runs the demo counter application; real applications
embed the hyperstar package directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var herr *errors.Error
		if stderrors.As(err, &herr) {
			fmt.Fprintln(os.Stderr, herr.Format())
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}
