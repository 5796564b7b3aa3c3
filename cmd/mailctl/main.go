// mailctl manages scheduled emails through the HTTP API.
//
// Usage:
//
//	mailctl [--api-url URL] [--json] <command> [flags]
//
// Commands:
//
//	list    List the most recently scheduled emails
//	show    Show one scheduled email
//	cancel  Cancel a pending scheduled email
//	send    Send a templated email now or at a given time
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"MailScheduler/internal/cli"
)

// version is set with ldflags at build time.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "mailctl",
		Short:         "Scheduled email CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewCommands(clientFn, outputFn)...)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
