package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/sequential/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sequential",
	Short: "Monotonic sequence generator",
	Long:  "sequential hands out strictly increasing integers of a fixed width, from the command line or over HTTP.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("sequential version %s\n", version))

	rootCmd.AddCommand(cli.NewGenCmd())
	rootCmd.AddCommand(cli.NewStateCmd())
	rootCmd.AddCommand(cli.NewServeCmd())
}
