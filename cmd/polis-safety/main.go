// Package main is the entry point for the polis-safety binary. It runs
// content safety policies over text read from flags or stdin.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	// exitStopped is returned when any input was blocked or raised.
	exitStopped = 2
)

// errStopped signals that at least one input was stopped by a policy.
var errStopped = errors.New("one or more inputs were stopped by a policy")

func main() {
	_ = godotenv.Load()

	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		if errors.Is(err, errStopped) {
			return exitStopped
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// newRootCmd creates the root command for polis-safety
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-safety",
		Short: "Content safety policies for LLM inputs and outputs",
		Long: `Runs content safety policies that detect crypto, phone numbers, sensitive
social issues, adult content or custom keywords and then allow, block, replace,
anonymize or raise.

Example:
  echo "send me bitcoin" | polis-safety run --policy CryptoReplace`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json); overrides the config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newPoliciesCmd(),
		newValidateCmd(),
		newRestoreCmd(),
	)
	return rootCmd
}
