// Command tickrun runs tenant scripts against a SQLite game store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tickrun",
	Short: "Run tenant scripts once per game tick in isolated sandboxes.",
	Long: `tickrun executes each tenant's code in its own long-lived QuickJS context,
meters its CPU time, audits the sandbox after every tick and commits the
outcome to the store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(runCmd, loopCmd, tenantCmd, deployCmd, consoleCmd, worldCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
