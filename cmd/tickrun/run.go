package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryguy/tickrun"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run <tenant-id>",
	Short: "Run one tick for a tenant and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := initComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		var history []tickrun.Stage
		c.runner.Observe(func(r *tickrun.Run) { history = r.History() })
		res := c.runner.Run(cmd.Context(), tickrun.RunRequest{TenantID: args[0], Timeout: runTimeout})

		out := struct {
			*tickrun.RunResult
			Kind   tickrun.ErrorKind `json:"kind,omitempty"`
			Stages []tickrun.Stage   `json:"stages"`
		}{res, res.Kind, history}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock ceiling for the run (default from config)")
}
