package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryguy/tickrun"
	"github.com/cryguy/tickrun/internal/compiler"
)

var (
	tenantCPU    int
	tenantBucket int
	tenantRoom   string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant <id> <username>",
	Short: "Create or update a tenant and give it a spawn",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := cmd.Context()
		t := tickrun.Tenant{ID: args[0], Username: args[1], CPU: tenantCPU, Bucket: tenantBucket, Active: true}
		if err := store.PutTenant(ctx, t); err != nil {
			return err
		}
		spawn := map[string]any{"type": "spawn", "user": t.ID, "room": tenantRoom, "x": 25, "y": 25}
		if err := store.PutObject(ctx, t.ID+"-spawn", t.ID, tenantRoom, spawn); err != nil {
			return err
		}
		fmt.Printf("tenant %s (%s) ready in %s\n", t.ID, t.Username, tenantRoom)
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <tenant-id> <dir>",
	Short: "Upload every .js file in dir as the tenant's modules",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		files, err := filepath.Glob(filepath.Join(args[1], "*.js"))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no .js files in %s", args[1])
		}
		modules := make(map[string]string, len(files))
		for _, f := range files {
			src, err := os.ReadFile(f)
			if err != nil {
				return err
			}
			modules[strings.TrimSuffix(filepath.Base(f), ".js")] = string(src)
		}
		version, err := store.PutCode(cmd.Context(), args[0], modules)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(modules))
		for name := range modules {
			names = append(names, compiler.DecodeName(name))
		}
		sort.Strings(names)
		fmt.Printf("deployed version %d: %s\n", version, strings.Join(names, ", "))
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console <tenant-id> <expression>",
	Short: "Queue a console expression for the tenant's next tick",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.QueueConsoleCommand(cmd.Context(), args[0], args[1])
	},
}

var worldCmd = &cobra.Command{
	Use:   "world <terrain-file> <room>...",
	Short: "Import raw terrain, 2500 bytes per room in the order given",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := store.PutWorld(cmd.Context(), args[1:], raw); err != nil {
			return err
		}
		fmt.Printf("imported terrain for %d rooms\n", len(args)-1)
		return nil
	},
}

func init() {
	tenantCmd.Flags().IntVar(&tenantCPU, "cpu", 100, "CPU allotment per tick in ms (0 is unmetered)")
	tenantCmd.Flags().IntVar(&tenantBucket, "bucket", 10000, "initial CPU bucket")
	tenantCmd.Flags().StringVar(&tenantRoom, "room", "W1N1", "room of the tenant's spawn")
}
