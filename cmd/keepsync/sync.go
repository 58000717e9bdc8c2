package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncProviderFlag string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a full sync cycle against the active provider:

  1. Refresh the provider session
  2. Pull the remote snapshot and merge it into the local store
  3. Mark notes deleted remotely
  4. Push local changes out
  5. Refresh again to flush pushed changes

Notes edited both locally and remotely are marked as conflicts and
left untouched; resolve them with 'keepsync notes resolve'.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := syncProviderFlag
		if name == "" {
			name = activeProviderName(ctx, st, cfg)
		}
		engine := newEngine(ctx, st, cfg, name)

		res, err := engine.Sync(ctx)
		if err != nil {
			fatal("sync: %v", err)
		}
		if res.Skipped {
			fmt.Printf("Sync skipped: %s\n", res.SkipReason)
			return
		}
		fmt.Printf("Sync complete (%s): %s\n", name, res.Stats)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncProviderFlag, "provider", "", "sync against this provider instead of the active one")
}
