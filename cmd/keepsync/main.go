// Command keepsync is a local-first note manager that syncs a SQLite
// note store against a remote provider: a Keep-style note API, a
// file-based cloud backup directory, or a git-hosted repository.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepsync/keepsync/internal/config"
	"github.com/keepsync/keepsync/internal/provider"
	"github.com/keepsync/keepsync/internal/store"
	"github.com/keepsync/keepsync/internal/sync"

	// Registered provider backends.
	_ "github.com/keepsync/keepsync/internal/provider/backupfile"
	_ "github.com/keepsync/keepsync/internal/provider/githost"
	_ "github.com/keepsync/keepsync/internal/provider/keep"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "keepsync",
	Short: "Local-first notes with remote sync",
	Long: `keepsync keeps your notes in a local SQLite database and syncs them
against a remote provider. Notes are always available offline; sync
runs on demand or in the background.

Providers:
  keep        Keep-style HTTP note API
  backupfile  JSON backup document in a cloud-mirrored directory
  githost     One JSON file per note in a hosted git repository`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.keepsync/config.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(notesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal("open store: %v", err)
	}
	return st
}

// activeProviderName prefers the provider recorded by an earlier
// connect, falling back to the configured one.
func activeProviderName(ctx context.Context, st *store.Store, cfg *config.Config) string {
	if name, err := st.GetSettingString(ctx, sync.SettingActiveProvider); err == nil && name != "" {
		return name
	}
	return cfg.Provider
}

// buildEngine builds a sync engine for the named provider and restores
// its session, trying stored credentials first and the config file
// second.
func buildEngine(ctx context.Context, st *store.Store, cfg *config.Config, name string, opts ...sync.Option) (*sync.Engine, error) {
	reg, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}
	p, err := reg.Get(name)
	if err != nil {
		return nil, err
	}

	engine := sync.New(st, p, opts...)
	if err := engine.Reconnect(ctx); err == nil {
		return engine, nil
	}

	creds, err := cfg.Credentials(name)
	if err != nil {
		return nil, err
	}
	if err := engine.Connect(ctx, creds); err != nil {
		return nil, err
	}
	return engine, nil
}

func newEngine(ctx context.Context, st *store.Store, cfg *config.Config, name string, opts ...sync.Option) *sync.Engine {
	engine, err := buildEngine(ctx, st, cfg, name, opts...)
	if err != nil {
		fatal("%v", err)
	}
	return engine
}
