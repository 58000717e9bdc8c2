package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepsync/keepsync/internal/provider"
	"github.com/keepsync/keepsync/internal/sync"
)

var connectCmd = &cobra.Command{
	Use:   "connect [provider]",
	Short: "Connect to a provider and make it active",
	Long: `Connect to a provider using the credentials from the config file and
store them for later sessions. With no argument the configured default
provider is used.

Available providers: ` + providerList(),
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := cfg.Provider
		if len(args) > 0 {
			name = args[0]
		}

		reg, err := provider.NewRegistry()
		if err != nil {
			fatal("%v", err)
		}
		p, err := reg.Get(name)
		if err != nil {
			fatal("%v", err)
		}
		creds, err := cfg.Credentials(name)
		if err != nil {
			fatal("%v", err)
		}

		engine := sync.New(st, p)
		if err := engine.Connect(ctx, creds); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Connected to %s\n", name)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "End the active provider session and forget its credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := activeProviderName(ctx, st, cfg)
		engine := newEngine(ctx, st, cfg, name)
		if err := engine.Disconnect(ctx); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Disconnected from %s\n", name)
	},
}

func providerList() string {
	out := ""
	for i, name := range provider.RegisteredNames() {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
