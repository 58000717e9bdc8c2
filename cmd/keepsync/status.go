package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepsync/keepsync/internal/note"
)

var statusLogLines int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and recent activity",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := activeProviderName(ctx, st, cfg)
		fmt.Printf("Provider: %s\n", name)

		lastSync := "never"
		if ts, err := st.GetSettingString(ctx, "last_sync."+name); err == nil && ts != "" {
			lastSync = ts
		}
		fmt.Printf("Last sync: %s\n", lastSync)

		total, err := st.NoteCount(ctx)
		if err != nil {
			fatal("count notes: %v", err)
		}
		fmt.Printf("Notes: %d\n", total)

		statuses := []note.SyncStatus{
			note.StatusLocalOnly,
			note.StatusPendingPush,
			note.StatusConflict,
			note.StatusDeletedRemote,
		}
		for _, status := range statuses {
			notes, err := st.ListByStatus(ctx, status)
			if err != nil {
				fatal("list %s notes: %v", status, err)
			}
			if len(notes) == 0 {
				continue
			}
			fmt.Printf("  %s: %d\n", status, len(notes))
			if status == note.StatusConflict {
				for _, n := range notes {
					fmt.Printf("    %s  %q\n", n.ID, n.Title)
				}
			}
		}

		entries, err := st.ListSyncLog(ctx, statusLogLines)
		if err != nil {
			fatal("read sync log: %v", err)
		}
		if len(entries) > 0 {
			fmt.Println("\nRecent activity:")
			for _, entry := range entries {
				line := fmt.Sprintf("  %s  %-7s %-9s", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Action, entry.Status)
				if entry.NoteID != "" {
					line += " " + entry.NoteID
				}
				if entry.Message != "" {
					line += "  " + entry.Message
				}
				fmt.Println(line)
			}
		}
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLogLines, "log", 10, "number of sync log entries to show")
}
