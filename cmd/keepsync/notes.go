package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/store"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Work with local notes",
}

var (
	noteLabels   []string
	notePinned   bool
	listAll      bool
	unlinkRemote bool
	keepLocal    bool
)

var notesAddCmd = &cobra.Command{
	Use:   "add <title> [content]",
	Short: "Create a note",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		content := ""
		if len(args) > 1 {
			content = args[1]
		}
		n := note.New(args[0], content)
		n.Pinned = notePinned
		n.SetLabels(noteLabels)
		for _, name := range n.Labels {
			if _, err := st.EnsureLabel(ctx, name); err != nil {
				fatal("label %s: %v", name, err)
			}
		}
		if err := st.SaveNote(ctx, n); err != nil {
			fatal("save note: %v", err)
		}
		fmt.Printf("Created note %s\n", n.ID)
	},
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		notes, err := st.ListNotes(ctx, store.ListOptions{
			IncludeArchived: listAll,
			IncludeTrashed:  listAll,
		})
		if err != nil {
			fatal("list notes: %v", err)
		}
		printNotes(notes)
	},
}

var notesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles and content",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		notes, err := st.Search(ctx, args[0])
		if err != nil {
			fatal("search: %v", err)
		}
		printNotes(notes)
	},
}

var notesTrashCmd = &cobra.Command{
	Use:   "trash <id>",
	Short: "Move a note to the trash",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		if err := st.DeleteNote(ctx, args[0], false); err != nil {
			fatal("trash note: %v", err)
		}
		fmt.Println("Trashed")
	},
}

var notesRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a note from the trash",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		if err := st.RestoreNote(ctx, args[0]); err != nil {
			fatal("restore note: %v", err)
		}
		fmt.Println("Restored")
	},
}

var notesUnlinkCmd = &cobra.Command{
	Use:   "unlink <id>",
	Short: "Sever a note from its remote copy",
	Long: `Unlink a note from the remote provider. The local note is kept and
reverts to local-only. With --delete-remote the remote copy is removed
first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := activeProviderName(ctx, st, cfg)
		engine := newEngine(ctx, st, cfg, name)
		if err := engine.Unlink(ctx, args[0], unlinkRemote); err != nil {
			fatal("unlink: %v", err)
		}
		fmt.Println("Unlinked")
	},
}

var notesResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve a conflicted note",
	Long: `Settle a note marked as conflicted. With --local the local content is
kept and pushed on the next sync; without it the remote copy wins and
overwrites the local content on the next sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		name := activeProviderName(ctx, st, cfg)
		engine := newEngine(ctx, st, cfg, name)
		if err := engine.ResolveConflict(ctx, args[0], keepLocal); err != nil {
			fatal("resolve: %v", err)
		}
		if keepLocal {
			fmt.Println("Resolved: local content will be pushed")
		} else {
			fmt.Println("Resolved: remote content will be pulled")
		}
	},
}

func printNotes(notes []*note.Note) {
	if len(notes) == 0 {
		fmt.Println("No notes")
		return
	}
	for _, n := range notes {
		marker := " "
		if n.Pinned {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s  %-10s  %s", marker, n.ID, n.SyncStatus, n.Title)
		if len(n.Labels) > 0 {
			line += "  [" + strings.Join(n.Labels, ", ") + "]"
		}
		fmt.Println(line)
	}
}

func init() {
	notesAddCmd.Flags().StringSliceVar(&noteLabels, "label", nil, "attach a label (repeatable)")
	notesAddCmd.Flags().BoolVar(&notePinned, "pinned", false, "pin the note")
	notesListCmd.Flags().BoolVar(&listAll, "all", false, "include archived and trashed notes")
	notesUnlinkCmd.Flags().BoolVar(&unlinkRemote, "delete-remote", false, "also delete the remote copy")
	notesResolveCmd.Flags().BoolVar(&keepLocal, "local", false, "keep the local content")

	notesCmd.AddCommand(notesAddCmd)
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesSearchCmd)
	notesCmd.AddCommand(notesTrashCmd)
	notesCmd.AddCommand(notesRestoreCmd)
	notesCmd.AddCommand(notesUnlinkCmd)
	notesCmd.AddCommand(notesResolveCmd)
}
