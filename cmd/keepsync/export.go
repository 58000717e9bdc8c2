package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepsync/keepsync/internal/note"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export all notes and labels to a JSON document",
	Long: `Write the full note collection, including archived and trashed notes,
to a JSON document. The document can be re-imported with 'keepsync
import' and is the same format the file-based provider stores.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		doc, err := st.Export(ctx)
		if err != nil {
			fatal("export: %v", err)
		}
		data, err := doc.Marshal()
		if err != nil {
			fatal("export: %v", err)
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			fatal("write %s: %v", args[0], err)
		}
		fmt.Printf("Exported %d notes and %d labels to %s\n", len(doc.Notes), len(doc.Labels), args[0])
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import notes from a JSON document",
	Long: `Read notes from a JSON export document, or from a bare JSON array of
notes, and add them to the store. Imported notes get fresh ids and
start unlinked, so the next sync pushes them as new remote notes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			fatal("read %s: %v", args[0], err)
		}
		doc, err := note.ParseDocument(data)
		if err != nil {
			fatal("parse %s: %v", args[0], err)
		}
		count, err := st.Import(ctx, doc)
		if err != nil {
			fatal("import: %v", err)
		}
		fmt.Printf("Imported %d notes from %s\n", count, args[0])
	},
}
