package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/migrate"
	"github.com/intheblack/ledger/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file.jsonl>",
	GroupID: "maint",
	Short:   "Export books, categories, transactions and settings to JSONL",
	Long: `Export the local ledger to a JSONL file, one record per line.

Server ids and the sync watermark are not exported. An existing file is
kept as a timestamped backup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		if _, err := os.Stat(path); err == nil {
			backup := migrate.BackupName(path, time.Now())
			if err := os.Rename(path, backup); err != nil {
				return fmt.Errorf("failed to back up %s: %w", path, err)
			}
			fmt.Printf("   Backup: %s\n", backup)
		}

		result, err := migrate.ExportFile(cmd.Context(), database, path)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(result)
		}
		fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), path)
		printMigrateResult(result)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "maint",
	Short:   "Import a JSONL export as new local books",
	Long: `Import a JSONL export. Every book is created as a new, unsynced book
alongside existing data; run 'ledger sync push-all' to upload it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		result, err := migrate.ImportFile(cmd.Context(), database, args[0], migrate.ImportOptions{DryRun: dryRun})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(result)
		}
		if dryRun {
			fmt.Printf("%s Dry run of %s\n", ui.RenderAccent("🔍"), args[0])
		} else {
			fmt.Printf("%s Imported %s\n", ui.RenderPass("✓"), args[0])
		}
		printMigrateResult(result)
		return nil
	},
}

func printMigrateResult(r *migrate.Result) {
	fmt.Printf("   Books: %d\n", r.Books)
	fmt.Printf("   Categories: %d\n", r.Categories)
	fmt.Printf("   Transactions: %d\n", r.Transactions)
	fmt.Printf("   Settings: %d\n", r.Settings)
	if len(r.Errors) > 0 {
		fmt.Printf("\n%s %d records skipped:\n", ui.RenderWarn("⚠"), len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("   %s\n", e)
		}
	}
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	rootCmd.AddCommand(exportCmd, importCmd)
}
