package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ui"
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	GroupID: "books",
	Short:   "Manage the categories of a book",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <label>",
	Short: "Add a category to a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		typ, err := typeFlag(cmd, schema.Expense)
		if err != nil {
			return err
		}
		icon, _ := cmd.Flags().GetString("icon")
		color, _ := cmd.Flags().GetString("color")

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		b, err := resolveBook(ctx, database, bookFlag(cmd))
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()

		c, err := orch.AddCategory(ctx, b.ID, args[0], icon, color, typ)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(c)
		}
		fmt.Printf("%s Added %s category %s (%s) to %s\n", ui.RenderPass("✓"), c.Type, c.Label, c.Slug, b.Name)
		return nil
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the categories of a book",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		b, err := resolveBook(ctx, database, bookFlag(cmd))
		if err != nil {
			return err
		}

		var filter *schema.EntryType
		if cmd.Flags().Changed("type") {
			typ, err := typeFlag(cmd, "")
			if err != nil {
				return err
			}
			filter = &typ
		}
		cats, err := database.ListCategories(ctx, b.ID, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cats)
		}

		rows := make([][]string, 0, len(cats))
		for _, c := range cats {
			used, err := database.CategoryUsage(ctx, c)
			if err != nil {
				return err
			}
			rows = append(rows, []string{
				strconv.FormatInt(c.ID, 10), c.Slug, c.Label, string(c.Type), strconv.Itoa(used), syncMark(c.Synced()),
			})
		}
		fmt.Printf("%s %s\n", ui.RenderAccent("Categories of"), b.Name)
		fmt.Println(ui.Table([]string{"ID", "Key", "Label", "Type", "Used", "Synced"}, rows))
		return nil
	},
}

var categoryUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a category's label, icon, color or position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		c, err := database.GetCategory(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("category %d not found", id)
		}
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("label") {
			c.Label, _ = cmd.Flags().GetString("label")
		}
		if cmd.Flags().Changed("icon") {
			c.Icon, _ = cmd.Flags().GetString("icon")
		}
		if cmd.Flags().Changed("color") {
			c.Color, _ = cmd.Flags().GetString("color")
		}
		if cmd.Flags().Changed("order") {
			c.SortOrder, _ = cmd.Flags().GetInt("order")
		}

		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()
		if err := orch.UpdateCategory(ctx, c); err != nil {
			return err
		}
		fmt.Printf("%s Updated category %s\n", ui.RenderPass("✓"), c.Label)
		return nil
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a category (its transactions become Uncategorized)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		c, err := database.GetCategory(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("category %d not found", id)
		}
		if err != nil {
			return err
		}
		used, err := database.CategoryUsage(ctx, c)
		if err != nil {
			return err
		}
		if used > 0 {
			ok, err := confirm(fmt.Sprintf("Delete %q?", c.Label),
				fmt.Sprintf("%d transactions will show as %s.", used, schema.Uncategorized))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Cancelled")
				return nil
			}
		}

		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()
		if err := orch.DeleteCategory(ctx, c.ID); err != nil {
			return err
		}
		fmt.Printf("%s Deleted category %s\n", ui.RenderPass("✓"), c.Label)
		return nil
	},
}

// typeFlag reads --type, falling back to def when the flag is unset.
func typeFlag(cmd *cobra.Command, def schema.EntryType) (schema.EntryType, error) {
	if !cmd.Flags().Changed("type") && def != "" {
		return def, nil
	}
	s, _ := cmd.Flags().GetString("type")
	return schema.ParseEntryType(s)
}

func init() {
	for _, c := range []*cobra.Command{categoryAddCmd, categoryListCmd} {
		c.Flags().Int64P("book", "b", 0, "Book id (default: last opened book)")
		c.Flags().String("type", "", "expense or income")
	}
	categoryAddCmd.Flags().String("icon", "tag", "Icon name")
	categoryAddCmd.Flags().String("color", "#808080", "Color (#RRGGBB)")

	categoryUpdateCmd.Flags().String("label", "", "New label")
	categoryUpdateCmd.Flags().String("icon", "", "New icon")
	categoryUpdateCmd.Flags().String("color", "", "New color")
	categoryUpdateCmd.Flags().Int("order", 0, "New sort position")

	categoryCmd.AddCommand(categoryAddCmd, categoryListCmd, categoryUpdateCmd, categoryDeleteCmd)
	rootCmd.AddCommand(categoryCmd)
}
