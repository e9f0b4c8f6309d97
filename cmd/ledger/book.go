package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ui"
)

var bookCmd = &cobra.Command{
	Use:     "book",
	GroupID: "books",
	Short:   "Create, list, open and delete books",
}

var bookCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a book, optionally from a hobby template",
	Long: `Create a new book.

With --template the book takes the template's icon, color and starter
categories, and the name defaults to the template's name.

Examples:
  ledger book create "Band expenses"
  ledger book create --template music
  ledger book create "Darkroom" --template photography`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		tmplKey, _ := cmd.Flags().GetString("template")
		icon, _ := cmd.Flags().GetString("icon")
		color, _ := cmd.Flags().GetString("color")

		var (
			book *schema.Book
			cats []*schema.Category
		)
		if tmplKey != "" {
			tmpl, ok := schema.TemplateByKey(tmplKey)
			if !ok {
				return fmt.Errorf("unknown template %q (see 'ledger book templates')", tmplKey)
			}
			book = tmpl.Book(name)
			cats = tmpl.Categories()
		} else {
			if name == "" {
				return fmt.Errorf("a name is required without --template")
			}
			book = &schema.Book{Name: name}
		}
		if icon != "" {
			book.Icon = icon
		}
		if color != "" {
			book.Color = color
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()

		if err := orch.CreateBook(ctx, book, cats); err != nil {
			return err
		}
		if err := orch.SetLastOpenBook(ctx, book.ID); err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(book)
		}
		fmt.Printf("%s Created book %d: %s", ui.RenderPass("✓"), book.ID, book.Name)
		if len(cats) > 0 {
			fmt.Printf(" (%d categories)", len(cats))
		}
		fmt.Println()
		return nil
	},
}

var bookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List books",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		books, err := database.ListBooks(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(books)
		}
		if len(books) == 0 {
			fmt.Println("No books yet. Create one with 'ledger book create'.")
			return nil
		}

		current, _, _ := database.LastOpenBookID(ctx)
		rows := make([][]string, 0, len(books))
		for _, b := range books {
			mark := " "
			if b.ID == current {
				mark = ui.RenderAccent("*")
			}
			tmpl := ""
			if b.HobbyTemplate != nil {
				tmpl = *b.HobbyTemplate
			}
			rows = append(rows, []string{mark, strconv.FormatInt(b.ID, 10), b.Name, tmpl, syncMark(b.Synced())})
		}
		fmt.Println(ui.Table([]string{"", "ID", "Name", "Template", "Synced"}, rows))
		return nil
	},
}

var bookOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Make a book the default for other commands",
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

		b, err := resolveBook(ctx, database, id)
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()
		if err := orch.SetLastOpenBook(ctx, b.ID); err != nil {
			return err
		}
		fmt.Printf("%s Opened %s\n", ui.RenderPass("✓"), b.Name)
		return nil
	},
}

var bookDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a book with all its categories and transactions",
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

		b, err := resolveBook(ctx, database, id)
		if err != nil {
			return err
		}
		ok, err := confirm(fmt.Sprintf("Delete %q?", b.Name), "All of its categories and transactions are deleted too.")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled")
			return nil
		}

		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()
		if err := orch.DeleteBook(ctx, b.ID); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), b.Name)
		return nil
	},
}

var bookTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List hobby templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := schema.Templates()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(templates)
		}
		rows := make([][]string, 0, len(templates))
		for _, t := range templates {
			rows = append(rows, []string{t.Key, t.Name, strconv.Itoa(len(t.Cats))})
		}
		fmt.Println(ui.Table([]string{"Key", "Name", "Categories"}, rows))
		return nil
	},
}

func bookFlag(cmd *cobra.Command) int64 {
	id, _ := cmd.Flags().GetInt64("book")
	return id
}

func init() {
	bookCreateCmd.Flags().StringP("template", "t", "", "Hobby template key")
	bookCreateCmd.Flags().String("icon", "", "Icon name")
	bookCreateCmd.Flags().String("color", "", "Color (#RRGGBB)")

	bookCmd.AddCommand(bookCreateCmd, bookListCmd, bookOpenCmd, bookDeleteCmd, bookTemplatesCmd)
	rootCmd.AddCommand(bookCmd)
}
