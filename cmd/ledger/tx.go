package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ui"
)

var txCmd = &cobra.Command{
	Use:     "tx",
	Aliases: []string{"transaction"},
	GroupID: "books",
	Short:   "Record income and expenses",
}

var txAddCmd = &cobra.Command{
	Use:   "add <amount>",
	Short: "Record a transaction",
	Long: `Record an income or expense in a book.

--date takes YYYY-MM-DD or natural language relative to today.

Examples:
  ledger tx add 24.99 --category strings --description "Guitar strings"
  ledger tx add 150 --type income --category gigs --date "last saturday"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		typ, err := typeFlag(cmd, schema.Expense)
		if err != nil {
			return err
		}
		dateStr, _ := cmd.Flags().GetString("date")
		date, err := parseDate(dateStr, time.Now())
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		description, _ := cmd.Flags().GetString("description")

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		b, err := resolveBook(ctx, database, bookFlag(cmd))
		if err != nil {
			return err
		}
		if category == "" {
			return fmt.Errorf("--category is required")
		}

		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()

		tx := &schema.Transaction{
			BookID:      b.ID,
			Type:        typ,
			Amount:      amount,
			Description: description,
			Category:    category,
			Date:        date,
		}
		if err := orch.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tx)
		}
		fmt.Printf("%s Recorded %s %s on %s in %s\n", ui.RenderPass("✓"), tx.Type, tx.Amount.StringFixed(2), tx.Date, b.Name)
		return nil
	},
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the transactions of a book, newest first",
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
		txs, err := database.ListTransactions(ctx, b.ID, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(txs)
		}
		cats, err := database.ListCategories(ctx, b.ID, nil)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(txs))
		for _, t := range txs {
			amount := t.Amount
			if t.Type == schema.Expense {
				amount = amount.Neg()
			}
			rows = append(rows, []string{
				strconv.FormatInt(t.ID, 10), t.Date, schema.LabelFor(cats, t.Category), t.Description,
				ui.RenderMoney(amount), syncMark(t.Synced()),
			})
		}
		fmt.Printf("%s %s\n", ui.RenderAccent("Transactions of"), b.Name)
		fmt.Println(ui.Table([]string{"ID", "Date", "Category", "Description", "Amount", "Synced"}, rows))
		return nil
	},
}

var txUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a transaction",
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

		tx, err := database.GetTransaction(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("transaction %d not found", id)
		}
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("amount") {
			s, _ := flags.GetString("amount")
			if tx.Amount, err = parseAmount(s); err != nil {
				return err
			}
		}
		if flags.Changed("type") {
			if tx.Type, err = typeFlag(cmd, ""); err != nil {
				return err
			}
		}
		if flags.Changed("date") {
			s, _ := flags.GetString("date")
			if tx.Date, err = parseDate(s, time.Now()); err != nil {
				return err
			}
		}
		if flags.Changed("category") {
			tx.Category, _ = flags.GetString("category")
		}
		if flags.Changed("description") {
			tx.Description, _ = flags.GetString("description")
		}

		orch, err := newOrchestrator(database)
		if err != nil {
			return err
		}
		defer orch.Wait()
		if err := orch.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		fmt.Printf("%s Updated transaction %d\n", ui.RenderPass("✓"), tx.ID)
		return nil
	},
}

var txDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a transaction",
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

		tx, err := database.GetTransaction(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("transaction %d not found", id)
		}
		if err != nil {
			return err
		}
		ok, err := confirm(fmt.Sprintf("Delete %s of %s on %s?", tx.Type, tx.Amount.StringFixed(2), tx.Date), "")
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
		if err := orch.DeleteTransaction(ctx, tx.ID); err != nil {
			return err
		}
		fmt.Printf("%s Deleted transaction %d\n", ui.RenderPass("✓"), tx.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{txAddCmd, txListCmd} {
		c.Flags().Int64P("book", "b", 0, "Book id (default: last opened book)")
	}
	for _, c := range []*cobra.Command{txAddCmd, txListCmd, txUpdateCmd} {
		c.Flags().String("type", "", "expense or income (add defaults to expense)")
	}
	for _, c := range []*cobra.Command{txAddCmd, txUpdateCmd} {
		c.Flags().StringP("category", "c", "", "Category key")
		c.Flags().StringP("description", "d", "", "Description")
		c.Flags().String("date", "", "Date (YYYY-MM-DD or e.g. 'yesterday'; default today)")
	}
	txUpdateCmd.Flags().String("amount", "", "New amount")

	txCmd.AddCommand(txAddCmd, txListCmd, txUpdateCmd, txDeleteCmd)
	rootCmd.AddCommand(txCmd)
}
