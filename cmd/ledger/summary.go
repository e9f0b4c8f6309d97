package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/intheblack/ledger/internal/ledger/db"
	"github.com/intheblack/ledger/internal/ledger/schema"
	"github.com/intheblack/ledger/internal/ui"
)

type summaryOutput struct {
	BookID     int64              `json:"book_id"`
	Book       string             `json:"book"`
	Period     string             `json:"period"`
	Totals     *db.Totals         `json:"totals"`
	Expenses   []db.CategoryTotal `json:"expenses"`
	Income     []db.CategoryTotal `json:"income"`
	InTheBlack bool               `json:"in_the_black"`
}

var summaryCmd = &cobra.Command{
	Use:     "summary",
	GroupID: "books",
	Short:   "Show totals and a category breakdown for a book",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		month, _ := cmd.Flags().GetBool("month")
		period := db.AllTime
		if month {
			period = db.ThisMonth
		}

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		b, err := resolveBook(ctx, database, bookFlag(cmd))
		if err != nil {
			return err
		}

		totals, err := database.Totals(ctx, b.ID, period)
		if err != nil {
			return err
		}
		expenses, err := database.CategoryBreakdown(ctx, b.ID, schema.Expense, period)
		if err != nil {
			return err
		}
		income, err := database.CategoryBreakdown(ctx, b.ID, schema.Income, period)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(summaryOutput{
				BookID: b.ID, Book: b.Name, Period: period.String(), Totals: totals,
				Expenses: expenses, Income: income, InTheBlack: totals.InTheBlack(),
			})
		}

		fmt.Printf("\n%s %s (%s)\n\n", ui.RenderAccent(b.Name), ui.RenderMuted("summary"), period)
		fmt.Printf("Income:   %s\n", ui.RenderMoney(totals.Income))
		fmt.Printf("Expenses: %s\n", ui.RenderMoney(totals.Expenses.Neg()))
		fmt.Printf("Net:      %s\n", ui.RenderMoney(totals.Net))
		if totals.InTheBlack() {
			fmt.Printf("\n%s In the black\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("\n%s In the red\n", ui.RenderWarn("⚠"))
		}

		for _, section := range []struct {
			title string
			rows  []db.CategoryTotal
		}{{"Expenses by category", expenses}, {"Income by category", income}} {
			if len(section.rows) == 0 {
				continue
			}
			rows := make([][]string, 0, len(section.rows))
			for _, r := range section.rows {
				rows = append(rows, []string{r.Label, r.Total.StringFixed(2), strconv.Itoa(r.Count), fmt.Sprintf("%.1f%%", r.Percentage)})
			}
			fmt.Printf("\n%s\n", section.title)
			fmt.Println(ui.Table([]string{"Category", "Total", "Count", "Share"}, rows))
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().Int64P("book", "b", 0, "Book id (default: last opened book)")
	summaryCmd.Flags().Bool("month", false, "Only this month")
	rootCmd.AddCommand(summaryCmd)
}
